package engine_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"certline/internal/config"
	"certline/internal/db"
	"certline/internal/engine"
	"certline/internal/mail"
	"certline/internal/migrate"
	"certline/internal/workspace"
	"certline/internal/workspace/workspacetest"
)

type sentMail struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (s *sentMail) Send(ctx context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sentMail) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type failingMail struct {
	failTo string
	sent   sentMail
}

func (f *failingMail) Send(ctx context.Context, msg mail.Message) error {
	if msg.To == f.failTo {
		return fmt.Errorf("smtp rejected %s", msg.To)
	}
	return f.sent.Send(ctx, msg)
}

type testEnv struct {
	Engine *engine.Engine
	Server *workspacetest.Server
	Mail   *sentMail
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	srv := workspacetest.New(t)
	srv.AddTemplate("tmpl-1", "Awarded to {{Name}}")
	srv.SetSheet("sheet-1", "Recipients", [][]string{
		{"Name", "Email", "Certificate"},
		{"Ana Silva", " ana@example.com ", ""},
		{"Bob", "", ""},
		{"Carla", "carla@example.com", "old-file"},
	})

	cfg := config.Default(srv.URL())
	cfg.Template.Presentation = "tmpl-1"
	cfg.Destination.Folder = "folder-1"
	cfg.Roster.Spreadsheet = "sheet-1"

	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sender := &sentMail{}
	e := engine.New(conn, cfg, workspace.New(srv.URL(), "test-token"), sender)
	return testEnv{Engine: e, Server: srv, Mail: sender, Ctx: context.Background()}
}

func TestLoadSkipsInvalidRowsAndTrims(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := env.Engine.Recipients()
	if len(got) != 2 {
		t.Fatalf("expected 2 recipients, got %d: %+v", len(got), got)
	}
	if got[0].Name != "Ana Silva" || got[0].Email != "ana@example.com" {
		t.Fatalf("expected trimmed first row in order, got %+v", got[0])
	}
	if got[1].Certificate != "old-file" {
		t.Fatalf("expected prior reference preserved, got %+v", got[1])
	}
}

func TestLoadReplacesList(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(env.Engine.Recipients()); n != 2 {
		t.Fatalf("expected list replaced on reload, got %d recipients", n)
	}
}

func TestLoadMissingHeaderFails(t *testing.T) {
	env := newTestEnv(t)
	env.Server.SetSheet("sheet-1", "Recipients", [][]string{
		{"Name", "Mail", "Certificate"},
		{"Ana", "ana@example.com", ""},
	})
	err := env.Engine.Load(env.Ctx)
	if err == nil || !strings.Contains(err.Error(), `"Email"`) {
		t.Fatalf("expected missing email column error, got %v", err)
	}
}

func TestLoadMissingCertificateHeaderTolerated(t *testing.T) {
	env := newTestEnv(t)
	env.Server.SetSheet("sheet-1", "Recipients", [][]string{
		{"Name", "Email"},
		{"Ana", "ana@example.com"},
	})
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := env.Engine.Recipients()
	if len(got) != 1 || got[0].Certificate != "" {
		t.Fatalf("expected one recipient with empty certificate, got %+v", got)
	}
}

func TestGenerateAndPersist(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.GenerateAll(env.Ctx); err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := env.Engine.Recipients()
	for _, r := range got {
		if r.Certificate == "" {
			t.Fatalf("expected certificate assigned for %s", r.Email)
		}
	}
	if got[0].Certificate == got[1].Certificate {
		t.Fatalf("expected distinct references")
	}
	// Two valid recipients, one pipeline run each: copy + stored pdf per run.
	if n := env.Server.CountFiles("folder-1"); n != 4 {
		t.Fatalf("expected 4 files in destination (2 copies + 2 pdfs), got %d", n)
	}

	if err := env.Engine.Persist(env.Ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(env.Server.Writes) != 1 {
		t.Fatalf("expected a single bulk write, got %d", len(env.Server.Writes))
	}
	w := env.Server.Writes[0]
	if w.Row != 2 || w.Col != 1 {
		t.Fatalf("expected write at row 2 col 1, got %d,%d", w.Row, w.Col)
	}
	if len(w.Values) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(w.Values))
	}
	if w.Values[0][0] != "Ana Silva" || w.Values[0][2] != got[0].Certificate {
		t.Fatalf("unexpected first row %v", w.Values[0])
	}
}

func TestPersistEmptyRosterNoWrite(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Persist(env.Ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(env.Server.Writes) != 0 {
		t.Fatalf("expected zero writes, got %d", len(env.Server.Writes))
	}
}

func TestPersistMissingHeaderFails(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	// Headers edited between load and persist: fail instead of offsetting fields.
	env.Server.SetSheet("sheet-1", "Recipients", [][]string{
		{"Name", "Email", "Cert"},
	})
	if err := env.Engine.Persist(env.Ctx); err == nil {
		t.Fatalf("expected header resolution failure")
	}
	if len(env.Server.Writes) != 0 {
		t.Fatalf("expected no write after header failure")
	}
}

func TestNotifySkipsMissingCertificate(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	// Ana has no certificate yet; only Carla's prior reference is sendable.
	env.Server.AddTemplate("old-file", "prior certificate")
	if err := env.Engine.NotifyAll(env.Ctx, mail.Options{}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if env.Mail.count() != 1 {
		t.Fatalf("expected 1 send, got %d", env.Mail.count())
	}
	msg := env.Mail.msgs[0]
	if msg.To != "carla@example.com" {
		t.Fatalf("unexpected recipient %s", msg.To)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].MIMEType != "application/pdf" {
		t.Fatalf("expected single pdf attachment, got %+v", msg.Attachments)
	}
	if msg.Subject != "Your certificate is ready" {
		t.Fatalf("expected recipient default subject, got %q", msg.Subject)
	}
	if !strings.Contains(msg.HTMLBody, "Carla") {
		t.Fatalf("expected name interpolated into default body: %s", msg.HTMLBody)
	}
}

func TestNotifyCallerOptionsWin(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	env.Server.AddTemplate("old-file", "prior certificate")
	opts := mail.Options{Subject: "Congrats", HTMLBody: "<p>well done</p>", SenderName: "The Team"}
	if err := env.Engine.NotifyAll(env.Ctx, opts); err != nil {
		t.Fatal(err)
	}
	msg := env.Mail.msgs[0]
	if msg.Subject != "Congrats" || msg.HTMLBody != "<p>well done</p>" || msg.SenderName != "The Team" {
		t.Fatalf("caller options not applied: %+v", msg)
	}
}

func TestGenerateKeepGoingCollectsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Policy.KeepGoing = true
	env.Server.FailExportFor = "Ana"
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	err := env.Engine.GenerateAll(env.Ctx)
	if err == nil || !strings.Contains(err.Error(), "ana@example.com") {
		t.Fatalf("expected joined failure naming the recipient, got %v", err)
	}
	got := env.Engine.Recipients()
	if got[1].Certificate == "" || got[1].Certificate == "old-file" {
		t.Fatalf("expected remaining recipient still processed, got %+v", got[1])
	}
}

func TestGenerateFailFastAborts(t *testing.T) {
	env := newTestEnv(t)
	env.Server.FailExportFor = "Ana"
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.GenerateAll(env.Ctx); err == nil {
		t.Fatalf("expected abort on first failure")
	}
	got := env.Engine.Recipients()
	if got[1].Certificate != "old-file" {
		t.Fatalf("expected remaining recipient untouched, got %+v", got[1])
	}
}

func TestNotifyKeepGoing(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Policy.KeepGoing = true
	env.Server.SetSheet("sheet-1", "Recipients", [][]string{
		{"Name", "Email", "Certificate"},
		{"Ana", "ana@example.com", "old-file"},
		{"Carla", "carla@example.com", "old-file"},
	})
	env.Server.AddTemplate("old-file", "prior certificate")
	if err := env.Engine.Load(env.Ctx); err != nil {
		t.Fatal(err)
	}
	failing := &failingMail{failTo: "ana@example.com"}
	env.Engine.Mail = failing
	err := env.Engine.NotifyAll(env.Ctx, mail.Options{})
	if err == nil || !strings.Contains(err.Error(), "ana@example.com") {
		t.Fatalf("expected joined notify failure, got %v", err)
	}
	if failing.sent.count() != 1 {
		t.Fatalf("expected remaining recipient notified, got %d sends", failing.sent.count())
	}
}

func TestRunRecordsEvents(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Run(env.Ctx, engine.RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE run_id=?`, env.Engine.RunID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	types := map[string]bool{}
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatal(err)
		}
		types[typ] = true
	}
	for _, want := range []string{"run.started", "roster.loaded", "artifact.created", "roster.persisted", "run.completed"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
