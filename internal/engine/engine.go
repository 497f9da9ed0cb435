// Package engine drives the certificate batch: load the roster, generate one
// artifact per recipient, write references back, send notifications.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"certline/internal/artifact"
	"certline/internal/config"
	"certline/internal/domain"
	"certline/internal/events"
	"certline/internal/mail"
	"certline/internal/workspace"
)

// Feedback receives human-readable progress lines.
type Feedback interface {
	Emit(msg string)
}

// WriterFeedback emits feedback lines to an io.Writer, one per line.
type WriterFeedback struct {
	W io.Writer
}

func (f WriterFeedback) Emit(msg string) {
	fmt.Fprintln(f.W, msg)
}

// Engine holds everything one batch needs. The recipient list is in-memory
// state between Load and the operations that consume it; the post-Load
// operations may run in any order, zero or more times, and are all no-ops over
// an empty list.
type Engine struct {
	Workspace *workspace.Client
	Mail      mail.Sender
	DB        *sql.DB
	Events    events.Writer
	Config    *config.Config
	Feedback  Feedback
	Now       func() time.Time
	RunID     string

	recipients []domain.Recipient
}

func New(conn *sql.DB, cfg *config.Config, ws *workspace.Client, sender mail.Sender) *Engine {
	return &Engine{
		Workspace: ws,
		Mail:      sender,
		DB:        conn,
		Events:    events.Writer{DB: conn},
		Config:    cfg,
		Now:       time.Now,
		RunID:     uuid.NewString(),
	}
}

// Recipients returns a copy of the loaded recipient list.
func (e *Engine) Recipients() []domain.Recipient {
	out := make([]domain.Recipient, len(e.recipients))
	copy(out, e.recipients)
	return out
}

// Load reads the roster sheet and replaces the recipient list. Row 0 is the
// header row; the name and email columns must resolve by exact header match or
// Load fails. A missing certificate column is tolerated (values stay empty).
// Rows with an empty name or email cell are skipped.
func (e *Engine) Load(ctx context.Context) error {
	rows, err := e.Workspace.ReadSheet(ctx, e.Config.Roster.Spreadsheet, e.Config.Roster.Sheet)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q has no header row", e.Config.Roster.Sheet)
	}
	cols := e.Config.Roster.Columns
	nameIdx := headerIndex(rows[0], cols.Name)
	emailIdx := headerIndex(rows[0], cols.Email)
	certIdx := headerIndex(rows[0], cols.Certificate)
	if nameIdx < 0 {
		return fmt.Errorf("column %q not found in sheet %q", cols.Name, e.Config.Roster.Sheet)
	}
	if emailIdx < 0 {
		return fmt.Errorf("column %q not found in sheet %q", cols.Email, e.Config.Roster.Sheet)
	}

	var list []domain.Recipient
	for _, row := range rows[1:] {
		r := domain.FromRecord(map[string]string{
			domain.RecordName:        cell(row, nameIdx),
			domain.RecordEmail:       cell(row, emailIdx),
			domain.RecordCertificate: cell(row, certIdx),
		})
		if !r.Valid() {
			continue
		}
		list = append(list, r)
	}
	e.recipients = list
	if err := e.Events.Append(ctx, "roster.loaded", e.RunID, "roster", e.Config.Roster.Spreadsheet, events.EventPayload{"recipients": len(list)}); err != nil {
		return err
	}
	e.emit(fmt.Sprintf("loaded %d recipients from %s", len(list), e.Config.Roster.Sheet))
	return nil
}

// GenerateAll runs the artifact pipeline for every loaded recipient and assigns
// the resulting references. With keep_going off, the first failure aborts the
// remaining batch; with it on, failures are collected and reported together.
func (e *Engine) GenerateAll(ctx context.Context) error {
	gen := &artifact.Generator{
		Client:      e.Workspace,
		TemplateID:  e.Config.Template.Presentation,
		FolderID:    e.Config.Destination.Folder,
		Placeholder: e.Config.Template.Placeholder,
		Feedback:    e.Feedback,
	}
	var errs []error
	for i := range e.recipients {
		r := &e.recipients[i]
		art, err := gen.Generate(ctx, artifact.Job{
			Name:        "Certificate: " + r.Name,
			Replacement: r.Name,
			DiscardCopy: e.Config.Policy.DiscardCopy,
		})
		if err != nil {
			appendErr := e.Events.Append(ctx, "artifact.failed", e.RunID, "recipient", r.Email, events.EventPayload{"error": err.Error()})
			if appendErr != nil {
				return appendErr
			}
			err = fmt.Errorf("generate for %s: %w", r.Email, err)
			if !e.Config.Policy.KeepGoing {
				return err
			}
			errs = append(errs, err)
			continue
		}
		r.Certificate = art.ID
		if err := e.Events.Append(ctx, "artifact.created", e.RunID, "recipient", r.Email, events.EventPayload{"file_id": art.ID, "name": art.Name}); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// Persist writes name, email, and certificate reference back to the sheet in a
// single bulk write starting at row 2. Columns are re-resolved against the live
// header row; all three headers must resolve, otherwise a reordered or edited
// sheet would silently receive misaligned fields. Zero recipients: no write.
func (e *Engine) Persist(ctx context.Context) error {
	if len(e.recipients) == 0 {
		return nil
	}
	rows, err := e.Workspace.ReadSheet(ctx, e.Config.Roster.Spreadsheet, e.Config.Roster.Sheet)
	if err != nil {
		return fmt.Errorf("read roster headers: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q has no header row", e.Config.Roster.Sheet)
	}
	cols := e.Config.Roster.Columns
	nameIdx := headerIndex(rows[0], cols.Name)
	emailIdx := headerIndex(rows[0], cols.Email)
	certIdx := headerIndex(rows[0], cols.Certificate)
	for header, idx := range map[string]int{cols.Name: nameIdx, cols.Email: emailIdx, cols.Certificate: certIdx} {
		if idx < 0 {
			return fmt.Errorf("column %q not found in sheet %q", header, e.Config.Roster.Sheet)
		}
	}
	width := maxInt(nameIdx, emailIdx, certIdx) + 1
	out := make([][]string, 0, len(e.recipients))
	for _, r := range e.recipients {
		row := make([]string, width)
		row[nameIdx] = r.Name
		row[emailIdx] = r.Email
		row[certIdx] = r.Certificate
		out = append(out, row)
	}
	if err := e.Workspace.WriteSheet(ctx, e.Config.Roster.Spreadsheet, e.Config.Roster.Sheet, 2, 1, out); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	if err := e.Events.Append(ctx, "roster.persisted", e.RunID, "roster", e.Config.Roster.Spreadsheet, events.EventPayload{"rows": len(out)}); err != nil {
		return err
	}
	e.emit(fmt.Sprintf("persisted %d rows to %s", len(out), e.Config.Roster.Sheet))
	return nil
}

// NotifyAll sends one message per loaded recipient with the artifact attached.
// Recipients without a certificate reference are silently skipped. The same
// keep_going policy as GenerateAll applies.
func (e *Engine) NotifyAll(ctx context.Context, opts mail.Options) error {
	opts = e.MailDefaults(opts)
	var errs []error
	for _, r := range e.recipients {
		if err := e.notify(ctx, r, opts); err != nil {
			appendErr := e.Events.Append(ctx, "message.failed", e.RunID, "recipient", r.Email, events.EventPayload{"error": err.Error()})
			if appendErr != nil {
				return appendErr
			}
			err = fmt.Errorf("notify %s: %w", r.Email, err)
			if !e.Config.Policy.KeepGoing {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MailDefaults fills empty option fields from the configured mail section.
// Fields still empty after that fall back to the recipient defaults in notify.
func (e *Engine) MailDefaults(opts mail.Options) mail.Options {
	if opts.Subject == "" {
		opts.Subject = e.Config.Mail.Subject
	}
	if opts.HTMLBody == "" {
		opts.HTMLBody = e.Config.Mail.HTMLBody
	}
	if opts.SenderName == "" {
		opts.SenderName = e.Config.Mail.SenderName
	}
	return opts
}

func (e *Engine) notify(ctx context.Context, r domain.Recipient, opts mail.Options) error {
	if r.Certificate == "" {
		e.emit(fmt.Sprintf("no certificate for %s, skipping", r.Email))
		return nil
	}
	data, err := e.Workspace.Download(ctx, r.Certificate)
	if err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}
	subject := opts.Subject
	if subject == "" {
		subject = r.DefaultSubject()
	}
	body := opts.HTMLBody
	if body == "" {
		body = r.DefaultBody()
	}
	msg := mail.Message{
		SenderName: opts.SenderName,
		To:         r.Email,
		Subject:    subject,
		HTMLBody:   body,
		Attachments: []mail.Attachment{{
			Filename: "Certificate: " + r.Name + ".pdf",
			MIMEType: "application/pdf",
			Data:     data,
		}},
	}
	if err := e.Mail.Send(ctx, msg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, "message.sent", e.RunID, "recipient", r.Email, events.EventPayload{"subject": subject}); err != nil {
		return err
	}
	e.emit(fmt.Sprintf("sent certificate to %s", r.Email))
	return nil
}

// RunOptions control a full batch run.
type RunOptions struct {
	Notify bool
	Mail   mail.Options
}

// Run executes the whole batch: load, generate, persist, and optionally notify.
func (e *Engine) Run(ctx context.Context, opts RunOptions) error {
	if err := e.Events.Append(ctx, "run.started", e.RunID, "run", e.RunID, nil); err != nil {
		return err
	}
	if err := e.Load(ctx); err != nil {
		return err
	}
	if err := e.GenerateAll(ctx); err != nil {
		return err
	}
	if err := e.Persist(ctx); err != nil {
		return err
	}
	if opts.Notify {
		if err := e.NotifyAll(ctx, opts.Mail); err != nil {
			return err
		}
	}
	return e.Events.Append(ctx, "run.completed", e.RunID, "run", e.RunID, events.EventPayload{"recipients": len(e.recipients)})
}

func (e *Engine) emit(msg string) {
	if e.Feedback != nil {
		e.Feedback.Emit(msg)
	}
}

// headerIndex resolves a column header to its index by exact match against the
// trimmed header cells. Returns -1 when absent.
func headerIndex(headers []string, name string) int {
	for i, h := range headers {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func maxInt(a int, rest ...int) int {
	m := a
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
