// Package workspacetest hosts an in-memory document platform for tests: files
// with text content, case-insensitive text replacement, PDF "export", folders,
// and sheet values, all behind the same REST surface the real client speaks.
package workspacetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// File is one stored file.
type File struct {
	ID       string
	Name     string
	FolderID string
	MIMEType string
	Text     string
	Data     []byte
	Trashed  bool
}

// WriteCall records one bulk sheet write.
type WriteCall struct {
	Spreadsheet string
	Sheet       string
	Row         int
	Col         int
	Values      [][]string
}

// Server is the fake platform.
type Server struct {
	mu     sync.Mutex
	srv    *httptest.Server
	seq    int
	Files  map[string]*File
	Sheets map[string][][]string
	Writes []WriteCall

	// FailExportFor makes PDF export fail for files whose name contains the
	// substring, to exercise the no-rollback path.
	FailExportFor string
}

// New starts a fake platform server torn down with the test.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		Files:  map[string]*File{},
		Sheets: map[string][][]string{},
	}
	r := chi.NewRouter()
	r.Post("/v1/files/{id}/copy", s.copyFile)
	r.Post("/v1/presentations/{id}/text:replace", s.replaceText)
	r.Get("/v1/files/{id}/export", s.exportFile)
	r.Get("/v1/files/{id}/content", s.fileContent)
	r.Delete("/v1/files/{id}", s.trashFile)
	r.Post("/v1/folders/{id}/files", s.createFile)
	r.Get("/v1/spreadsheets/{id}/values/{sheet}", s.readSheet)
	r.Put("/v1/spreadsheets/{id}/values/{sheet}", s.writeSheet)
	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the base URL of the fake platform.
func (s *Server) URL() string { return s.srv.URL }

// AddTemplate registers a presentation file with text content.
func (s *Server) AddTemplate(id, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files[id] = &File{ID: id, Name: id, Text: text}
}

// SetSheet sets the full contents of a sheet. Row 0 is the header row.
func (s *Server) SetSheet(spreadsheetID, sheetName string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sheets[spreadsheetID+"/"+sheetName] = rows
}

// File returns a stored file by id.
func (s *Server) File(id string) *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Files[id]
}

// CountFiles returns the number of files in a folder, trashed included.
func (s *Server) CountFiles(folderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.Files {
		if f.FolderID == folderID {
			n++
		}
	}
	return n
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Server) copyFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FolderID string `json:"folder_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.Files[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	f := &File{
		ID:       s.nextID("copy"),
		Name:     req.Name,
		FolderID: req.FolderID,
		Text:     src.Text,
	}
	s.Files[f.ID] = f
	writeJSON(w, map[string]string{"id": f.ID, "name": f.Name})
}

func (s *Server) replaceText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Find      string `json:"find"`
		Replace   string `json:"replace"`
		MatchCase bool   `json:"match_case"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.Files[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	text, count := replaceAll(f.Text, req.Find, req.Replace, req.MatchCase)
	f.Text = text
	writeJSON(w, map[string]int{"occurrences": count})
}

// replaceAll substitutes every occurrence, case-insensitively unless matchCase.
func replaceAll(text, find, replace string, matchCase bool) (string, int) {
	if find == "" {
		return text, 0
	}
	var b strings.Builder
	count := 0
	haystack := text
	needle := find
	if !matchCase {
		haystack = strings.ToLower(text)
		needle = strings.ToLower(find)
	}
	for {
		i := strings.Index(haystack, needle)
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i])
		b.WriteString(replace)
		text = text[i+len(find):]
		haystack = haystack[i+len(needle):]
		count++
	}
	return b.String(), count
}

func (s *Server) exportFile(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") != "pdf" {
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.Files[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if s.FailExportFor != "" && strings.Contains(f.Name, s.FailExportFor) {
		http.Error(w, "export quota exceeded", http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	fmt.Fprintf(w, "%%PDF %s", f.Text)
}

func (s *Server) fileContent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.Files[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Write(f.Data)
}

func (s *Server) trashFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.Files[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	f.Trashed = true
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &File{
		ID:       s.nextID("file"),
		Name:     r.URL.Query().Get("name"),
		FolderID: chi.URLParam(r, "id"),
		MIMEType: r.URL.Query().Get("mime_type"),
		Data:     data,
	}
	s.Files[f.ID] = f
	writeJSON(w, map[string]string{"id": f.ID, "name": f.Name})
}

func (s *Server) readSheet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chi.URLParam(r, "id") + "/" + chi.URLParam(r, "sheet")
	rows, ok := s.Sheets[key]
	if !ok {
		http.Error(w, "sheet not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"values": rows})
}

func (s *Server) writeSheet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Values [][]string `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	row, _ := strconv.Atoi(r.URL.Query().Get("row"))
	col, _ := strconv.Atoi(r.URL.Query().Get("col"))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes = append(s.Writes, WriteCall{
		Spreadsheet: chi.URLParam(r, "id"),
		Sheet:       chi.URLParam(r, "sheet"),
		Row:         row,
		Col:         col,
		Values:      req.Values,
	})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
