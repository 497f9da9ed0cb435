// Package workspace is a thin HTTP client for the document-platform API that
// hosts the slide templates, stored files, and roster spreadsheets. It wraps
// the remote capabilities the batch needs and nothing more; all the heavy
// lifting (text substitution, PDF rendering, sheet storage) happens server side.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the platform REST API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 30 * time.Second,
	}
}

// FileRef identifies a stored file.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link string `json:"link,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workspace api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CopyFile clones a file into a folder under a new name.
func (c *Client) CopyFile(ctx context.Context, fileID, folderID, name string) (FileRef, error) {
	body := map[string]any{
		"folder_id": folderID,
		"name":      name,
	}
	var resp FileRef
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/files/%s/copy", url.PathEscape(fileID)), body, &resp)
	return resp, err
}

// ReplaceText replaces every case-insensitive occurrence of find inside the
// presentation with replace, in one request. Returns the occurrence count.
func (c *Client) ReplaceText(ctx context.Context, presentationID, find, replace string) (int, error) {
	body := map[string]any{
		"find":       find,
		"replace":    replace,
		"match_case": false,
	}
	var resp struct {
		Occurrences int `json:"occurrences"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/presentations/%s/text:replace", url.PathEscape(presentationID)), body, &resp)
	return resp.Occurrences, err
}

// ExportPDF renders a file as PDF and returns the raw bytes.
func (c *Client) ExportPDF(ctx context.Context, fileID string) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, fmt.Sprintf("v1/files/%s/export?format=pdf", url.PathEscape(fileID)), nil, "")
}

// CreateFile stores a new blob in a folder.
func (c *Client) CreateFile(ctx context.Context, folderID, name, mimeType string, data []byte) (FileRef, error) {
	endpoint := fmt.Sprintf("v1/folders/%s/files?name=%s&mime_type=%s",
		url.PathEscape(folderID), url.QueryEscape(name), url.QueryEscape(mimeType))
	raw, err := c.doRaw(ctx, http.MethodPost, endpoint, data, mimeType)
	if err != nil {
		return FileRef{}, err
	}
	var resp FileRef
	if err := json.Unmarshal(raw, &resp); err != nil {
		return FileRef{}, fmt.Errorf("decode create file response: %w", err)
	}
	return resp, nil
}

// Download fetches the stored bytes of a file.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, fmt.Sprintf("v1/files/%s/content", url.PathEscape(fileID)), nil, "")
}

// TrashFile marks a file for deletion.
func (c *Client) TrashFile(ctx context.Context, fileID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("v1/files/%s", url.PathEscape(fileID)), nil, nil)
}

// ReadSheet returns the full used range of a sheet. Row 0 is the header row.
func (c *Client) ReadSheet(ctx context.Context, spreadsheetID, sheetName string) ([][]string, error) {
	var resp struct {
		Values [][]string `json:"values"`
	}
	endpoint := fmt.Sprintf("v1/spreadsheets/%s/values/%s", url.PathEscape(spreadsheetID), url.PathEscape(sheetName))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Values, err
}

// WriteSheet bulk-writes values starting at the given 1-based row and column.
func (c *Client) WriteSheet(ctx context.Context, spreadsheetID, sheetName string, row, col int, values [][]string) error {
	body := map[string]any{
		"values": values,
	}
	endpoint := fmt.Sprintf("v1/spreadsheets/%s/values/%s?row=%d&col=%d",
		url.PathEscape(spreadsheetID), url.PathEscape(sheetName), row, col)
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	raw, err := c.doRaw(ctx, method, endpoint, buf.Bytes(), "application/json")
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
