package domain

import (
	"fmt"
	"strings"
)

// Record keys used when serializing a Recipient to a plain mapping.
const (
	RecordName        = "name"
	RecordEmail       = "email"
	RecordCertificate = "certificate"
)

// Recipient is one roster row: who gets a certificate and where it ended up.
type Recipient struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Certificate string `json:"certificate,omitempty"`
}

// Valid reports whether the recipient can be processed at all.
func (r Recipient) Valid() bool {
	return r.Name != "" && r.Email != ""
}

// ToRecord serializes the recipient to a plain mapping. The certificate key is
// always present, empty when no artifact has been generated yet.
func (r Recipient) ToRecord() map[string]string {
	return map[string]string{
		RecordName:        r.Name,
		RecordEmail:       r.Email,
		RecordCertificate: r.Certificate,
	}
}

// FromRecord builds a Recipient from a plain mapping. A missing certificate key
// yields an empty reference, not an error.
func FromRecord(rec map[string]string) Recipient {
	return Recipient{
		Name:        strings.TrimSpace(rec[RecordName]),
		Email:       strings.TrimSpace(rec[RecordEmail]),
		Certificate: strings.TrimSpace(rec[RecordCertificate]),
	}
}

// DefaultSubject is the message subject used when the caller supplies none.
func (r Recipient) DefaultSubject() string {
	return "Your certificate is ready"
}

// DefaultBody is the message body used when the caller supplies none.
func (r Recipient) DefaultBody() string {
	return fmt.Sprintf("<p>Hi %s,</p><p>Congratulations! Your certificate is attached.</p>", r.Name)
}

// Artifact is a stored file reference in the destination folder.
type Artifact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link string `json:"link,omitempty"`
}

// Event is one run-log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
