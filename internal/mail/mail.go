// Package mail defines the outbound message model and the Sender contract the
// batch uses to deliver certificates. Transport lives behind the interface so
// tests can swap in a recorder.
package mail

import "context"

// Message is one fully-prepared outbound email.
type Message struct {
	SenderName  string
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment is a file attached to a message.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Sender delivers prepared messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Options override per-recipient message defaults. Empty fields fall back to
// the recipient's own subject and body text.
type Options struct {
	Subject    string `json:"subject,omitempty"`
	HTMLBody   string `json:"html_body,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}
