package mail

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

func TestBuildMIMEWithAttachment(t *testing.T) {
	msg := Message{
		SenderName: "Certificates",
		To:         "ana@example.com",
		Subject:    "Your certificate is ready",
		HTMLBody:   "<p>Hi Ana</p>",
		Attachments: []Attachment{{
			Filename: "Certificate: Ana.pdf",
			MIMEType: "application/pdf",
			Data:     []byte("%PDF fake"),
		}},
	}
	raw := string(BuildMIME("noreply@example.com", msg))

	for _, want := range []string{
		"To: ana@example.com",
		"multipart/mixed",
		"Content-Type: text/html; charset=utf-8",
		"<p>Hi Ana</p>",
		`filename="Certificate: Ana.pdf"`,
		"Content-Transfer-Encoding: base64",
		base64.StdEncoding.EncodeToString([]byte("%PDF fake")),
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestBuildMIMEWithoutAttachments(t *testing.T) {
	msg := Message{To: "ana@example.com", Subject: "hello", HTMLBody: "<p>hi</p>"}
	raw := string(BuildMIME("noreply@example.com", msg))
	if strings.Contains(raw, "multipart/mixed") {
		t.Fatalf("expected plain html message:\n%s", raw)
	}
	if !strings.Contains(raw, "<p>hi</p>") {
		t.Fatalf("missing body:\n%s", raw)
	}
	if !strings.Contains(raw, "From: noreply@example.com") {
		t.Fatalf("missing bare from address:\n%s", raw)
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	s := NewSMTP("localhost", 2525, "", "", "noreply@example.com")
	if err := s.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}
