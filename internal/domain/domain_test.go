package domain

import "testing"

func TestRecordRoundTrip(t *testing.T) {
	r := Recipient{Name: "Ana Silva", Email: "ana@example.com", Certificate: "file-1"}
	got := FromRecord(r.ToRecord())
	if got != r {
		t.Fatalf("round trip mismatch: %+v != %+v", got, r)
	}
}

func TestFromRecordMissingCertificate(t *testing.T) {
	r := FromRecord(map[string]string{RecordName: "Ana", RecordEmail: "ana@example.com"})
	if r.Certificate != "" {
		t.Fatalf("expected empty certificate, got %q", r.Certificate)
	}
	if !r.Valid() {
		t.Fatalf("expected valid recipient")
	}
}

func TestFromRecordTrims(t *testing.T) {
	r := FromRecord(map[string]string{RecordName: "  Ana  ", RecordEmail: " ana@example.com "})
	if r.Name != "Ana" || r.Email != "ana@example.com" {
		t.Fatalf("expected trimmed values, got %+v", r)
	}
}

func TestValid(t *testing.T) {
	if (Recipient{Name: "Ana"}).Valid() {
		t.Fatalf("missing email should be invalid")
	}
	if (Recipient{Email: "ana@example.com"}).Valid() {
		t.Fatalf("missing name should be invalid")
	}
}

func TestToRecordAlwaysHasCertificateKey(t *testing.T) {
	rec := Recipient{Name: "Ana", Email: "ana@example.com"}.ToRecord()
	if v, ok := rec[RecordCertificate]; !ok || v != "" {
		t.Fatalf("expected present empty certificate key, got %q (present=%v)", v, ok)
	}
}
