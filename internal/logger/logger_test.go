package logger

import "testing"

func TestSanitizeRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "abc", "errand_id", 7, "jwt_secret", "s3cr3t", "dangling"})
	if len(out) != 7 {
		t.Fatalf("unexpected length %d: %v", len(out), out)
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key not redacted: %v", out[1])
	}
	if out[3] != 7 {
		t.Fatalf("errand_id altered: %v", out[3])
	}
	if out[5] != "[REDACTED]" {
		t.Fatalf("secret not redacted: %v", out[5])
	}
	if out[6] != "dangling" {
		t.Fatalf("dangling key lost: %v", out[6])
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	l := Nop().With("component", "test")
	l.Info("hello", "token", "x")
	l.Sync()
}
