package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoggerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Service: "usvd", Env: "test", Level: "debug"})
	logger.Debug("claim accepted", MaskEmail("email", "alice@example.com"), MaskField("qrHash", "abc"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["message"] != "claim accepted" || entry["severity"] != "DEBUG" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["service"] != "usvd" || entry["env"] != "test" {
		t.Fatalf("missing service attributes: %v", entry)
	}
	if entry["email"] != "[REDACTED]@example.com" {
		t.Fatalf("email not masked: %v", entry["email"])
	}
	if entry["qrHash"] != RedactedValue {
		t.Fatalf("qrHash not masked: %v", entry["qrHash"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo || ParseLevel("error") != slog.LevelError {
		t.Fatalf("unexpected level parsing")
	}
}

func TestMaskFieldAllowlist(t *testing.T) {
	if got := MaskField("instruction", "claim_code"); got.Value.String() != "claim_code" {
		t.Fatalf("allowlisted key redacted: %v", got)
	}
	if got := MaskField("email", ""); got.Value.String() != "" {
		t.Fatalf("empty values must pass through: %v", got)
	}
}
