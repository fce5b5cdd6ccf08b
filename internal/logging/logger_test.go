package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "WARN")
	log.Info("quiet")
	log.Warn("loud", "booking_id", "b1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q", buf.String())
	}
	if rec["msg"] != "loud" || rec["booking_id"] != "b1" {
		t.Fatalf("record %v", rec)
	}
}
