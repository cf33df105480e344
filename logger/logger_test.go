package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "debug", Format: "json"}, "meshd", &buf)

	l.WithComponent("registry").Info("instance registered", InstanceFields("users", "u-1"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	checks := map[string]string{
		"message":       "instance registered",
		FieldComponent:  "registry",
		FieldService:    "users",
		FieldInstanceID: "u-1",
		"level":         "info",
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("expected %s=%q, got %v", k, want, got[k])
		}
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "warn", Format: "json"}, "", &buf)
	l.Info("dropped")
	l.Debug("dropped")
	l.Warn("kept")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "kept" {
		t.Errorf("expected only the warn line, got %v", lines)
	}
}

func TestLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "loud", Format: "json"}, "", &buf)
	l.Debug("dropped")
	l.Info("kept")
	if n := len(decodeLines(t, &buf)); n != 1 {
		t.Errorf("expected 1 line, got %d", n)
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "info", Format: "json"}, "", &buf)
	ctx := ContextWithRequestID(context.Background(), "req-42")
	l.WithContext(ctx).WithError(errors.New("boom")).Error("failed")

	got := decodeLines(t, &buf)[0]
	if got[FieldRequestID] != "req-42" {
		t.Errorf("expected request_id, got %v", got[FieldRequestID])
	}
	if got["error"] != "boom" {
		t.Errorf("expected error=boom, got %v", got["error"])
	}
}

func TestFields(t *testing.T) {
	f := Fields("a", 1, "b", "two", 3, "ignored", "dangling")
	if len(f) != 2 || f["a"] != 1 || f["b"] != "two" {
		t.Errorf("unexpected fields %v", f)
	}
	if d := DurationFields("op", 1500*time.Millisecond); d[FieldDuration] != int64(1500) {
		t.Errorf("expected 1500ms, got %v", d[FieldDuration])
	}
	if c := ConfigFields("users", "dev", "main"); c[FieldLabel] != "main" {
		t.Errorf("unexpected config fields %v", c)
	}
}

func TestConfig_ValidateAndDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.Level = "verbose"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("expected level error, got %v", err)
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	SetGlobalLogger(NewWithWriter(&Config{Level: "info", Format: "json"}, "", &buf))
	WithComponent("bus").Info("published")
	if got := decodeLines(t, &buf)[0]; got[FieldComponent] != "bus" {
		t.Errorf("expected component=bus, got %v", got[FieldComponent])
	}
}
