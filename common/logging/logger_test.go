package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/vims-labs/claim-oracle/common/middleware"
)

func TestNewWithOutput_Formats(t *testing.T) {
	var jsonBuf bytes.Buffer
	NewWithOutput(&jsonBuf, slog.LevelInfo, "json").Info("hello", slog.String("k", "v"))

	var entry map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &entry); err != nil {
		t.Fatalf("json output not parseable: %v (%q)", err, jsonBuf.String())
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Errorf("unexpected entry: %v", entry)
	}

	var textBuf bytes.Buffer
	NewWithOutput(&textBuf, slog.LevelInfo, "text").Info("hello")
	if !strings.Contains(textBuf.String(), "msg=hello") {
		t.Errorf("text output = %q, want msg=hello", textBuf.String())
	}
}

func TestNewWithOutput_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf, slog.LevelWarn, "json")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn should be written, got %q", buf.String())
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf, slog.LevelInfo, "json")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")
	l.WithContext(ctx).Info("with id")
	if !strings.Contains(buf.String(), `"request_id":"req-123"`) {
		t.Errorf("expected request id in %q", buf.String())
	}

	buf.Reset()
	l.WithContext(context.Background()).Info("without id")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("unexpected request id in %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
