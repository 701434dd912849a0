package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"junk":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	logger, closer := NewLogger("info", "json", logPath)
	defer closer.Close()

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	var rec map[string]any
	line := strings.TrimSpace(string(data))
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not valid json: %v (line=%q)", err, line)
	}
	if rec["msg"] != "hello" || rec["key"] != "value" {
		t.Fatalf("unexpected log record: %+v", rec)
	}
}

func TestNewLoggerNoFileIsNoop(t *testing.T) {
	logger, closer := NewLogger("debug", "text", "")
	if logger == nil {
		t.Fatal("logger is nil")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("no-op closer returned error: %v", err)
	}
}

func TestWithSessionAddsConstantAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	sessLogger := WithSession(base, "abc-123", RoleSender)

	sessLogger.Info("block confirmed", "block_index", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not valid json: %v", err)
	}
	if rec["session_id"] != "abc-123" || rec["role"] != "sender" {
		t.Fatalf("missing constant attrs: %+v", rec)
	}
}
