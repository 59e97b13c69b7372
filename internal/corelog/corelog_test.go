package corelog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	b, err := New(Config{Level: "debug", JSON: true, Out: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log := b.Unit(UnitHost)
	log.Debug().Str("peer", "abcd").Msg("peer connected")
	log.Trace().Msg("dropped")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["unit"] != UnitHost || rec["peer"] != "abcd" || rec["message"] != "peer connected" {
		t.Errorf("unexpected record: %v", rec)
	}
	if b.Level() != zerolog.DebugLevel {
		t.Errorf("Level() = %v, want debug", b.Level())
	}
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	b, err := New(Config{Out: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l := b.Unit(UnitSession)
	l.Info().Str("reason", "ping timeout").Msg("session disconnecting")

	out := buf.String()
	for _, want := range []string{"SESS", "session disconnecting", "reason=", "ping timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestRollingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	b, err := New(Config{DisableConsole: true, File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l := b.Unit(UnitNode)
	l.Info().Msg("started")
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"message":"started"`) {
		t.Errorf("log file content %q", data)
	}
}

func TestBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
