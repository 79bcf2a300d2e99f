package mlog

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestLevels(t *testing.T) {
	defer SetConfig(map[string]slog.Level{"": LevelError})

	SetConfig(map[string]slog.Level{"": LevelInfo, "sanitize": LevelDebug})

	check := func(pkg string, level slog.Level, exp bool) {
		t.Helper()
		if got := match(pkg, level); got != exp {
			t.Fatalf("match pkg %q level %v: got %v, expected %v", pkg, level, got, exp)
		}
	}
	check("render", LevelDebug, false)
	check("render", LevelInfo, true)
	check("sanitize", LevelDebug, true)
	check("sanitize", LevelTrace, false)
	check("store", LevelPrint, true)
}

func TestOutput(t *testing.T) {
	defer SetConfig(map[string]slog.Level{"": LevelError})
	SetConfig(map[string]slog.Level{"": LevelDebug})

	var buf bytes.Buffer
	log := New("test", slog.New(&handler{w: &buf, mu: &sync.Mutex{}}))
	log.Debugx("rendering message", errors.New("bad html"), slog.Int64("msgid", 10))
	line := buf.String()
	if !strings.HasPrefix(line, "debug: ") || !strings.Contains(line, "pkg: test") || !strings.Contains(line, `err: "bad html"`) || !strings.Contains(line, "msgid: 10") {
		t.Fatalf("unexpected log line %q", line)
	}

	buf.Reset()
	log.Check(nil, "closing")
	if buf.Len() != 0 {
		t.Fatalf("check with nil error logged %q", buf.String())
	}
}
