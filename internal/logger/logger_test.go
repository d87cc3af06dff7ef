package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
)

func TestOpenFormats(t *testing.T) {
	tests := []struct {
		format string
		check  func(string) bool
	}{
		{"", func(s string) bool { return strings.Contains(s, "INFO  loaded") }},
		{"Pretty", func(s string) bool { return strings.Contains(s, "INFO  loaded") }},
		{"json", func(s string) bool { return json.Valid([]byte(strings.TrimSpace(s))) }},
		{" text ", func(s string) bool { return strings.Contains(s, "msg=loaded") }},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l, err := Open(tt.format, &buf, slog.LevelInfo)
		if err != nil {
			t.Fatalf("Open(%q): %v", tt.format, err)
		}
		l.Info("loaded", "layers", 4)
		if !tt.check(buf.String()) {
			t.Errorf("Open(%q) wrote %q", tt.format, buf.String())
		}
	}

	if _, err := Open("xml", &bytes.Buffer{}, slog.LevelInfo); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestForRank(t *testing.T) {
	var buf bytes.Buffer
	base := JSON(&buf, slog.LevelInfo)

	if ForRank(base, 0, 1) != base {
		t.Fatal("single-rank world should keep the logger as is")
	}

	ForRank(base, 2, 4).Info("stage ready")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["rank"] != float64(2) || rec["world_size"] != float64(4) {
		t.Fatalf("missing rank attributes: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := Pretty(&buf, ParseLevel("warn"))
	l.Info("dropped")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output %q", out)
	}

	if got := ParseLevel(" DEBUG "); got != slog.LevelDebug {
		t.Errorf("ParseLevel(DEBUG) = %v", got)
	}
	if got := ParseLevel("warning"); got != slog.LevelWarn {
		t.Errorf("ParseLevel(warning) = %v", got)
	}
	if got := ParseLevel("verbose"); got != slog.LevelInfo {
		t.Errorf("ParseLevel(verbose) = %v", got)
	}
}

func TestPrettyColorOnlyForTerminals(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	if h.color {
		t.Fatal("buffer treated as a terminal")
	}
	New(h).Error("plain", "k", "v")
	if strings.Contains(buf.String(), "\033[") {
		t.Fatalf("escape codes written to a buffer: %q", buf.String())
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()
	if NewPrettyHandler(w, nil).color {
		t.Fatal("pipe treated as a terminal")
	}

	buf.Reset()
	h.color = true
	New(h).Error("painted")
	if !strings.Contains(buf.String(), colorRed) || !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected coloured line, got %q", buf.String())
	}
}

func TestPrettyAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	l := Pretty(&buf, slog.LevelInfo).With("session", "abc").WithGroup("shard").WithGroup("plan")
	l.Info("applied", "axis", 0, "reason", "not divisible")

	out := buf.String()
	for _, want := range []string{"session=abc", "shard.plan.axis=0", `shard.plan.reason="not divisible"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}

	h := NewPrettyHandler(&buf, nil)
	if h.WithGroup("") != h {
		t.Error("empty group should return the same handler")
	}
}

// serialWriter fails the test when two writes overlap.
type serialWriter struct {
	t      *testing.T
	active atomic.Int32
	lines  atomic.Int32
}

func (w *serialWriter) Write(p []byte) (int, error) {
	if w.active.Add(1) != 1 {
		w.t.Error("concurrent write")
	}
	w.lines.Add(1)
	w.active.Add(-1)
	return len(p), nil
}

func TestDerivedHandlersShareLock(t *testing.T) {
	w := &serialWriter{t: t}
	root := NewPrettyHandler(w, nil)
	derived := []slog.Handler{
		root,
		root.WithAttrs([]slog.Attr{slog.Int("rank", 0)}),
		root.WithAttrs([]slog.Attr{slog.Int("rank", 1)}),
		root.WithGroup("rpc"),
	}
	for _, h := range derived[1:] {
		if h.(*PrettyHandler).mu != root.mu {
			t.Fatal("derived handler has its own mutex")
		}
	}

	var wg sync.WaitGroup
	for _, h := range derived {
		wg.Add(1)
		go func(l Logger) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.Info("tick", "i", i)
			}
		}(New(h))
	}
	wg.Wait()
	if got := w.lines.Load(); got != 800 {
		t.Fatalf("wrote %d lines, want 800", got)
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil without a logger")
	}
	l := Discard()
	if FromContext(WithContext(context.Background(), l)) != l {
		t.Fatal("context logger not returned")
	}
}

func TestNeedsQuoting(t *testing.T) {
	for s, want := range map[string]bool{
		"plain":     false,
		"two words": true,
		"tab\there": true,
		`say "hi"`:  true,
		"":          false,
	} {
		if got := needsQuoting(s); got != want {
			t.Errorf("needsQuoting(%q) = %v", s, got)
		}
	}
}
