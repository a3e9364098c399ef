package logging

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-flux/control"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestQueueSinkKeepsLinesWhole(t *testing.T) {
	var buf lockedBuffer
	sink := NewQueueSink(&buf)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				fmt.Fprintf(sink, "conn=%d seq=%d payload=%s\n", g, i, strings.Repeat("x", 64))
			}
		}(g)
	}
	wg.Wait()
	if err := sink.Sync(); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("%d lines", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "conn=") || !strings.HasSuffix(l, strings.Repeat("x", 64)) {
			t.Fatalf("torn line %q", l)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write([]byte("late")); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("write after close: %v", err)
	}
}

func TestQueueSinkPreservesOrder(t *testing.T) {
	var buf lockedBuffer
	sink := NewQueueSink(&buf)
	for i := 0; i < 100; i++ {
		fmt.Fprintf(sink, "%d,", i)
	}
	sink.Close()
	var want strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&want, "%d,", i)
	}
	if buf.String() != want.String() {
		t.Fatal("entries reordered")
	}
}

func TestSetupWritesFileAndAdjustsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "flux.log")
	l, err := Setup(control.LogConfig{Level: "warn", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown", zap.String("remote", "127.0.0.1:1"))
	l.SetLevel("debug")
	l.Debug("now visible")
	if l.LevelName() != zapcore.DebugLevel.String() {
		t.Fatalf("level %s", l.LevelName())
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"remote":"127.0.0.1:1"`) || !strings.Contains(out, "now visible") {
		t.Fatalf("log output %s", out)
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	if _, err := Setup(control.LogConfig{Format: "xml"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zap.DebugLevel, "WARNING": zap.WarnLevel, "error": zap.ErrorLevel, "bogus": zap.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("%s: %v", in, got)
		}
	}
}
