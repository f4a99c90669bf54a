package types

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	out := captureStdout(t, func() {
		logger.Debug("drain", "pending", 3)
		logger.Info("drain")
		logger.Warn("drain", nil)
		logger.Error("drain")
	})
	if out != "" {
		t.Fatalf("expected no output, got %q", out)
	}
}

func TestConsoleLoggerLevels(t *testing.T) {
	logger := NewConsoleLogger("pos")
	tests := []struct {
		level string
		log   func(string, ...any)
	}{
		{"DEBUG", logger.Debug},
		{"INFO", logger.Info},
		{"WARN", logger.Warn},
		{"ERROR", logger.Error},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			out := captureStdout(t, func() { tt.log("queue pruned", "count", 2) })
			for _, want := range []string{"[" + tt.level + "]", "pos", "queue pruned", "count"} {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in output, got: %s", want, out)
				}
			}
		})
	}
}

func TestConsoleLoggerWithoutArgs(t *testing.T) {
	out := captureStdout(t, func() { NewConsoleLogger("pos").Info("online") })
	if strings.Contains(out, "[]") {
		t.Errorf("expected no args list, got: %s", out)
	}
	if !strings.HasSuffix(out, "online\n") {
		t.Errorf("unexpected output: %q", out)
	}
}
