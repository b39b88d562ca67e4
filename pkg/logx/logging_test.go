package logx

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Error("zero value should report IsZero")
	}
	// must not panic
	l.Info("nothing happens", String("k", "v"), Err(errors.New("x")))
	l.With(Int("n", 1)).Warn("still nothing")
}

func TestNopLogger(t *testing.T) {
	t.Parallel()
	l := Nop()
	if l.IsZero() {
		t.Error("Nop is a real logger, not the zero value")
	}
	l.Error("dropped", Int64("id", 42), Bool("ok", true))
}

func TestWithDoesNotMutateParent(t *testing.T) {
	t.Parallel()
	parent := Nop()
	child := parent.With(String("comp", "x"))
	if len(parent.fields) != 0 {
		t.Error("With must not mutate the parent logger")
	}
	if len(child.fields) != 1 {
		t.Errorf("child has %d fields, want 1", len(child.fields))
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{Level: "info", Console: false})
	t.Cleanup(func() { _ = svc.Close() })

	if log.Enabled(LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
	svc.Apply(Config{Level: "debug", Console: false})
	if !log.Enabled(LevelDebug) {
		t.Error("debug should be enabled after Apply")
	}
}
