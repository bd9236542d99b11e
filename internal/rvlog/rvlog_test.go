package rvlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	defer SetLevel(LevelWarn)

	var buf bytes.Buffer
	lg := New(&buf, "test")

	SetLevel(LevelWarn)
	lg.Debugf("debug message")
	lg.Infof("info message")
	if buf.Len() != 0 {
		t.Fatalf("at LevelWarn, Debugf/Infof should be silent, got %q", buf.String())
	}

	lg.Warnf("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("Warnf should always write, got %q", buf.String())
	}
}

func TestLevelDebugEnablesEverything(t *testing.T) {
	defer SetLevel(LevelWarn)
	SetLevel(LevelDebug)

	var buf bytes.Buffer
	lg := New(&buf, "test")
	lg.Debugf("hello %d", 5)
	if !strings.Contains(buf.String(), "hello 5") {
		t.Errorf("got %q", buf.String())
	}
}

func TestLoggerPrefixesSubsystem(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "jit")
	lg.Warnf("compiled region")
	if !strings.Contains(buf.String(), "jit: ") {
		t.Errorf("got %q, want a jit: prefix", buf.String())
	}
}
