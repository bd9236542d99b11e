package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/iobridge"
	"github.com/xyproto/rv64x/internal/rvsyscall"
	"github.com/xyproto/rv64x/internal/vfs"
)

func TestBuildEnvpDefaultsWhenEmpty(t *testing.T) {
	got := buildEnvp(nil)
	if len(got) != 2 {
		t.Fatalf("got %v, want a two-entry default environment", got)
	}
}

func TestBuildEnvpUsesProvidedEntries(t *testing.T) {
	got := buildEnvp([]string{"FOO=bar", "BAZ=qux"})
	if len(got) != 2 || got[0] != "FOO=bar" || got[1] != "BAZ=qux" {
		t.Errorf("got %v", got)
	}
}

func TestLoopPrintsFatalDiagnosticOnExecFault(t *testing.T) {
	a := arena.New(16) // 64 KiB, nothing mapped executable anywhere
	ctx := execctx.New(1)
	fds := vfs.NewFDTable()
	fs := vfs.New(nil)
	sys := rvsyscall.New(a, nil, fs, fds, ctx)
	bridge := iobridge.NewBridge(&bytes.Buffer{}, strings.NewReader(""))

	d := cpu.NewDispatcher(a, nil, sys)
	sys.Regs = d.Regs
	d.Regs.SetPC(0x1000)

	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	code, err := loop(d, sys, bridge)
	w.Close()
	os.Stderr = oldStderr

	var out bytes.Buffer
	io.Copy(&out, r)

	if err != nil {
		t.Fatalf("loop returned an error after already printing its own diagnostic: %v", err)
	}
	if code != 128 {
		t.Errorf("got exit code=%d, want 128", code)
	}
	want := "FATAL: exec at pc=0x1000\n"
	if out.String() != want {
		t.Errorf("got stderr %q, want %q", out.String(), want)
	}
}

func TestStringListSetAppends(t *testing.T) {
	var s stringList
	if err := s.Set("a=1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("b=2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.String() != "a=1,b=2" {
		t.Errorf("got %q", s.String())
	}
}
