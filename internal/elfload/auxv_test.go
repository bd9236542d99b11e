package elfload

import (
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
)

func TestBuildInitialStackLayout(t *testing.T) {
	a := arena.New(24) // 16 MiB
	stackTop := uint64(1) << 23
	img := &Image{Header: Header64{Entry: 0x1000, PhOff: 64, PhEntSize: 56}, Phdrs: []ProgramHeader64{{}}}

	layout, err := BuildInitialStack(a, stackTop, []string{"argv0", "-x"}, []string{"HOME=/root"}, img, 0, 0, 0, "argv0")
	if err != nil {
		t.Fatalf("BuildInitialStack: %v", err)
	}
	if layout.StackPointer == 0 || layout.StackPointer >= stackTop {
		t.Fatalf("got sp=%#x, want something below stackTop=%#x", layout.StackPointer, stackTop)
	}
	if layout.StackPointer%16 != 0 {
		t.Errorf("initial sp must be 16-byte aligned, got %#x", layout.StackPointer)
	}

	argc, err := a.Load64(layout.StackPointer)
	if err != nil {
		t.Fatalf("Load64 argc: %v", err)
	}
	if argc != 2 {
		t.Errorf("got argc=%d, want 2", argc)
	}

	argv0Ptr, err := a.Load64(layout.StackPointer + 8)
	if err != nil {
		t.Fatalf("Load64 argv[0]: %v", err)
	}
	s, err := a.MemString(argv0Ptr)
	if err != nil {
		t.Fatalf("MemString argv[0]: %v", err)
	}
	if string(s) != "argv0" {
		t.Errorf("got argv[0]=%q, want %q", s, "argv0")
	}
}
