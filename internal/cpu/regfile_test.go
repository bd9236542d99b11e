package cpu

import (
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
)

func newTestRegFile() *RegFile {
	return NewRegFile(arena.New(12)) // 4 KiB, plenty for the register file
}

func TestRegFileXZeroAlwaysZero(t *testing.T) {
	rf := newTestRegFile()
	rf.SetX(0, 0xdeadbeef)
	if rf.GetX(0) != 0 {
		t.Errorf("x0 must read back as 0, got %#x", rf.GetX(0))
	}
}

func TestRegFileArgsAndResult(t *testing.T) {
	rf := newTestRegFile()
	rf.SetArg(0, 10)
	rf.SetArg(1, 20)
	rf.SetArg(2, 30)
	if rf.GetArg(0) != 10 || rf.GetArg(1) != 20 || rf.GetArg(2) != 30 {
		t.Errorf("got args %d %d %d", rf.GetArg(0), rf.GetArg(1), rf.GetArg(2))
	}
	rf.SetResult(-38)
	if rf.GetX(10) != uint64(^uint64(0)-37) {
		t.Errorf("SetResult(-38) should land in a0 as two's complement, got %#x", rf.GetX(10))
	}
}

func TestRegFilePCAndFCSR(t *testing.T) {
	rf := newTestRegFile()
	rf.SetPC(0x10000)
	if rf.GetPC() != 0x10000 {
		t.Errorf("got pc %#x", rf.GetPC())
	}
	rf.SetFCSR(0x7)
	if rf.GetFCSR() != 0x7 {
		t.Errorf("got fcsr %#x", rf.GetFCSR())
	}
}

func TestRegFileFloatRoundTrip(t *testing.T) {
	rf := newTestRegFile()
	rf.SetF64(1, 3.25)
	if rf.GetF64(1) != 3.25 {
		t.Errorf("got f1=%v, want 3.25", rf.GetF64(1))
	}
	rf.SetF32(2, 1.5)
	if rf.GetF32(2) != 1.5 {
		t.Errorf("got f2=%v, want 1.5", rf.GetF32(2))
	}
}
