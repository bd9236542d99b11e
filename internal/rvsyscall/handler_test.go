package rvsyscall

import (
	"bytes"
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/vfs"
)

func newTestHandler(t *testing.T) (*Handler, *bytes.Buffer) {
	t.Helper()
	a := arena.New(20) // 1 MiB
	regs := cpu.NewRegFile(a)
	fs := vfs.New(nil)
	fds := vfs.NewFDTable()
	ctx := execctx.New(100)
	h := New(a, regs, fs, fds, ctx)
	var out bytes.Buffer
	h.Stdout = &out
	return h, &out
}

func TestSysGetpid(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Regs.SetArg(7, sysGetpid)
	stop, block := h.HandleSyscall()
	if stop || block {
		t.Fatalf("getpid should never stop/block")
	}
	if h.Regs.GetX(10) != 100 {
		t.Errorf("got pid=%d, want 100", h.Regs.GetX(10))
	}
}

func TestSysBrkGrowsAndQueries(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Ctx.BrkBase = 0x10000
	h.Ctx.BrkCurrent = 0x10000

	h.Regs.SetArg(7, sysBrk)
	h.Regs.SetArg(0, 0)
	h.HandleSyscall()
	if h.Regs.GetX(10) != 0x10000 {
		t.Fatalf("brk(0) query: got %#x, want %#x", h.Regs.GetX(10), 0x10000)
	}

	h.Regs.SetArg(0, 0x11000)
	h.HandleSyscall()
	if h.Regs.GetX(10) != 0x11000 {
		t.Fatalf("brk growth: got %#x, want %#x", h.Regs.GetX(10), 0x11000)
	}
	if h.Ctx.BrkCurrent != 0x11000 {
		t.Errorf("BrkCurrent should track the new break, got %#x", h.Ctx.BrkCurrent)
	}
}

func TestSysWriteStdout(t *testing.T) {
	h, out := newTestHandler(t)
	msg := []byte("hello stdout")
	if err := h.A.WriteAt(0x2000, msg); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	h.Regs.SetArg(7, sysWrite)
	h.Regs.SetArg(0, 1)
	h.Regs.SetArg(1, 0x2000)
	h.Regs.SetArg(2, uint64(len(msg)))
	h.HandleSyscall()
	if h.Regs.GetX(10) != uint64(len(msg)) {
		t.Errorf("got n=%d, want %d", h.Regs.GetX(10), len(msg))
	}
	if out.String() != "hello stdout" {
		t.Errorf("got %q", out.String())
	}
}

func TestSysOpenatReadRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t)
	if err := h.FS.WriteFile("/greeting.txt", []byte("hi there"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := h.A.WriteAt(0x3000, append([]byte("/greeting.txt"), 0)); err != nil {
		t.Fatalf("WriteAt path: %v", err)
	}

	h.Regs.SetArg(7, sysOpenat)
	h.Regs.SetArg(0, uint64(atFDCWD))
	h.Regs.SetArg(1, 0x3000)
	h.Regs.SetArg(2, 0) // O_RDONLY
	h.Regs.SetArg(3, 0)
	h.HandleSyscall()
	fd := int64(h.Regs.GetX(10))
	if fd < vfs.FDFileRangeStart {
		t.Fatalf("openat did not return a valid fd: %d", fd)
	}

	h.Regs.SetArg(7, sysRead)
	h.Regs.SetArg(0, uint64(fd))
	h.Regs.SetArg(1, 0x4000)
	h.Regs.SetArg(2, 64)
	h.HandleSyscall()
	n := h.Regs.GetX(10)
	if n != 8 {
		t.Fatalf("got n=%d, want 8", n)
	}
	got, err := h.A.MemArray(0x4000, n)
	if err != nil {
		t.Fatalf("MemArray: %v", err)
	}
	if string(got) != "hi there" {
		t.Errorf("got %q, want %q", got, "hi there")
	}
}

func TestSysOpenatTrailingSlashOnFileFailsNotDir(t *testing.T) {
	h, _ := newTestHandler(t)
	if err := h.FS.WriteFile("/greeting.txt", []byte("hi there"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := h.A.WriteAt(0x3000, append([]byte("/greeting.txt/"), 0)); err != nil {
		t.Fatalf("WriteAt path: %v", err)
	}

	h.Regs.SetArg(7, sysOpenat)
	h.Regs.SetArg(0, uint64(atFDCWD))
	h.Regs.SetArg(1, 0x3000)
	h.Regs.SetArg(2, 0) // O_RDONLY
	h.Regs.SetArg(3, 0)
	h.HandleSyscall()
	if int64(h.Regs.GetX(10)) != errno(ENOTDIR) {
		t.Errorf("got %d, want -ENOTDIR", int64(h.Regs.GetX(10)))
	}
}

func TestSysChdirTrailingSlashOnFileFailsNotDir(t *testing.T) {
	h, _ := newTestHandler(t)
	if err := h.FS.WriteFile("/greeting.txt", []byte("hi there"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := h.A.WriteAt(0x3000, append([]byte("/greeting.txt/"), 0)); err != nil {
		t.Fatalf("WriteAt path: %v", err)
	}

	h.Regs.SetArg(7, sysChdir)
	h.Regs.SetArg(0, 0x3000)
	h.HandleSyscall()
	if int64(h.Regs.GetX(10)) != errno(ENOTDIR) {
		t.Errorf("got %d, want -ENOTDIR", int64(h.Regs.GetX(10)))
	}
}

func TestDoReadStdinDefersToIOBridge(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Regs.SetArg(7, sysRead)
	h.Regs.SetArg(0, 0)
	h.Regs.SetArg(1, 0x5000)
	h.Regs.SetArg(2, 16)
	stop, block := h.HandleSyscall()
	if !stop || !block {
		t.Fatalf("reading fd 0 should return (stop=true, block=true), got (%v, %v)", stop, block)
	}
}

func TestCompleteStdinRequestWritesBufferAndResult(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Regs.SetArg(1, 0x5000)
	h.Regs.SetArg(2, 16)
	h.CompleteStdinRequest([]byte("typed"))
	if h.Regs.GetX(10) != 5 {
		t.Fatalf("got result=%d, want 5", h.Regs.GetX(10))
	}
	got, err := h.A.MemArray(0x5000, 5)
	if err != nil {
		t.Fatalf("MemArray: %v", err)
	}
	if string(got) != "typed" {
		t.Errorf("got %q", got)
	}
}

func TestUnimplementedSyscallReturnsENOSYS(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Regs.SetArg(7, 0x7fffffff)
	h.HandleSyscall()
	if int64(h.Regs.GetX(10)) != errno(ENOSYS) {
		t.Errorf("got %d, want -ENOSYS", int64(h.Regs.GetX(10)))
	}
}
