package checkpoint

import (
	"bytes"
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/vfs"
)

func TestSaveRestoreRoundTrip(t *testing.T) {
	a := arena.New(20) // 1 MiB
	regs := cpu.NewRegFile(a)
	regs.SetPC(0x1234)
	regs.SetX(5, 0xdeadbeef)
	regs.SetF64(1, 2.5)
	regs.SetFCSR(3)

	ctx := execctx.New(42)
	ctx.BrkBase, ctx.BrkCurrent, ctx.MmapTop = 0x1000, 0x2000, 0x4000_0000
	ctx.Segments = []execctx.SegmentInfo{{Base: 0x1000, Size: 0x1000, Read: true, Exec: true, Path: "/bin/prog"}}
	ctx.ExecPath = "/bin/prog"
	ctx.StackTop = 0x7fff0000
	ctx.Stopped, ctx.StopReason = true, "execve"

	fds := vfs.NewFDTable()
	epfd, inst := fds.AllocEpoll()
	inst.Interests[3] = vfs.EpollInterest{Events: 1, Data: 99}
	_ = epfd
	fds.AllocFile(&vfs.OpenFile{Kind: vfs.KindEventFD, EventCtr: 7})

	payload := []byte("resident guest memory contents")
	if err := a.WriteAt(0x5000, payload); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	var buf bytes.Buffer
	if err := Save(&buf, a, regs, ctx, fds); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a2 := arena.New(20)
	regs2 := cpu.NewRegFile(a2)
	fds2 := vfs.NewFDTable()
	ctx2, err := Restore(&buf, a2, regs2, fds2)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if regs2.GetPC() != 0x1234 {
		t.Errorf("got pc=%#x, want %#x", regs2.GetPC(), 0x1234)
	}
	if regs2.GetX(5) != 0xdeadbeef {
		t.Errorf("got x5=%#x, want %#x", regs2.GetX(5), 0xdeadbeef)
	}
	if regs2.GetF64(1) != 2.5 {
		t.Errorf("got f1=%v, want 2.5", regs2.GetF64(1))
	}
	if regs2.GetFCSR() != 3 {
		t.Errorf("got fcsr=%d, want 3", regs2.GetFCSR())
	}

	if ctx2.BrkBase != 0x1000 || ctx2.BrkCurrent != 0x2000 || ctx2.MmapTop != 0x4000_0000 {
		t.Errorf("mm cursors mismatch: %+v", ctx2)
	}
	if len(ctx2.Segments) != 1 || ctx2.Segments[0].Path != "/bin/prog" {
		t.Errorf("segments mismatch: %+v", ctx2.Segments)
	}
	if !ctx2.Stopped || ctx2.StopReason != "execve" {
		t.Errorf("stop state mismatch: stopped=%v reason=%q", ctx2.Stopped, ctx2.StopReason)
	}

	got, err := a2.MemArray(0x5000, uint64(len(payload)))
	if err != nil {
		t.Fatalf("MemArray: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("got %q, want %q", got, payload)
	}

	if len(fds2.Epolls()) != 1 {
		t.Fatalf("got %d epoll instances, want 1", len(fds2.Epolls()))
	}
	for _, restoredInst := range fds2.Epolls() {
		if restoredInst.Interests[3].Events != 1 || restoredInst.Interests[3].Data != 99 {
			t.Errorf("got interest %+v", restoredInst.Interests[3])
		}
	}

	foundEventFD := false
	for _, of := range fds2.Files() {
		if of.Kind == vfs.KindEventFD && of.EventCtr == 7 {
			foundEventFD = true
		}
	}
	if !foundEventFD {
		t.Error("eventfd counter should survive a save/restore round trip")
	}
}

func TestSaveRestorePreservesExecutablePages(t *testing.T) {
	a := arena.New(20) // 1 MiB
	regs := cpu.NewRegFile(a)
	ctx := execctx.New(7)
	ctx.Segments = []execctx.SegmentInfo{{Base: 0x6000, Size: 0x1000, Read: true, Exec: true, Path: "/bin/prog"}}
	a.Pages().SetRange(0x6000, 0x1000, arena.PageAttr{Read: true, Exec: true})
	fds := vfs.NewFDTable()

	var buf bytes.Buffer
	if err := Save(&buf, a, regs, ctx, fds); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a2 := arena.New(20)
	regs2 := cpu.NewRegFile(a2)
	fds2 := vfs.NewFDTable()
	if _, err := Restore(&buf, a2, regs2, fds2); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	page := uint64(0x6000) >> arena.PageShift
	attr, ok := a2.Pages().Get(page)
	if !ok || !attr.Exec {
		t.Fatalf("restored page %#x should be marked executable, got %+v (ok=%v)", page, attr, ok)
	}
	if !attr.Read {
		t.Errorf("restored page should carry Read from its covering segment, got %+v", attr)
	}
}

func TestRestoreRejectsBadMagic(t *testing.T) {
	a := arena.New(16)
	regs := cpu.NewRegFile(a)
	fds := vfs.NewFDTable()
	_, err := Restore(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}), a, regs, fds)
	if err == nil {
		t.Fatal("expected an error restoring a stream with a bad magic number")
	}
}

func TestSparseArenaSkipsAllZeroRegions(t *testing.T) {
	a := arena.New(22) // 4 MiB, several scan chunks, all zero
	regs := cpu.NewRegFile(a)
	ctx := execctx.New(1)
	fds := vfs.NewFDTable()

	var buf bytes.Buffer
	if err := Save(&buf, a, regs, ctx, fds); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a2 := arena.New(22)
	regs2 := cpu.NewRegFile(a2)
	fds2 := vfs.NewFDTable()
	if _, err := Restore(&buf, a2, regs2, fds2); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := a2.MemArray(0, 4096)
	if err != nil {
		t.Fatalf("MemArray: %v", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("expected all-zero arena at offset %d, got %#x", i, b)
		}
	}
}
