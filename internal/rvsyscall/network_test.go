package rvsyscall

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/iobridge"
	"github.com/xyproto/rv64x/internal/vfs"
)

// newNetTestHandler builds a handler wired to a live bridge whose Dial is
// serviced by a running I/O thread, so h.Net.RequestNetworkRPC actually
// completes instead of blocking forever.
func newNetTestHandler(t *testing.T, dial func(*iobridge.NetworkFrame)) (*Handler, func()) {
	t.Helper()
	a := arena.New(20)
	regs := cpu.NewRegFile(a)
	fs := vfs.New(nil)
	fds := vfs.NewFDTable()
	ctx := execctx.New(100)
	h := New(a, regs, fs, fds, ctx)

	b := iobridge.NewBridge(&bytes.Buffer{}, strings.NewReader(""))
	b.PollInterval = time.Millisecond
	b.Dial = dial
	h.Net = b

	stop := make(chan struct{})
	go b.Run(stop)
	return h, func() { close(stop) }
}

func TestSysSocketAllocatesSocketRangeFD(t *testing.T) {
	h, cleanup := newNetTestHandler(t, func(f *iobridge.NetworkFrame) {
		f.Result = vfs.FDSocketRangeStart
	})
	defer cleanup()

	h.Regs.SetArg(7, sysSocket)
	h.Regs.SetArg(0, 2) // AF_INET
	h.Regs.SetArg(1, 1) // SOCK_STREAM
	h.Regs.SetArg(2, 0)
	h.HandleSyscall()

	fd := int64(h.Regs.GetX(10))
	if fd != vfs.FDSocketRangeStart {
		t.Fatalf("got fd=%d, want %d", fd, vfs.FDSocketRangeStart)
	}
	if err := h.FDs.AllocSocketAt(int(fd)); err == nil {
		t.Error("socket fd should already be recorded as allocated")
	}
}

func TestSysSocketFailsWithoutBridge(t *testing.T) {
	h, _ := newTestHandler(t) // no Net wired
	h.Regs.SetArg(7, sysSocket)
	h.HandleSyscall()
	if int64(h.Regs.GetX(10)) != errno(ENOSYS) {
		t.Errorf("got %d, want -ENOSYS", int64(h.Regs.GetX(10)))
	}
}

func TestSysBindConnectListenRoundTrip(t *testing.T) {
	var sawOps []uint32
	h, cleanup := newNetTestHandler(t, func(f *iobridge.NetworkFrame) {
		sawOps = append(sawOps, f.Op)
		f.Result = 0
	})
	defer cleanup()

	sockaddr := []byte("\x02\x00\x1f\x90\x00\x00\x00\x00")
	if err := h.A.WriteAt(0x2000, sockaddr); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	h.Regs.SetArg(7, sysBind)
	h.Regs.SetArg(0, vfs.FDSocketRangeStart)
	h.Regs.SetArg(1, 0x2000)
	h.Regs.SetArg(2, uint64(len(sockaddr)))
	h.HandleSyscall()
	if h.Regs.GetX(10) != 0 {
		t.Fatalf("bind: got %d, want 0", h.Regs.GetX(10))
	}

	h.Regs.SetArg(7, sysListen)
	h.Regs.SetArg(0, vfs.FDSocketRangeStart)
	h.Regs.SetArg(1, 16)
	h.HandleSyscall()
	if h.Regs.GetX(10) != 0 {
		t.Fatalf("listen: got %d, want 0", h.Regs.GetX(10))
	}

	h.Regs.SetArg(7, sysConnect)
	h.Regs.SetArg(0, vfs.FDSocketRangeStart)
	h.Regs.SetArg(1, 0x2000)
	h.Regs.SetArg(2, uint64(len(sockaddr)))
	h.HandleSyscall()
	if h.Regs.GetX(10) != 0 {
		t.Fatalf("connect: got %d, want 0", h.Regs.GetX(10))
	}

	want := []uint32{iobridge.NetOpBind, iobridge.NetOpListen, iobridge.NetOpConnect}
	if len(sawOps) != len(want) {
		t.Fatalf("got ops %v, want %v", sawOps, want)
	}
	for i, op := range want {
		if sawOps[i] != op {
			t.Errorf("op[%d] = %d, want %d", i, sawOps[i], op)
		}
	}
}

func TestSysSendtoRecvfromRoundTrip(t *testing.T) {
	var lastSend []byte
	h, cleanup := newNetTestHandler(t, func(f *iobridge.NetworkFrame) {
		switch f.Op {
		case iobridge.NetOpSend:
			lastSend = append([]byte(nil), f.Payload...)
			f.Result = int32(len(f.Payload))
		case iobridge.NetOpRecv:
			f.Result = 5
			f.Payload = []byte("howdy")
		}
	})
	defer cleanup()

	msg := []byte("hello")
	if err := h.A.WriteAt(0x3000, msg); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	h.Regs.SetArg(7, sysSendto)
	h.Regs.SetArg(0, vfs.FDSocketRangeStart)
	h.Regs.SetArg(1, 0x3000)
	h.Regs.SetArg(2, uint64(len(msg)))
	h.Regs.SetArg(3, 0)
	h.Regs.SetArg(4, 0)
	h.Regs.SetArg(5, 0)
	h.HandleSyscall()
	if h.Regs.GetX(10) != uint64(len(msg)) {
		t.Fatalf("sendto: got n=%d, want %d", h.Regs.GetX(10), len(msg))
	}
	if string(lastSend) != "hello" {
		t.Errorf("bridge saw payload %q, want %q", lastSend, "hello")
	}

	h.Regs.SetArg(7, sysRecvfrom)
	h.Regs.SetArg(0, vfs.FDSocketRangeStart)
	h.Regs.SetArg(1, 0x4000)
	h.Regs.SetArg(2, 64)
	h.Regs.SetArg(3, 0)
	h.Regs.SetArg(4, 0)
	h.Regs.SetArg(5, 0)
	h.HandleSyscall()
	n := h.Regs.GetX(10)
	if n != 5 {
		t.Fatalf("recvfrom: got n=%d, want 5", n)
	}
	got, err := h.A.MemArray(0x4000, n)
	if err != nil {
		t.Fatalf("MemArray: %v", err)
	}
	if string(got) != "howdy" {
		t.Errorf("got %q, want %q", got, "howdy")
	}
}

func TestSysCloseRoutesSocketThroughNetOpClose(t *testing.T) {
	var sawClose bool
	h, cleanup := newNetTestHandler(t, func(f *iobridge.NetworkFrame) {
		if f.Op == iobridge.NetOpClose {
			sawClose = true
		}
		f.Result = 0
	})
	defer cleanup()

	if err := h.FDs.AllocSocketAt(vfs.FDSocketRangeStart); err != nil {
		t.Fatalf("AllocSocketAt: %v", err)
	}
	h.Regs.SetArg(7, sysClose)
	h.Regs.SetArg(0, vfs.FDSocketRangeStart)
	h.HandleSyscall()

	if !sawClose {
		t.Error("closing a socket fd should issue a NetOpClose RPC")
	}
	if err := h.FDs.AllocSocketAt(vfs.FDSocketRangeStart); err != nil {
		t.Error("socket fd should be freed for reuse after close")
	}
}

func TestSysGetsocknameHasNoWireOpcode(t *testing.T) {
	h, cleanup := newNetTestHandler(t, func(f *iobridge.NetworkFrame) { f.Result = 0 })
	defer cleanup()

	h.Regs.SetArg(7, sysGetsockname)
	h.HandleSyscall()
	if int64(h.Regs.GetX(10)) != errno(ENOSYS) {
		t.Errorf("got %d, want -ENOSYS", int64(h.Regs.GetX(10)))
	}
}
