// Package iobridge implements the shared control block and ring buffers
// spec.md §4.I describes as the boundary between the execution thread
// (the RV64 dispatch loop) and the I/O thread (terminal, network,
// persistence export): three shared structures plus a
// futex-style wait/wake word, so the execution thread can genuinely block
// between polls instead of spinning.
//
// The wait/wake primitive is grounded directly on the teacher's
// parallel_unix.go (FutexWait/FutexWake/Barrier, built on a raw
// SYS_FUTEX syscall and sync/atomic), translated from syscall.Syscall6 to
// golang.org/x/sys/unix.Syscall6 — the dependency every repo in the
// retrieved pack already carries — with the same FUTEX_WAIT/FUTEX_WAKE
// opcodes and the same "private" (process-local) futex flag.
package iobridge

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait         = 0
	futexWake         = 1
	futexPrivateFlag  = 128
	futexWaitPrivate  = futexWait | futexPrivateFlag
	futexWakePrivate  = futexWake | futexPrivateFlag
)

func futexWaitWord(addr *int32, expect int32) {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(futexWaitPrivate), uintptr(expect), 0, 0, 0)
	if errno != 0 && errno != unix.EAGAIN && errno != unix.EINTR {
		// A futex call that fails for any other reason degrades to a busy
		// poll rather than a hard error: the control word is still
		// authoritative, only the blocking wait itself didn't take.
	}
}

func futexWakeWord(addr *int32, n int32) {
	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), uintptr(futexWakePrivate), uintptr(n), 0, 0, 0)
}

// Command is the control block's operation code, per spec.md §4.I's table.
type Command int32

const (
	CmdIdle Command = iota
	CmdStdinRequest
	CmdStdinReady
	CmdExit
	CmdExportVFS
	CmdResize
	CmdNetworkRPC
	CmdNetworkRPCDone
)

// ControlBlock is the duplex command channel between the two threads. The
// atomic word doubles as the futex word; every other field is protected by
// mu, written before the word transitions and read only after observing
// the matching transition, so word's own acquire/release pairing is the
// happens-before edge for everything else in the struct.
type ControlBlock struct {
	word int32

	mu sync.Mutex

	StdinMaxLen uint32
	StdinData   []byte

	ExitCode int32

	ResizeCols uint16
	ResizeRows uint16

	NetOp       uint32
	NetFD       int32
	NetArgs     []byte
	NetPayload  []byte
	NetResult   int32
	NetResponse []byte
}

// NewControlBlock returns a control block in the Idle state.
func NewControlBlock() *ControlBlock {
	return &ControlBlock{word: int32(CmdIdle)}
}

// Command returns the current command, the lock-free fast path the I/O
// thread's poll loop uses every tick.
func (c *ControlBlock) Command() Command {
	return Command(atomic.LoadInt32(&c.word))
}

// SetCommand installs a new command and wakes anyone blocked in Wait.
func (c *ControlBlock) SetCommand(cmd Command) {
	atomic.StoreInt32(&c.word, int32(cmd))
	futexWakeWord(&c.word, 1<<30) // wake every waiter; there is at most one
}

// Wait blocks the execution thread until the command differs from
// current, per spec.md §5's "execution thread may block on the control
// word" contract. Each iteration either observes a change or blocks in
// the kernel via futex(2); if the futex call itself fails, the loop
// re-checks the word straight away, which amounts to a busy poll.
func (c *ControlBlock) Wait(current Command) Command {
	for {
		cur := atomic.LoadInt32(&c.word)
		if cur != int32(current) {
			return Command(cur)
		}
		futexWaitWord(&c.word, int32(current))
	}
}

// WithLock runs fn with the payload-field lock held, for callers that need
// to read or write more than one field atomically with respect to a
// command transition.
func (c *ControlBlock) WithLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}
