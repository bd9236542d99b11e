// Package execctx holds the process-wide "execute context": segment
// bases, heap cursors, the stdin-wait flag, and the cooperative task
// scheduler. Per the design note "global mutable state", this is made an
// explicit struct threaded through every syscall handler rather than a
// package-level global, so it can be initialized at program start, cleared
// wholesale at execve, and serialized at checkpoint.
package execctx

// SegmentInfo records one loaded ELF segment's placement, used both for
// /proc/self/maps rendering and checkpoint serialization.
type SegmentInfo struct {
	Base  uint64
	Size  uint64
	Read  bool
	Write bool
	Exec  bool
	Path  string
}

// TaskState is a cooperatively scheduled guest task produced by clone
// without CLONE_THREAD (spec.md §3 "Thread scheduler"). Only one task
// runs at a time; each owns its own register snapshot rather than sharing
// the live register file, since the flat arena holds only one live
// register file at offset 0.
type TaskState struct {
	TID       int32
	Regs      [32]uint64 // snapshot of x0..x31 when not the running task
	PC        uint64
	Exited    bool
	ExitCode  int
	ClearTID  uint64 // address to clear+futex-wake on exit, from set_tid_address
}

// Context is the process-wide mutable state threaded through the syscall
// layer. It is exclusively owned and mutated by the execution thread.
type Context struct {
	// Memory management cursors.
	BrkBase    uint64
	BrkCurrent uint64
	MmapTop    uint64 // bump-pointer high-address region for MAP_ANONYMOUS

	// Process identity.
	Pid  int32
	Tgid int32
	Cwd  string

	// Loaded-image bookkeeping.
	Segments     []SegmentInfo
	ExecPath     string
	InterpBase   uint64
	InterpEntry  uint64
	StackTop     uint64
	HeapBase     uint64
	HeapSize     uint64
	AuxRandom    [16]byte

	// Dispatch-loop coordination flags.
	Stopped     bool // set by execve/exit; outer loop must act before resuming
	StopReason  string
	WaitingIn   bool // "waiting for stdin" flag (§4.C exit condition 1)
	ExitCode    int
	Exited      bool

	// Cooperative task scheduler: index 0 is always the main task.
	Tasks       []*TaskState
	CurrentTask int

	// Signal dispositions (stored, never delivered asynchronously, per
	// spec.md's signals non-goal).
	SigActions map[int]SigAction
	SigMask    uint64
}

type SigAction struct {
	Handler uint64
	Flags   uint64
	Mask    uint64
}

// New constructs a fresh execute context for process start or for an
// execve re-entry.
func New(pid int32) *Context {
	return &Context{
		Pid:        pid,
		Tgid:       pid,
		Cwd:        "/",
		Tasks:      []*TaskState{{TID: pid}},
		SigActions: make(map[int]SigAction),
	}
}

// ResetForExecve clears everything except process identity, matching the
// execve contract: a new image replaces the old one in place without
// tearing down the process.
func (c *Context) ResetForExecve() {
	c.BrkBase, c.BrkCurrent, c.MmapTop = 0, 0, 0
	c.Segments = nil
	c.InterpBase, c.InterpEntry = 0, 0
	c.StackTop, c.HeapBase, c.HeapSize = 0, 0, 0
	c.Stopped, c.StopReason = false, ""
	c.WaitingIn = false
	c.SigActions = make(map[int]SigAction)
	c.SigMask = 0
	// cooperative tasks other than the caller do not survive execve on
	// Linux either (other threads are killed); keep only the calling
	// task's TID.
	main := c.Tasks[c.CurrentTask]
	c.Tasks = []*TaskState{main}
	c.CurrentTask = 0
}

// Current returns the task currently selected to run.
func (c *Context) Current() *TaskState {
	return c.Tasks[c.CurrentTask]
}

// FutexWake reports how many waiters on addr were woken. With a single
// cooperatively scheduled task ever running at a time (FUTEX_WAIT never
// blocks; see sysFutex), there is never a waiter actually registered, so
// this always returns 0 — a conforming answer, not a stub, since nothing
// on this process ever suspends on a futex address.
func (c *Context) FutexWake(addr uint64, n int) int {
	return 0
}
