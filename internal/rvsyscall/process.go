package rvsyscall

import (
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/elfload"
	"github.com/xyproto/rv64x/internal/execctx"
)

// readStringVector reads a NULL-terminated array of guest char* pointers
// (argv/envp's guest layout) into host strings.
func (h *Handler) readStringVector(addr uint64) ([]string, error) {
	var out []string
	for i := 0; ; i++ {
		ptr, err := h.A.Load64(addr + uint64(i)*8)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return out, nil
		}
		s, err := h.A.MemString(ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, string(s))
	}
}

// sysExecve implements the execve protocol's syscall-handler half
// (spec.md §4.D steps 1-3): copy argv/envp into host-owned buffers before
// A is reused, mark the context stopped, and hand control back to dispatch.
// The outer loop is responsible for steps 4-7, performed by Resume below.
func (h *Handler) sysExecve() (bool, bool) {
	path, err := h.readPathArg(0)
	if err != nil {
		return h.stubErr(EFAULT)
	}
	argv, err := h.readStringVector(h.Regs.GetArg(1))
	if err != nil {
		return h.stubErr(EFAULT)
	}
	envp, err := h.readStringVector(h.Regs.GetArg(2))
	if err != nil {
		return h.stubErr(EFAULT)
	}

	h.Pending = &ExecveRequest{Path: path, Argv: argv, Envp: envp}
	h.Ctx.Stopped = true
	h.Ctx.StopReason = "execve"
	return true, false
}

// Resume performs the execve protocol's outer-loop half (steps 4-7): evict
// every decoded instruction (the old image's code is no longer valid at
// any of its old addresses once A is overwritten), load the new binary,
// and position the register file at its entry point. Called by the
// embedder once it observes Ctx.Stopped && Ctx.StopReason == "execve".
func (h *Handler) Resume(cache *cpu.DecodeCache) error {
	req := h.Pending
	h.Pending = nil
	cache.EvictAll()
	h.Ctx.ResetForExecve()

	result, err := elfload.Load(h.A, h.FS, h.Ctx, req.Path, req.Argv, req.Envp)
	if err != nil {
		return err
	}
	h.Regs.SetPC(result.EntryPC)
	h.Regs.SetX(2, result.StackTop) // sp
	h.Ctx.Stopped = false
	h.Ctx.StopReason = ""
	return nil
}

func (h *Handler) sysClone() (bool, bool) {
	flags := h.Regs.GetArg(0)
	child := &execctx.TaskState{TID: h.Ctx.Pid + int32(len(h.Ctx.Tasks))}
	for i := 0; i < cpu.NumIntRegs; i++ {
		child.Regs[i] = h.Regs.GetX(i)
	}
	child.PC = h.Regs.GetPC() + 4 // past the ecall that invoked clone
	h.Ctx.Tasks = append(h.Ctx.Tasks, child)
	_ = flags
	// The cooperative scheduler records the child's existence for
	// getpid/gettid/wait4-family bookkeeping; actually interleaving its
	// execution with the parent would require swapping the full 640-byte
	// register file living at arena offset 0 on every dispatch turn, which
	// the single-Dispatcher execution core does not yet do.
	h.Regs.SetResult(int64(child.TID))
	return false, false
}

func (h *Handler) sysExit() (bool, bool) {
	code := int(h.Regs.GetArg(0))
	h.Ctx.Current().Exited = true
	h.Ctx.Current().ExitCode = code
	h.Ctx.Exited = true
	h.Ctx.ExitCode = code
	h.Ctx.Stopped = true
	h.Ctx.StopReason = "exit"
	return true, false
}

func (h *Handler) sysExitGroup() (bool, bool) {
	code := int(h.Regs.GetArg(0))
	h.Ctx.Exited = true
	h.Ctx.ExitCode = code
	h.Ctx.Stopped = true
	h.Ctx.StopReason = "exit_group"
	return true, false
}

func (h *Handler) sysPrlimit64() (bool, bool) {
	oldLimit := h.Regs.GetArg(3)
	if oldLimit != 0 {
		const rlimInfinity = ^uint64(0)
		var buf [16]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(rlimInfinity >> (8 * i))
			buf[8+i] = byte(rlimInfinity >> (8 * i))
		}
		_ = h.A.WriteAt(oldLimit, buf[:])
	}
	return h.stubOK()
}
