package rvsyscall

// CompleteStdinRequest finishes a read(fd=0) that HandleSyscall deferred to
// the embedder (doRead returns stop=true, blockOnInput=true for fd 0
// instead of servicing it directly, since only the outer loop holds the
// I/O bridge). The embedder performs the STDIN_REQUEST/STDIN_READY round
// trip itself, then calls this with whatever bytes came back.
func (h *Handler) CompleteStdinRequest(data []byte) {
	bufAddr := h.Regs.GetArg(1)
	count := h.Regs.GetArg(2)
	if uint64(len(data)) > count {
		data = data[:count]
	}
	if err := h.A.WriteAt(bufAddr, data); err != nil {
		h.Regs.SetResult(errno(EFAULT))
		return
	}
	h.Regs.SetResult(int64(len(data)))
}
