package rvsyscall

import "github.com/xyproto/rv64x/internal/arena"

const (
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

// defaultMmapTop is the initial bump pointer for anonymous mmap when the
// loader hasn't placed anything there yet: well above the interpreter's own
// base so guest allocations don't collide with it.
const defaultMmapTop = 0x4000_0000

func (h *Handler) sysBrk() (bool, bool) {
	addr := h.Regs.GetArg(0)
	if addr == 0 {
		h.Regs.SetResult(int64(h.Ctx.BrkCurrent))
		return false, false
	}
	if addr < h.Ctx.BrkBase || addr >= h.A.Size() {
		h.Regs.SetResult(int64(h.Ctx.BrkCurrent))
		return false, false
	}
	if addr > h.Ctx.BrkCurrent {
		if err := h.A.Zero(h.Ctx.BrkCurrent, addr-h.Ctx.BrkCurrent); err != nil {
			h.Regs.SetResult(int64(h.Ctx.BrkCurrent))
			return false, false
		}
	}
	h.A.Pages().SetRange(h.Ctx.BrkBase, addr-h.Ctx.BrkBase, arena.PageAttr{Read: true, Write: true})
	h.Ctx.BrkCurrent = addr
	h.Regs.SetResult(int64(addr))
	return false, false
}

func (h *Handler) sysMmap() (bool, bool) {
	addr := h.Regs.GetArg(0)
	length := h.Regs.GetArg(1)
	prot := uint64(h.Regs.GetArg(2))
	flags := h.Regs.GetArg(3)

	length = (length + arena.PageSize - 1) &^ (arena.PageSize - 1)
	if flags&mapAnonymous == 0 {
		return h.stubErr(ENOSYS) // file-backed mmap: not modeled
	}

	var base uint64
	if flags&mapFixed != 0 {
		if addr+length > h.A.Size() {
			return h.stubErr(ENOMEM)
		}
		base = addr
	} else {
		if h.Ctx.MmapTop == 0 {
			h.Ctx.MmapTop = defaultMmapTop
		}
		base = h.Ctx.MmapTop
		if base+length > h.A.Size() {
			return h.stubErr(ENOMEM)
		}
		h.Ctx.MmapTop = base + length
	}

	if err := h.A.Zero(base, length); err != nil {
		return h.stubErr(ENOMEM)
	}
	attr := arena.PageAttr{
		Read:  prot&0x1 != 0,
		Write: prot&0x2 != 0,
		Exec:  prot&0x4 != 0,
	}
	h.A.Pages().SetRange(base, length, attr)
	h.Regs.SetResult(int64(base))
	return false, false
}

func (h *Handler) sysMunmap() (bool, bool) {
	addr := h.Regs.GetArg(0)
	length := h.Regs.GetArg(1)
	h.A.Pages().SetRange(addr, length, arena.PageAttr{})
	return h.stubOK()
}

func (h *Handler) sysMprotect() (bool, bool) {
	addr := h.Regs.GetArg(0)
	length := h.Regs.GetArg(1)
	prot := h.Regs.GetArg(2)
	attr := arena.PageAttr{
		Read:  prot&0x1 != 0,
		Write: prot&0x2 != 0,
		Exec:  prot&0x4 != 0,
		// mprotect can change the executability of a region the JIT has
		// already compiled even without any byte in it changing; marking
		// every covered page dirty piggybacks on the same page-dirty check
		// GetCompiledRegion already performs on every store, instead of
		// needing a second invalidation path into the JIT manager.
		Dirty: true,
	}
	h.A.Pages().SetRange(addr, length, attr)
	return h.stubOK()
}
