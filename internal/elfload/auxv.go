package elfload

import (
	"crypto/rand"

	"github.com/xyproto/rv64x/internal/arena"
)

// Standard Linux AT_* auxv tags the loader emits (spec.md §4.F minimum
// set). Ordering and AT_RANDOM's 16-byte-before-the-vector placement are
// resolved from the real userland-guest loaders visible in
// other_examples/ (gVisor's loader shape), since spec.md itself is silent
// on exact layout beyond naming the required tags.
const (
	AT_NULL     = 0
	AT_PHDR     = 3
	AT_PHENT    = 4
	AT_PHNUM    = 5
	AT_PAGESZ   = 6
	AT_BASE     = 7
	AT_ENTRY    = 9
	AT_UID      = 11
	AT_EUID     = 12
	AT_GID      = 13
	AT_EGID     = 14
	AT_HWCAP    = 16
	AT_CLKTCK   = 17
	AT_SECURE   = 23
	AT_RANDOM   = 25
	AT_EXECFN   = 31
)

// StackLayout describes where argv/envp/auxv landed, for the initial
// register file (sp must point at argc on entry).
type StackLayout struct {
	StackPointer uint64
}

// BuildInitialStack lays out the Linux process-entry stack image at the
// top of the guest stack region: argc, argv[], NULL, envp[], NULL,
// auxv[], NULL, then the string data those pointers reference, growing
// down from stackTop. Returns the final stack pointer to install into sp
// (x2) before entering the interpreter or dynamic linker.
func BuildInitialStack(a *arena.Arena, stackTop uint64, argv, envp []string, img *Image, loadBias, interpBase, interpEntry uint64, execfn string) (StackLayout, error) {
	sp := stackTop

	writeStr := func(s string) (uint64, error) {
		n := uint64(len(s) + 1)
		sp -= n
		sp &^= 0x7 // keep string storage 8-byte aligned as we go
		if err := a.WriteAt(sp, append([]byte(s), 0)); err != nil {
			return 0, err
		}
		return sp, nil
	}

	var randBytes [16]byte
	_, _ = rand.Read(randBytes[:])
	sp -= 16
	if err := a.WriteAt(sp, randBytes[:]); err != nil {
		return StackLayout{}, err
	}
	randAddr := sp

	execfnAddr, err := writeStr(execfn)
	if err != nil {
		return StackLayout{}, err
	}

	argvAddrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		addr, err := writeStr(argv[i])
		if err != nil {
			return StackLayout{}, err
		}
		argvAddrs[i] = addr
	}
	envpAddrs := make([]uint64, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		addr, err := writeStr(envp[i])
		if err != nil {
			return StackLayout{}, err
		}
		envpAddrs[i] = addr
	}

	type auxEntry struct{ tag, val uint64 }
	aux := []auxEntry{
		{AT_PHDR, img.Header.PhOff + loadBias},
		{AT_PHENT, uint64(img.Header.PhEntSize)},
		{AT_PHNUM, uint64(len(img.Phdrs))},
		{AT_PAGESZ, arena.PageSize},
		{AT_BASE, interpBase},
		{AT_ENTRY, img.EntryPoint(loadBias)},
		{AT_UID, 0}, {AT_EUID, 0}, {AT_GID, 0}, {AT_EGID, 0},
		{AT_HWCAP, 0},
		{AT_CLKTCK, 100},
		{AT_SECURE, 0},
		{AT_RANDOM, randAddr},
		{AT_EXECFN, execfnAddr},
		{AT_NULL, 0},
	}
	_ = interpEntry // entry PC is set by the caller directly; kept for signature symmetry

	// Total size of argc + argv ptrs + NULL + envp ptrs + NULL + auxv pairs.
	total := 8 + uint64(len(argvAddrs)+1+len(envpAddrs)+1)*8 + uint64(len(aux))*16
	sp -= total
	sp &^= 0xf // 16-byte align the initial stack pointer per the RISC-V ABI

	cursor := sp
	putU64 := func(v uint64) error {
		if err := a.Store64(cursor, v); err != nil {
			return err
		}
		cursor += 8
		return nil
	}
	if err := putU64(uint64(len(argv))); err != nil {
		return StackLayout{}, err
	}
	for _, addr := range argvAddrs {
		if err := putU64(addr); err != nil {
			return StackLayout{}, err
		}
	}
	if err := putU64(0); err != nil {
		return StackLayout{}, err
	}
	for _, addr := range envpAddrs {
		if err := putU64(addr); err != nil {
			return StackLayout{}, err
		}
	}
	if err := putU64(0); err != nil {
		return StackLayout{}, err
	}
	for _, e := range aux {
		if err := putU64(e.tag); err != nil {
			return StackLayout{}, err
		}
		if err := putU64(e.val); err != nil {
			return StackLayout{}, err
		}
	}

	return StackLayout{StackPointer: sp}, nil
}
