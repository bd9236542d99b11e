// Package execmem allocates executable host memory for compiled regions.
// Grounded on the teacher's arena.go generateArenaInit, which emits a
// guest-side mmap(PROT_READ|PROT_WRITE|PROT_EXEC, MAP_PRIVATE|MAP_ANONYMOUS)
// call; execmem performs the host-side equivalent directly via
// golang.org/x/sys/unix (the teacher's own second dependency) so the JIT
// tier can hand the interpreter a real callable native function.
package execmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Block is one mmap'd executable allocation holding a single compiled
// region's machine code.
type Block struct {
	mem []byte
}

// Alloc copies code into a freshly mmap'd RWX page-aligned region and
// returns a handle to it. The region is never resized; a recompiled
// region gets a fresh Block and the old one is unmapped by Free.
func Alloc(code []byte) (*Block, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("execmem: empty code block")
	}
	size := pageRound(len(code))
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("execmem: mmap: %w", err)
	}
	copy(mem, code)
	return &Block{mem: mem}, nil
}

func pageRound(n int) int {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// EntryFunc is the native entry signature compiled regions expose:
// run(state_ptr, arena_ptr, entry_pc) -> result (spec.md §4.G).
type EntryFunc func(statePtr, arenaPtr unsafe.Pointer, entryPC uint64) uint32

// Free unmaps the block's memory. Callers must not invoke its entry
// function again afterward.
func (b *Block) Free() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// Addr returns the block's base address, for registering with the
// manager's region table and for diagnostics.
func (b *Block) Addr() uintptr {
	if len(b.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.mem[0]))
}
