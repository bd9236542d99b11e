// Package arena implements the flat guest physical memory model: a single
// contiguous byte buffer backing the whole RV64 address space, plus the
// per-page attribute table overlaid on top of it.
//
// Grounded on the teacher's arena.go (bump-allocated scratch region backed
// by an mmap'd PROT_READ|PROT_WRITE|PROT_EXEC buffer) and safe_buffer.go
// (bounds-checked wrapper around a raw byte store). Unlike the teacher's
// arena, which backs one compiler invocation's scratch memory, this arena
// is the guest's entire physical address space and is shared, unmodified,
// with JIT'd native code.
package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RegisterFileSize is the size in bytes of the register file that lives at
// offset 0 of the arena: 32 integer registers (8 bytes each), 32 single
// precision floats (4 bytes each), 32 double precision floats (8 bytes
// each) = 256 + 128 + 256 = 640 bytes.
const RegisterFileSize = 32*8 + 32*4 + 32*8

// PageSize is the granularity of the page attribute table.
const PageSize = 4096

// PageShift is log2(PageSize).
const PageShift = 12

// FaultKind classifies a SegmentationFault.
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultWrite
	FaultExec
	FaultOutOfRange
)

func (k FaultKind) String() string {
	switch k {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultExec:
		return "exec"
	case FaultOutOfRange:
		return "out-of-range"
	default:
		return "unknown"
	}
}

// SegmentationFault is returned whenever a guest access falls outside the
// arena's backing bytes or violates a page permission. It is fatal to the
// execute-context that raised it; there is no recovery path.
type SegmentationFault struct {
	Addr uint64
	Kind FaultKind
}

func (f *SegmentationFault) Error() string {
	return fmt.Sprintf("segmentation fault: addr=0x%x kind=%s", f.Addr, f.Kind)
}

// ErrUnsupportedWidth is returned by load/store helpers given a width other
// than 1, 2, 4, or 8 bytes.
var ErrUnsupportedWidth = errors.New("arena: unsupported access width")

// Arena is the guest's flat physical memory. It is exclusively owned by the
// execution core; the JIT tier is handed a read-shared, write-shared handle
// to the same backing slice (never a copy) via Bytes.
type Arena struct {
	bytes []byte
	mask  uint64
	pages *PageTable
}

// New allocates an arena of size 2^bits bytes (bits should be 31 for a
// 2 GiB guest address space within a 32-bit host code-generation ceiling,
// per spec).
func New(bits uint) *Arena {
	size := uint64(1) << bits
	return &Arena{
		bytes: make([]byte, size),
		mask:  size - 1,
		pages: NewPageTable(),
	}
}

// Size returns the arena's total byte size.
func (a *Arena) Size() uint64 { return a.mask + 1 }

// Pages returns the page attribute table overlaid on this arena.
func (a *Arena) Pages() *PageTable { return a.pages }

// Bytes returns the arena's raw backing slice. Callers (notably the JIT
// tier) receive the same slice the interpreter mutates; there is exactly
// one owner of the underlying array.
func (a *Arena) Bytes() []byte { return a.bytes }

func (a *Arena) mapAddr(addr uint64) uint64 {
	return addr & a.mask
}

// inRange reports whether [addr, addr+n) lies entirely within the arena
// after masking. Guest addresses wrap via masking per spec, but an access
// that would span the wrap point is rejected outright rather than silently
// splitting across the seam.
func (a *Arena) inRange(addr uint64, n uint64) bool {
	off := a.mapAddr(addr)
	return off+n <= uint64(len(a.bytes))
}

// Load8/16/32/64 read a little-endian unsigned value of the given width at
// the given guest address. Misaligned accesses are permitted (RISC-V allows
// them); no alignment check is performed, matching hardware behavior where
// a misaligned load is logically four-to-eight aligned byte loads merged by
// the bus.
func (a *Arena) Load8(addr uint64) (uint8, error) {
	off := a.mapAddr(addr)
	if !a.inRange(addr, 1) {
		return 0, &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	return a.bytes[off], nil
}

func (a *Arena) Load16(addr uint64) (uint16, error) {
	if !a.inRange(addr, 2) {
		return 0, &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	return binary.LittleEndian.Uint16(a.bytes[off : off+2]), nil
}

func (a *Arena) Load32(addr uint64) (uint32, error) {
	if !a.inRange(addr, 4) {
		return 0, &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	return binary.LittleEndian.Uint32(a.bytes[off : off+4]), nil
}

func (a *Arena) Load64(addr uint64) (uint64, error) {
	if !a.inRange(addr, 8) {
		return 0, &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	return binary.LittleEndian.Uint64(a.bytes[off : off+8]), nil
}

func (a *Arena) Store8(addr uint64, v uint8) error {
	if !a.inRange(addr, 1) {
		return &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	a.bytes[off] = v
	a.noteWrite(addr, 1)
	return nil
}

func (a *Arena) Store16(addr uint64, v uint16) error {
	if !a.inRange(addr, 2) {
		return &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	binary.LittleEndian.PutUint16(a.bytes[off:off+2], v)
	a.noteWrite(addr, 2)
	return nil
}

func (a *Arena) Store32(addr uint64, v uint32) error {
	if !a.inRange(addr, 4) {
		return &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	binary.LittleEndian.PutUint32(a.bytes[off:off+4], v)
	a.noteWrite(addr, 4)
	return nil
}

func (a *Arena) Store64(addr uint64, v uint64) error {
	if !a.inRange(addr, 8) {
		return &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	binary.LittleEndian.PutUint64(a.bytes[off:off+8], v)
	a.noteWrite(addr, 8)
	return nil
}

// noteWrite marks the pages touched by a store as dirty in the page table
// when they are executable, so self-modifying code is visible to the JIT
// invalidation protocol (§4.H, §9 "self-modifying code").
func (a *Arena) noteWrite(addr uint64, n uint64) {
	first := addr >> PageShift
	last := (addr + n - 1) >> PageShift
	for p := first; p <= last; p++ {
		attr, ok := a.pages.Get(p)
		if ok && attr.Exec {
			attr.Dirty = true
			a.pages.Set(p, attr)
		}
	}
}

// MemArray returns a bounds-checked, host-addressable view into the arena.
// Grounded on safe_buffer.go's pattern of wrapping a raw store with an
// explicit bounds/lifecycle contract instead of handing out a bare slice
// with no guard.
func (a *Arena) MemArray(addr uint64, length uint64) ([]byte, error) {
	if !a.inRange(addr, length) {
		return nil, &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	return a.bytes[off : off+length], nil
}

// MemString reads bytes starting at addr until the first NUL (exclusive).
func (a *Arena) MemString(addr uint64) ([]byte, error) {
	off := a.mapAddr(addr)
	end := off
	for {
		if end >= uint64(len(a.bytes)) {
			return nil, &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
		}
		if a.bytes[end] == 0 {
			break
		}
		end++
	}
	return a.bytes[off:end], nil
}

// WriteAt copies src into the arena at addr, zero-fill free (callers that
// need zero-fill beyond src, e.g. ELF PT_LOAD's filesz..memsz gap, should
// call Zero separately). Used by the ELF loader's segment-copy step and by
// execve's argv/envp staging.
func (a *Arena) WriteAt(addr uint64, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if !a.inRange(addr, uint64(len(src))) {
		return &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	copy(a.bytes[off:off+uint64(len(src))], src)
	a.noteWrite(addr, uint64(len(src)))
	return nil
}

// Zero fills n bytes starting at addr with zero.
func (a *Arena) Zero(addr uint64, n uint64) error {
	if n == 0 {
		return nil
	}
	if !a.inRange(addr, n) {
		return &SegmentationFault{Addr: addr, Kind: FaultOutOfRange}
	}
	off := a.mapAddr(addr)
	clear(a.bytes[off : off+n])
	a.noteWrite(addr, n)
	return nil
}
