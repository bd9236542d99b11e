// Package elfload implements ELF parsing, PT_LOAD segment mapping,
// PT_INTERP dynamic-linker discovery, and auxiliary-vector construction
// (spec.md §4.F).
//
// The header/program-header layout and constant tables are grounded on
// the teacher's own ELF *writer* code (elf_writer.go, elf_complete.go,
// elf_dynamic.go, elf_static.go, elf_sections.go): rv64x's loader is the
// mirror-image reader of what that code emits, reusing its segment-type
// and section-layout naming rather than inventing a fresh vocabulary.
// Unlike the teacher, which only ever targets x86-64/arm64 output, this
// reader recognizes e_machine EM_RISCV (243) since the guest is always
// RV64GC.
package elfload

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xyproto/rv64x/internal/arena"
)

const (
	EI_MAG0    = 0x7f
	ElfClass64 = 2
	ElfDataLE  = 1

	EM_RISCV = 243

	ET_EXEC = 2
	ET_DYN  = 3

	PT_NULL   = 0
	PT_LOAD   = 1
	PT_DYNAMIC = 2
	PT_INTERP = 3
	PT_PHDR   = 6

	PF_X = 1
	PF_W = 2
	PF_R = 4
)

var ErrBadMagic = errors.New("elfload: not an ELF file")
var ErrUnsupportedClass = errors.New("elfload: only 64-bit little-endian ELF is supported")
var ErrUnsupportedMachine = errors.New("elfload: not a RISC-V ELF")

// Header64 is the subset of the ELF64 file header the loader consults.
type Header64 struct {
	Type      uint16
	Machine   uint16
	Entry     uint64
	PhOff     uint64
	PhEntSize uint16
	PhNum     uint16
}

// ProgramHeader64 is one Phdr entry.
type ProgramHeader64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// Image is a parsed ELF file: its header, program headers, and the raw
// bytes (needed for the after-segment-load re-copy pass, since each
// PT_LOAD must be re-copied into the arena from the source bytes rather
// than trusted to have landed correctly via any page-level API).
type Image struct {
	Header  Header64
	Phdrs   []ProgramHeader64
	Raw     []byte
	Interp  string // non-empty if a PT_INTERP segment was found
}

// Parse reads an ELF64 little-endian RISC-V image from raw.
func Parse(raw []byte) (*Image, error) {
	if len(raw) < 64 || raw[0] != EI_MAG0 || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return nil, ErrBadMagic
	}
	if raw[4] != ElfClass64 {
		return nil, ErrUnsupportedClass
	}
	if raw[5] != ElfDataLE {
		return nil, ErrUnsupportedClass
	}

	img := &Image{Raw: raw}
	h := &img.Header
	h.Type = binary.LittleEndian.Uint16(raw[16:18])
	h.Machine = binary.LittleEndian.Uint16(raw[18:20])
	if h.Machine != EM_RISCV {
		return nil, ErrUnsupportedMachine
	}
	h.Entry = binary.LittleEndian.Uint64(raw[24:32])
	h.PhOff = binary.LittleEndian.Uint64(raw[32:40])
	h.PhEntSize = binary.LittleEndian.Uint16(raw[54:56])
	h.PhNum = binary.LittleEndian.Uint16(raw[56:58])

	for i := 0; i < int(h.PhNum); i++ {
		off := h.PhOff + uint64(i)*uint64(h.PhEntSize)
		if off+56 > uint64(len(raw)) {
			return nil, fmt.Errorf("elfload: program header %d out of range", i)
		}
		ph := ProgramHeader64{
			Type:   binary.LittleEndian.Uint32(raw[off : off+4]),
			Flags:  binary.LittleEndian.Uint32(raw[off+4 : off+8]),
			Offset: binary.LittleEndian.Uint64(raw[off+8 : off+16]),
			VAddr:  binary.LittleEndian.Uint64(raw[off+16 : off+24]),
			FileSz: binary.LittleEndian.Uint64(raw[off+32 : off+40]),
			MemSz:  binary.LittleEndian.Uint64(raw[off+40 : off+48]),
			Align:  binary.LittleEndian.Uint64(raw[off+48 : off+56]),
		}
		img.Phdrs = append(img.Phdrs, ph)
		if ph.Type == PT_INTERP {
			end := ph.Offset + ph.FileSz
			if end > uint64(len(raw)) {
				return nil, fmt.Errorf("elfload: PT_INTERP out of range")
			}
			name := raw[ph.Offset:end]
			if n := len(name); n > 0 && name[n-1] == 0 {
				name = name[:n-1]
			}
			img.Interp = string(name)
		}
	}
	return img, nil
}

// LoadedSegment records where one PT_LOAD segment landed, for the
// execute-context segment table / /proc/self/maps.
type LoadedSegment struct {
	Base  uint64
	Size  uint64
	Read  bool
	Write bool
	Exec  bool
}

// MapSegments copies every PT_LOAD segment's p_filesz bytes into a at
// p_vaddr+bias, zero-fills the filesz..memsz gap, and updates the arena's
// page attribute table per segment flags. bias is added to every vaddr,
// used to relocate PIE/ET_DYN images (the dynamic linker and PIE
// executables) to a chosen base address; it is 0 for a non-PIE ET_EXEC.
//
// Per the "arena/page duality" design note, this is the after-segment-load
// re-copy pass: bytes are written directly into the arena from img.Raw
// after every page-table update, so both the flat-indexing view and the
// page-metadata-aware view agree.
func MapSegments(a *arena.Arena, img *Image, bias uint64) ([]LoadedSegment, error) {
	var segs []LoadedSegment
	for _, ph := range img.Phdrs {
		if ph.Type != PT_LOAD {
			continue
		}
		vaddr := ph.VAddr + bias
		attr := arena.PageAttr{
			Read:  ph.Flags&PF_R != 0,
			Write: ph.Flags&PF_W != 0,
			Exec:  ph.Flags&PF_X != 0,
		}
		a.Pages().SetRange(vaddr, ph.MemSz, attr)
		if ph.FileSz > 0 {
			end := ph.Offset + ph.FileSz
			if end > uint64(len(img.Raw)) {
				return nil, fmt.Errorf("elfload: PT_LOAD file range out of bounds")
			}
			if err := a.WriteAt(vaddr, img.Raw[ph.Offset:end]); err != nil {
				return nil, err
			}
		}
		if ph.MemSz > ph.FileSz {
			if err := a.Zero(vaddr+ph.FileSz, ph.MemSz-ph.FileSz); err != nil {
				return nil, err
			}
		}
		segs = append(segs, LoadedSegment{
			Base:  vaddr,
			Size:  ph.MemSz,
			Read:  attr.Read,
			Write: attr.Write,
			Exec:  attr.Exec,
		})
	}
	return segs, nil
}

// EntryPoint returns this image's entry point relocated by bias
// (the ELF header's e_entry plus bias).
func (img *Image) EntryPoint(bias uint64) uint64 {
	return img.Header.Entry + bias
}

func (img *Image) IsPIE() bool {
	return img.Header.Type == ET_DYN
}
