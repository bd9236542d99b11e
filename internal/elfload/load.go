package elfload

import (
	"fmt"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/vfs"
)

// InterpBaseAddress is where a PT_INTERP dynamic linker (or a PIE main
// image) is placed, a high address chosen to stay well clear of a
// non-PIE executable's low, fixed segments while remaining within the
// 32-bit host code-generation ceiling the spec requires (N=31 arena).
const InterpBaseAddress = 0x2aaa_0000

// DefaultStackTop is the guest stack's initial top, just below the
// interpreter base, leaving room below it for heap growth from a
// low-address executable's BSS.
const DefaultStackTop = InterpBaseAddress - 0x10000

// Result is everything execve/the initial load need to finish wiring up
// an execute context and set the entry PC.
type Result struct {
	EntryPC    uint64
	StackTop   uint64
	MainBase   uint64
	InterpBase uint64
}

// Load implements spec.md §4.F's program-load sequence: parse, map
// PT_LOAD segments, discover and load PT_INTERP if present, build the
// auxiliary vector and argv/envp layout on the guest stack, and return
// the PC dispatch should resume at.
func Load(a *arena.Arena, fs *vfs.VFS, ctx *execctx.Context, path string, argv, envp []string) (Result, error) {
	entry, err := fs.Lookup(path)
	if err != nil {
		return Result{}, fmt.Errorf("elfload: %s: %w", path, err)
	}
	img, err := Parse(entry.Data)
	if err != nil {
		return Result{}, fmt.Errorf("elfload: %s: %w", path, err)
	}

	var mainBias uint64
	if img.IsPIE() {
		mainBias = InterpBaseAddress / 2 // keep PIE clear of the interpreter's own base
	}
	mainSegs, err := MapSegments(a, img, mainBias)
	if err != nil {
		return Result{}, err
	}

	var interpBase, interpEntry uint64
	var interpSegs []LoadedSegment
	if img.Interp != "" {
		interpBase = InterpBaseAddress
		interpEntryImg, err := fs.Lookup(img.Interp)
		if err != nil {
			return Result{}, fmt.Errorf("elfload: interpreter %s: %w", img.Interp, err)
		}
		interpImg, err := Parse(interpEntryImg.Data)
		if err != nil {
			return Result{}, fmt.Errorf("elfload: interpreter %s: %w", img.Interp, err)
		}
		interpSegs, err = MapSegments(a, interpImg, interpBase)
		if err != nil {
			return Result{}, err
		}
		interpEntry = interpImg.EntryPoint(interpBase)
	}

	ctx.Segments = ctx.Segments[:0]
	for _, s := range mainSegs {
		ctx.Segments = append(ctx.Segments, execctx.SegmentInfo{Base: s.Base, Size: s.Size, Read: s.Read, Write: s.Write, Exec: s.Exec, Path: path})
	}
	for _, s := range interpSegs {
		ctx.Segments = append(ctx.Segments, execctx.SegmentInfo{Base: s.Base, Size: s.Size, Read: s.Read, Write: s.Write, Exec: s.Exec, Path: img.Interp})
	}
	ctx.ExecPath = path
	ctx.InterpBase, ctx.InterpEntry = interpBase, interpEntry

	// Establish a post-BSS heap cursor for brk(2): the highest address
	// covered by any main-image PT_LOAD segment, page-rounded up.
	var heapBase uint64
	for _, s := range mainSegs {
		if end := s.Base + s.Size; end > heapBase {
			heapBase = end
		}
	}
	heapBase = (heapBase + arena.PageSize - 1) &^ (arena.PageSize - 1)
	ctx.BrkBase, ctx.BrkCurrent = heapBase, heapBase
	ctx.HeapBase = heapBase

	stackTop := uint64(DefaultStackTop)
	layout, err := BuildInitialStack(a, stackTop, argv, envp, img, mainBias, interpBase, interpEntry, path)
	if err != nil {
		return Result{}, err
	}
	ctx.StackTop = layout.StackPointer

	entryPC := img.EntryPoint(mainBias)
	if img.Interp != "" {
		entryPC = interpEntry
	}

	return Result{
		EntryPC:    entryPC,
		StackTop:   layout.StackPointer,
		MainBase:   mainBias,
		InterpBase: interpBase,
	}, nil
}
