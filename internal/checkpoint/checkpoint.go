// Package checkpoint implements spec.md §6's checkpoint format: a fixed
// header, serialized CPU/MM/execute-context state, and a sparse encoding
// of the guest's resident memory. Grounded on the teacher's own ELF
// object-writing discipline (elfload's Parse/MapSegments read the same
// kind of fixed-header-then-sections layout this package writes), applied
// here to a save-state format instead of an executable format.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/execctx"
	"github.com/xyproto/rv64x/internal/vfs"
)

// Magic identifies the format; Version allows the layout to evolve.
const (
	Magic   uint32 = 0x52563658 // "RV6X"
	Version uint32 = 1
)

// scanChunk is the sparse-arena scan granularity: a 64 KiB window is
// emitted as one chunk unless every byte in it is zero, in which case it
// is skipped entirely.
const scanChunk = 64 * 1024

// sentinelAddr terminates the sparse-arena section.
const sentinelAddr = 0xFFFFFFFFFFFFFFFF

// Save writes a checkpoint of the given CPU/memory/execute-context state
// to w, per spec.md §6's field order: header, CPU state, MM cursors,
// execute context, thread scheduler, epoll instances, eventfd counters,
// executable page list, sparse arena.
func Save(w io.Writer, a *arena.Arena, regs *cpu.RegFile, ctx *execctx.Context, fds *vfs.FDTable) error {
	bw := bufio.NewWriter(w)

	if err := writeU32(bw, Magic); err != nil {
		return err
	}
	if err := writeU32(bw, Version); err != nil {
		return err
	}

	if err := saveCPUState(bw, regs); err != nil {
		return err
	}
	if err := saveMMCursors(bw, ctx); err != nil {
		return err
	}
	if err := saveExecContext(bw, ctx); err != nil {
		return err
	}
	if err := saveTasks(bw, ctx); err != nil {
		return err
	}
	if err := saveEpolls(bw, fds); err != nil {
		return err
	}
	if err := saveEventFDs(bw, fds); err != nil {
		return err
	}
	if err := saveExecutablePages(bw, a); err != nil {
		return err
	}
	if err := saveSparseArena(bw, a); err != nil {
		return err
	}

	return bw.Flush()
}

func saveCPUState(w io.Writer, regs *cpu.RegFile) error {
	if err := writeU64(w, regs.GetPC()); err != nil {
		return err
	}
	if err := writeU32(w, regs.GetFCSR()); err != nil {
		return err
	}
	for i := 0; i < cpu.NumIntRegs; i++ {
		if err := writeU64(w, regs.GetX(i)); err != nil {
			return err
		}
	}
	for i := 0; i < cpu.NumFPRegs; i++ {
		if err := writeU64(w, math.Float64bits(regs.GetF64(i))); err != nil {
			return err
		}
	}
	return nil
}

func saveMMCursors(w io.Writer, ctx *execctx.Context) error {
	for _, v := range []uint64{ctx.MmapTop, ctx.BrkBase, ctx.BrkCurrent} {
		if err := writeU64(w, v); err != nil {
			return err
		}
	}
	return nil
}

func saveExecContext(w io.Writer, ctx *execctx.Context) error {
	if err := writeU32(w, uint32(len(ctx.Segments))); err != nil {
		return err
	}
	for _, seg := range ctx.Segments {
		for _, v := range []uint64{seg.Base, seg.Size} {
			if err := writeU64(w, v); err != nil {
				return err
			}
		}
		if err := writeBool(w, seg.Read); err != nil {
			return err
		}
		if err := writeBool(w, seg.Write); err != nil {
			return err
		}
		if err := writeBool(w, seg.Exec); err != nil {
			return err
		}
		if err := writeString(w, seg.Path); err != nil {
			return err
		}
	}
	for _, v := range []uint64{ctx.InterpBase, ctx.InterpEntry, ctx.StackTop, ctx.HeapBase, ctx.HeapSize} {
		if err := writeU64(w, v); err != nil {
			return err
		}
	}
	if err := writeBool(w, ctx.Stopped); err != nil {
		return err
	}
	if err := writeString(w, ctx.StopReason); err != nil {
		return err
	}
	if err := writeBool(w, ctx.Exited); err != nil {
		return err
	}
	return writeU32(w, uint32(ctx.ExitCode))
}

func saveTasks(w io.Writer, ctx *execctx.Context) error {
	if err := writeU32(w, uint32(len(ctx.Tasks))); err != nil {
		return err
	}
	for _, t := range ctx.Tasks {
		if err := writeU32(w, uint32(t.TID)); err != nil {
			return err
		}
		for _, v := range t.Regs {
			if err := writeU64(w, v); err != nil {
				return err
			}
		}
		if err := writeU64(w, t.PC); err != nil {
			return err
		}
		if err := writeBool(w, t.Exited); err != nil {
			return err
		}
		if err := writeU32(w, uint32(t.ExitCode)); err != nil {
			return err
		}
		if err := writeU64(w, t.ClearTID); err != nil {
			return err
		}
	}
	return writeU32(w, uint32(ctx.CurrentTask))
}

func saveEpolls(w io.Writer, fds *vfs.FDTable) error {
	epolls := fds.Epolls()
	if err := writeU32(w, uint32(len(epolls))); err != nil {
		return err
	}
	for fd, inst := range epolls {
		if err := writeU32(w, uint32(fd)); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(inst.Interests))); err != nil {
			return err
		}
		for targetFd, interest := range inst.Interests {
			if err := writeU32(w, uint32(targetFd)); err != nil {
				return err
			}
			if err := writeU32(w, interest.Events); err != nil {
				return err
			}
			if err := writeU64(w, interest.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

func saveEventFDs(w io.Writer, fds *vfs.FDTable) error {
	var entries []struct {
		fd  int
		val uint64
	}
	for fd, of := range fds.Files() {
		if of.Kind == vfs.KindEventFD {
			entries = append(entries, struct {
				fd  int
				val uint64
			}{fd, of.EventCtr})
		}
	}
	if err := writeU32(w, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeU32(w, uint32(e.fd)); err != nil {
			return err
		}
		if err := writeU64(w, e.val); err != nil {
			return err
		}
	}
	return nil
}

func saveExecutablePages(w io.Writer, a *arena.Arena) error {
	pages := a.Pages().ExecutablePages()
	if err := writeU32(w, uint32(len(pages))); err != nil {
		return err
	}
	for _, p := range pages {
		if err := writeU64(w, p); err != nil {
			return err
		}
	}
	return nil
}

// saveSparseArena scans the arena in 64 KiB windows, emitting
// {addr, len, bytes} for every window with at least one nonzero byte and
// skipping all-zero windows entirely, then writes the {sentinel, 0}
// terminator.
func saveSparseArena(w io.Writer, a *arena.Arena) error {
	data := a.Bytes()
	for addr := uint64(0); addr < uint64(len(data)); addr += scanChunk {
		end := addr + scanChunk
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		chunk := data[addr:end]
		if isAllZero(chunk) {
			continue
		}
		if err := writeU64(w, addr); err != nil {
			return err
		}
		if err := writeU64(w, uint64(len(chunk))); err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	if err := writeU64(w, sentinelAddr); err != nil {
		return err
	}
	return writeU64(w, 0)
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeBool(w io.Writer, b bool) error {
	if b {
		return writeU32(w, 1)
	}
	return writeU32(w, 0)
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// Restore reads a checkpoint written by Save back into a freshly allocated
// arena/context/fd table, returning them ready for the dispatch loop to
// resume against. The arena and FD table must be newly constructed
// (matching size) since Restore never allocates one itself.
func Restore(r io.Reader, a *arena.Arena, regs *cpu.RegFile, fds *vfs.FDTable) (*execctx.Context, error) {
	br := bufio.NewReader(r)

	magic, err := readU32(br)
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("checkpoint: bad magic %#x", magic)
	}
	version, err := readU32(br)
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("checkpoint: unsupported version %d", version)
	}

	if err := restoreCPUState(br, regs); err != nil {
		return nil, err
	}

	ctx := execctx.New(0)
	if err := restoreMMCursors(br, ctx); err != nil {
		return nil, err
	}
	if err := restoreExecContext(br, ctx); err != nil {
		return nil, err
	}
	if err := restoreTasks(br, ctx); err != nil {
		return nil, err
	}
	if err := restoreEpolls(br, fds); err != nil {
		return nil, err
	}
	if err := restoreEventFDs(br, fds); err != nil {
		return nil, err
	}
	if err := restoreExecutablePages(br, a, ctx); err != nil {
		return nil, err
	}
	if err := restoreSparseArena(br, a); err != nil {
		return nil, err
	}
	return ctx, nil
}

func restoreCPUState(r io.Reader, regs *cpu.RegFile) error {
	pc, err := readU64(r)
	if err != nil {
		return err
	}
	fcsr, err := readU32(r)
	if err != nil {
		return err
	}
	for i := 0; i < cpu.NumIntRegs; i++ {
		v, err := readU64(r)
		if err != nil {
			return err
		}
		regs.SetX(i, v)
	}
	for i := 0; i < cpu.NumFPRegs; i++ {
		bits, err := readU64(r)
		if err != nil {
			return err
		}
		regs.SetF64(i, math.Float64frombits(bits))
	}
	regs.SetPC(pc)
	regs.SetFCSR(fcsr)
	return nil
}

func restoreMMCursors(r io.Reader, ctx *execctx.Context) error {
	v, err := readU64s(r, 3)
	if err != nil {
		return err
	}
	ctx.MmapTop, ctx.BrkBase, ctx.BrkCurrent = v[0], v[1], v[2]
	return nil
}

func restoreExecContext(r io.Reader, ctx *execctx.Context) error {
	n, err := readU32(r)
	if err != nil {
		return err
	}
	ctx.Segments = make([]execctx.SegmentInfo, n)
	for i := range ctx.Segments {
		v, err := readU64s(r, 2)
		if err != nil {
			return err
		}
		read, err := readBool(r)
		if err != nil {
			return err
		}
		write, err := readBool(r)
		if err != nil {
			return err
		}
		exec, err := readBool(r)
		if err != nil {
			return err
		}
		path, err := readString(r)
		if err != nil {
			return err
		}
		ctx.Segments[i] = execctx.SegmentInfo{Base: v[0], Size: v[1], Read: read, Write: write, Exec: exec, Path: path}
	}
	rest, err := readU64s(r, 5)
	if err != nil {
		return err
	}
	ctx.InterpBase, ctx.InterpEntry, ctx.StackTop, ctx.HeapBase, ctx.HeapSize = rest[0], rest[1], rest[2], rest[3], rest[4]
	stopped, err := readBool(r)
	if err != nil {
		return err
	}
	reason, err := readString(r)
	if err != nil {
		return err
	}
	exited, err := readBool(r)
	if err != nil {
		return err
	}
	code, err := readU32(r)
	if err != nil {
		return err
	}
	ctx.Stopped, ctx.StopReason, ctx.Exited, ctx.ExitCode = stopped, reason, exited, int(code)
	return nil
}

func restoreTasks(r io.Reader, ctx *execctx.Context) error {
	n, err := readU32(r)
	if err != nil {
		return err
	}
	tasks := make([]*execctx.TaskState, n)
	for i := range tasks {
		tid, err := readU32(r)
		if err != nil {
			return err
		}
		t := &execctx.TaskState{TID: int32(tid)}
		for j := range t.Regs {
			v, err := readU64(r)
			if err != nil {
				return err
			}
			t.Regs[j] = v
		}
		pc, err := readU64(r)
		if err != nil {
			return err
		}
		exited, err := readBool(r)
		if err != nil {
			return err
		}
		exitCode, err := readU32(r)
		if err != nil {
			return err
		}
		clearTID, err := readU64(r)
		if err != nil {
			return err
		}
		t.PC, t.Exited, t.ExitCode, t.ClearTID = pc, exited, int(exitCode), clearTID
		tasks[i] = t
	}
	cur, err := readU32(r)
	if err != nil {
		return err
	}
	ctx.Tasks = tasks
	ctx.CurrentTask = int(cur)
	return nil
}

func restoreEpolls(r io.Reader, fds *vfs.FDTable) error {
	n, err := readU32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := readU32(r); err != nil { // fd; AllocEpoll reassigns numbering on restore
			return err
		}
		interestCount, err := readU32(r)
		if err != nil {
			return err
		}
		_, inst := fds.AllocEpoll()
		for j := uint32(0); j < interestCount; j++ {
			targetFd, err := readU32(r)
			if err != nil {
				return err
			}
			events, err := readU32(r)
			if err != nil {
				return err
			}
			data, err := readU64(r)
			if err != nil {
				return err
			}
			if inst != nil {
				inst.Interests[int(targetFd)] = vfs.EpollInterest{Events: events, Data: data}
			}
		}
	}
	return nil
}

func restoreEventFDs(r io.Reader, fds *vfs.FDTable) error {
	n, err := readU32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := readU32(r); err != nil { // fd; AllocFile reassigns numbering on restore
			return err
		}
		val, err := readU64(r)
		if err != nil {
			return err
		}
		_, _ = fds.AllocFile(&vfs.OpenFile{Kind: vfs.KindEventFD, EventCtr: val})
	}
	return nil
}

func readExecutablePages(r io.Reader) ([]uint64, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	pages := make([]uint64, n)
	for i := range pages {
		v, err := readU64(r)
		if err != nil {
			return nil, err
		}
		pages[i] = v
	}
	return pages, nil
}

// restoreExecutablePages reads the saved executable-page list and reapplies
// each page's attributes to the fresh arena's page table. A freshly
// constructed arena starts with no page-table entries at all, so without
// this the first instruction fetch after resume would fault with
// FaultExec. Read/Write bits are recovered from whichever restored segment
// covers the page; a page outside every segment (e.g. JIT-compiled heap
// code) is restored exec-only.
func restoreExecutablePages(r io.Reader, a *arena.Arena, ctx *execctx.Context) error {
	pages, err := readExecutablePages(r)
	if err != nil {
		return err
	}
	for _, p := range pages {
		addr := p << arena.PageShift
		attr := arena.PageAttr{Exec: true}
		for _, seg := range ctx.Segments {
			if addr >= seg.Base && addr < seg.Base+seg.Size {
				attr.Read = seg.Read
				attr.Write = seg.Write
				break
			}
		}
		a.Pages().Set(p, attr)
	}
	return nil
}

func restoreSparseArena(r io.Reader, a *arena.Arena) error {
	for {
		addr, err := readU64(r)
		if err != nil {
			return err
		}
		length, err := readU64(r)
		if err != nil {
			return err
		}
		if addr == sentinelAddr && length == 0 {
			return nil
		}
		chunk := make([]byte, length)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return err
		}
		if err := a.WriteAt(addr, chunk); err != nil {
			return err
		}
	}
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readU64s(r io.Reader, n int) ([]uint64, error) {
	out := make([]uint64, n)
	for i := range out {
		v, err := readU64(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readBool(r io.Reader) (bool, error) {
	v, err := readU32(r)
	return v != 0, err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
