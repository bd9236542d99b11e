// Package cpu implements the RV64GC decode cache and dispatch loop: the
// threaded interpreter that executes guest instructions against the arena,
// plus the register-file view and decoder-segment cache that the JIT tier
// invalidates on self-modifying writes.
//
// The register enumeration mirrors the teacher's reg.go (a name/size/
// encoding table per architecture) adapted from x86_64/arm64 mnemonics to
// the 32 RV64 integer registers' ABI names.
package cpu

import (
	"encoding/binary"
	"math"

	"github.com/xyproto/rv64x/internal/arena"
)

// NumIntRegs, NumFPRegs mirror spec.md §3: 32 integer registers (x0..x31),
// 32 single-precision and 32 double-precision FP registers sharing f0..f31.
const (
	NumIntRegs = 32
	NumFPRegs  = 32
)

// Offsets within the register file that lives at arena offset 0.
const (
	intRegBase = 0
	f32RegBase = intRegBase + NumIntRegs*8
	f64RegBase = f32RegBase + NumFPRegs*4
	fcsrOffset = f64RegBase + NumFPRegs*8
	pcOffset   = fcsrOffset + 8
)

// RegABIName returns the RISC-V ABI mnemonic for integer register i
// (x0="zero", x1="ra", x2="sp", ...), used by disassembly and /proc/self
// rendering.
var regABINames = [NumIntRegs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func RegABIName(i int) string {
	if i < 0 || i >= NumIntRegs {
		return "?"
	}
	return regABINames[i]
}

// RegFile is a thin typed view over the register file embedded at offset 0
// of the arena. It holds no state of its own: every read/write goes
// straight through to the shared arena bytes so JIT'd native code, which
// addresses the same offsets via state_ptr, observes every interpreter
// write and vice versa.
type RegFile struct {
	a *arena.Arena
}

func NewRegFile(a *arena.Arena) *RegFile {
	return &RegFile{a: a}
}

func (r *RegFile) raw() []byte { return r.a.Bytes()[:arena.RegisterFileSize] }

// GetX returns integer register i. x0 always reads as zero.
func (r *RegFile) GetX(i int) uint64 {
	if i == 0 {
		return 0
	}
	b := r.raw()
	return binary.LittleEndian.Uint64(b[intRegBase+i*8 : intRegBase+i*8+8])
}

// SetX writes integer register i. Writes to x0 are discarded.
func (r *RegFile) SetX(i int, v uint64) {
	if i == 0 {
		return
	}
	b := r.raw()
	binary.LittleEndian.PutUint64(b[intRegBase+i*8:intRegBase+i*8+8], v)
}

func (r *RegFile) GetF32(i int) float32 {
	b := r.raw()
	bits := binary.LittleEndian.Uint32(b[f32RegBase+i*4 : f32RegBase+i*4+4])
	return math.Float32frombits(bits)
}

func (r *RegFile) SetF32(i int, v float32) {
	b := r.raw()
	binary.LittleEndian.PutUint32(b[f32RegBase+i*4:f32RegBase+i*4+4], math.Float32bits(v))
}

func (r *RegFile) GetF64(i int) float64 {
	b := r.raw()
	bits := binary.LittleEndian.Uint64(b[f64RegBase+i*8 : f64RegBase+i*8+8])
	return math.Float64frombits(bits)
}

func (r *RegFile) SetF64(i int, v float64) {
	b := r.raw()
	binary.LittleEndian.PutUint64(b[f64RegBase+i*8:f64RegBase+i*8+8], math.Float64bits(v))
}

// FCSR bit layout (RISC-V): [7:5] frm (rounding mode), [4:0] fflags.
func (r *RegFile) GetFCSR() uint32 {
	b := r.raw()
	return binary.LittleEndian.Uint32(b[fcsrOffset : fcsrOffset+4])
}

func (r *RegFile) SetFCSR(v uint32) {
	b := r.raw()
	binary.LittleEndian.PutUint32(b[fcsrOffset:fcsrOffset+4], v)
}

func (r *RegFile) GetPC() uint64 {
	b := r.raw()
	return binary.LittleEndian.Uint64(b[pcOffset : pcOffset+8])
}

func (r *RegFile) SetPC(v uint64) {
	b := r.raw()
	binary.LittleEndian.PutUint64(b[pcOffset:pcOffset+8], v)
}

// SetArg/GetArg address the a0..a5 argument registers (x10..x15) used by
// the syscall ABI.
func (r *RegFile) SetArg(i int, v uint64) { r.SetX(10+i, v) }
func (r *RegFile) GetArg(i int) uint64    { return r.GetX(10 + i) }

// SetResult writes the syscall return value convention: a non-negative
// value on success, or the two's-complement of -errno on failure, into a0.
func (r *RegFile) SetResult(v int64) { r.SetX(10, uint64(v)) }
