// Package jit compiles hot RV64GC regions into host-native x86-64 code.
// The translator is grounded on the teacher's codegen_riscv_writer.go/
// riscv64_codegen.go pair (decode a source region into an IR, lower IR to
// a target instruction stream, resolve branches, emit) and on
// register_allocator.go for the fixed-register convention used below: the
// translator never does general register allocation, it spills every RV64
// integer register straight to its state-file slot, matching how the
// teacher's baseline (non-allocating) backend path works before the
// optimizing allocator is in the loop.
package jit

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/jit/amd64asm"
	"github.com/xyproto/rv64x/internal/jit/execmem"
)

// Tier distinguishes the two compile qualities spec.md §4.G names.
// Baseline compiles a single straight-line block of register/memory
// operations and bails to the interpreter at the first branch, jump,
// ecall, or instruction outside the translator's supported subset.
// Optimized additionally follows JAL targets and predicted-taken
// conditional branches into a trace, with a runtime guard at each folded
// branch that side-exits to the correct PC on misprediction.
type Tier int

const (
	Baseline Tier = iota
	Optimized
)

func (t Tier) String() string {
	if t == Optimized {
		return "optimized"
	}
	return "baseline"
}

// MaxTraceInsns bounds how many guest instructions a single compiled
// region may cover.
const MaxTraceInsns = 64

var (
	errUnsupportedOp = errors.New("jit: region starts on an instruction outside the translator subset")
	errNoProgress    = errors.New("jit: region produced no native code")
)

// PredictTaken reports whether the branch at pc (with displacement imm)
// is predicted taken, fed by the manager's Markov predictor. Baseline
// compiles never consult it.
type PredictTaken func(pc uint64, imm int64) bool

// Region is one compiled native code block, implementing cpu.CompiledRegion.
type Region struct {
	Start, End uint64
	Tier       Tier
	block      *execmem.Block
}

// Run invokes the compiled native code. entryPC is part of the
// cpu.CompiledRegion contract for future multi-entry regions; this
// translator only ever compiles a single entry point at Start, so the
// manager only hands back a Region when pc == Start.
func (r *Region) Run(statePtr []byte, entryPC uint64) uint32 {
	ptr := unsafe.Pointer(&statePtr[0])
	return r.block.Call(ptr, ptr, entryPC)
}

// Free releases the region's executable memory, called by the manager
// when a dirty page invalidates the region or a recompile supersedes it.
func (r *Region) Free() error {
	if r.block == nil {
		return nil
	}
	return r.block.Free()
}

// branchCond maps a conditional branch op to the x86 condition that
// matches its "taken" test.
var branchCond = map[cpu.Op]amd64asm.CondCode{
	cpu.OpBEQ:  amd64asm.CondEQ,
	cpu.OpBNE:  amd64asm.CondNE,
	cpu.OpBLT:  amd64asm.CondLT,
	cpu.OpBGE:  amd64asm.CondGE,
	cpu.OpBLTU: amd64asm.CondLTU,
	cpu.OpBGEU: amd64asm.CondGEU,
}

var branchInverse = map[amd64asm.CondCode]amd64asm.CondCode{
	amd64asm.CondEQ:  amd64asm.CondNE,
	amd64asm.CondNE:  amd64asm.CondEQ,
	amd64asm.CondLT:  amd64asm.CondGE,
	amd64asm.CondGE:  amd64asm.CondLT,
	amd64asm.CondLTU: amd64asm.CondGEU,
	amd64asm.CondGEU: amd64asm.CondLTU,
}

// stubExit is a deferred "return this encoded PC" tail, emitted once at
// the end of the function body and jumped to from a branch guard.
type stubExit struct {
	label string
	pc    uint64
}

// gen holds translation state for one Translate call.
type gen struct {
	as   *amd64asm.Assembler
	mask uint64

	stubSeq      int
	pendingStubs []stubExit

	hasSyscallExit bool
	syscallExit    uint64
}

func (g *gen) newStub(pc uint64) string {
	label := fmt.Sprintf("exit%d", g.stubSeq)
	g.stubSeq++
	g.pendingStubs = append(g.pendingStubs, stubExit{label: label, pc: pc})
	return label
}

func (g *gen) loadX(dst amd64asm.Reg, xi int) {
	if xi == 0 {
		g.as.XorRegReg(dst, dst)
		return
	}
	g.as.MovRegMem(dst, amd64asm.StateReg, int32(xi*8))
}

func (g *gen) storeX(xi int, src amd64asm.Reg) {
	if xi == 0 {
		return
	}
	g.as.MovMemReg(amd64asm.StateReg, int32(xi*8), src)
}

func (g *gen) storeImm(xi int, v uint64) {
	if xi == 0 {
		return
	}
	g.as.MovRegImm64(amd64asm.RAX, v)
	g.as.MovMemReg(amd64asm.StateReg, int32(xi*8), amd64asm.RAX)
}

// emitAddr computes (X[rs1] + imm) masked into the arena and offset by
// the arena base into RAX, leaving a bare [RAX+0] form for the caller's
// load or store so no ModRM ever needs a SIB byte.
func (g *gen) emitAddr(rs1 int, imm int64) {
	g.loadX(amd64asm.RAX, rs1)
	g.as.MovRegImm64(amd64asm.RCX, uint64(imm))
	g.as.AddRegReg(amd64asm.RAX, amd64asm.RCX)
	g.as.MovRegImm64(amd64asm.RCX, g.mask)
	g.as.AndRegReg(amd64asm.RAX, amd64asm.RCX)
	g.as.AddRegReg(amd64asm.RAX, amd64asm.ArenaReg)
}

// emitAlu compiles one register/immediate ALU op or a 64-bit load/store,
// the representative subset the translator covers natively. Anything
// else (shifts, W-variants, M-extension, F/D, atomics) is left for the
// interpreter: emitAlu reports false and the caller ends the block
// without consuming the instruction.
func (g *gen) emitAlu(inst cpu.Instruction) bool {
	b := inst.Bundle
	switch inst.Op {
	case cpu.OpADD, cpu.OpSUB, cpu.OpAND, cpu.OpOR, cpu.OpXOR:
		g.loadX(amd64asm.RAX, b.Rs1)
		g.loadX(amd64asm.RCX, b.Rs2)
		switch inst.Op {
		case cpu.OpADD:
			g.as.AddRegReg(amd64asm.RAX, amd64asm.RCX)
		case cpu.OpSUB:
			g.as.SubRegReg(amd64asm.RAX, amd64asm.RCX)
		case cpu.OpAND:
			g.as.AndRegReg(amd64asm.RAX, amd64asm.RCX)
		case cpu.OpOR:
			g.as.OrRegReg(amd64asm.RAX, amd64asm.RCX)
		case cpu.OpXOR:
			g.as.XorRegReg(amd64asm.RAX, amd64asm.RCX)
		}
		g.storeX(b.Rd, amd64asm.RAX)
		return true

	case cpu.OpADDI, cpu.OpANDI, cpu.OpORI, cpu.OpXORI:
		g.loadX(amd64asm.RAX, b.Rs1)
		g.as.MovRegImm64(amd64asm.RCX, uint64(b.Imm))
		switch inst.Op {
		case cpu.OpADDI:
			g.as.AddRegReg(amd64asm.RAX, amd64asm.RCX)
		case cpu.OpANDI:
			g.as.AndRegReg(amd64asm.RAX, amd64asm.RCX)
		case cpu.OpORI:
			g.as.OrRegReg(amd64asm.RAX, amd64asm.RCX)
		case cpu.OpXORI:
			g.as.XorRegReg(amd64asm.RAX, amd64asm.RCX)
		}
		g.storeX(b.Rd, amd64asm.RAX)
		return true

	case cpu.OpLD:
		g.emitAddr(b.Rs1, b.Imm)
		g.as.MovRegMem(amd64asm.RDX, amd64asm.RAX, 0)
		g.storeX(b.Rd, amd64asm.RDX)
		return true

	case cpu.OpSD:
		g.emitAddr(b.Rs1, b.Imm)
		g.loadX(amd64asm.RDX, b.Rs2)
		g.as.MovMemReg(amd64asm.RAX, 0, amd64asm.RDX)
		return true

	default:
		return false
	}
}

// fetch decodes the instruction at pc the same way the interpreter's
// dispatch.step does on a decode-cache miss, without populating any cache
// (the translator reads ahead of guest execution, into code it may never
// run if a guard or a dependent branch goes the other way).
func fetch(a *arena.Arena, pc uint64) (cpu.Instruction, error) {
	firstHalf, err := a.Load16(pc)
	if err != nil {
		return cpu.Instruction{}, err
	}
	width := cpu.DecodeWidth(firstHalf)
	if width == 2 {
		return cpu.Decode(uint32(firstHalf), true), nil
	}
	full, err := a.Load32(pc)
	if err != nil {
		return cpu.Instruction{}, err
	}
	return cpu.Decode(full, false), nil
}

// Translate compiles the region starting at start into native code. It
// returns errUnsupportedOp if no instruction at start could be consumed,
// either because the first instruction is outside the supported subset or
// because fetching it failed, and errNoProgress if instructions were
// consumed but emitted no native code (e.g. only jumps that link to x0).
func Translate(a *arena.Arena, start uint64, tier Tier, predict PredictTaken) (*Region, error) {
	g := &gen{as: amd64asm.New(), mask: a.Size() - 1}

	pc := start
	insns := 0
	for insns < MaxTraceInsns {
		inst, err := fetch(a, pc)
		if err != nil {
			break
		}

		if inst.Op == cpu.OpECALL {
			postPC := pc + uint64(inst.Size)
			g.hasSyscallExit = true
			g.syscallExit = 0x80000000 | (postPC & 0x7fffffff)
			insns++
			pc = postPC
			break
		}

		if cc, ok := branchCond[inst.Op]; ok {
			if tier != Optimized || predict == nil {
				break
			}
			b := inst.Bundle
			target := uint64(int64(pc) + b.Imm)
			fallthroughPC := pc + uint64(inst.Size)
			taken := predict(pc, b.Imm)

			g.loadX(amd64asm.RAX, b.Rs1)
			g.loadX(amd64asm.RCX, b.Rs2)
			g.as.CmpRegReg(amd64asm.RAX, amd64asm.RCX)

			var guardCC amd64asm.CondCode
			var exitPC uint64
			if taken {
				guardCC, exitPC = branchInverse[cc], fallthroughPC
			} else {
				guardCC, exitPC = cc, target
			}
			g.as.JccLabel(guardCC, g.newStub(exitPC))

			insns++
			if taken {
				pc = target
			} else {
				pc = fallthroughPC
			}
			continue
		}

		if inst.Op == cpu.OpJAL {
			if tier != Optimized {
				break
			}
			b := inst.Bundle
			g.storeImm(b.Rd, pc+uint64(inst.Size))
			pc = uint64(int64(pc) + b.Imm)
			insns++
			continue
		}

		if !g.emitAlu(inst) {
			break
		}
		insns++
		pc += uint64(inst.Size)
	}

	if insns == 0 {
		return nil, errUnsupportedOp
	}
	return g.finish(start, pc, tier)
}

func (g *gen) finish(start, fallbackPC uint64, tier Tier) (*Region, error) {
	if g.as.Offset() == 0 && !g.hasSyscallExit {
		return nil, errNoProgress
	}

	if g.hasSyscallExit {
		g.as.MovRegImm64(amd64asm.RAX, g.syscallExit)
	} else {
		g.as.MovRegImm64(amd64asm.RAX, fallbackPC)
	}
	g.as.Ret()

	for _, st := range g.pendingStubs {
		g.as.Label(st.label)
		g.as.MovRegImm64(amd64asm.RAX, st.pc)
		g.as.Ret()
	}

	code, err := g.as.Finish()
	if err != nil {
		return nil, err
	}
	block, err := execmem.Alloc(code)
	if err != nil {
		return nil, err
	}
	return &Region{Start: start, End: fallbackPC, Tier: tier, block: block}, nil
}
