package cpu

import (
	"fmt"

	"github.com/xyproto/rv64x/internal/arena"
)

// ExitKind classifies why Dispatch returned control to its caller.
type ExitKind int

const (
	ExitBlockOnInput ExitKind = iota
	ExitSyscall
	ExitFault
	ExitStopped // execve/exit/exit_group requested by the syscall layer, or the instruction budget ran out
)

// ExitInfo describes a dispatch-loop exit.
type ExitInfo struct {
	Kind ExitKind
	Err  error // populated when Kind == ExitFault
}

// CompiledRegion is the minimal surface the JIT tier exposes to dispatch.
// Run executes native code starting at entryPC and returns the encoded
// result word per spec.md §4.G (top bit clear: next PC; top bit set:
// syscall trap, low 31 bits hold post-ecall PC; 0xFFFFFFFF: halt).
type CompiledRegion interface {
	Run(statePtr []byte, entryPC uint64) uint32
}

// JITProvider is the interface the dispatch loop uses to consult the JIT
// manager without cpu importing the jit package (which itself imports cpu
// for Instruction/DecodeCache) — this keeps the dependency one-directional.
type JITProvider interface {
	// GetCompiledRegion returns a region covering pc, or ok=false if none
	// is registered or the registered one has been invalidated.
	GetCompiledRegion(pc uint64) (region CompiledRegion, ok bool)
	// RecordExecution is called every time dispatch (re-)enters the
	// manager's territory: on interpreter-to-interpreter transitions this
	// is every fetch; on JIT exits it is the returned next PC.
	RecordExecution(pc uint64)
	// RecordBranchOutcome feeds the interpreter's actual taken/not-taken
	// decision for the conditional branch at pc back to the JIT tier's
	// branch predictor, so a later Optimized-tier compile of a region
	// containing pc can fold the historically likely side of the branch.
	RecordBranchOutcome(pc uint64, taken bool)
}

// SyscallHandler is invoked on ecall. It must leave the register file
// updated (a0 holds the result) and report whether dispatch should stop
// (execve, exit, exit_group) or whether it should block on stdin.
type SyscallHandler interface {
	HandleSyscall() (stop bool, blockOnInput bool)
}

// Dispatcher runs the RV64GC interpreter loop against a shared arena,
// consulting an optional JIT provider and routing ecall traps to a
// syscall handler. It is the threaded/computed-goto-style loop spec.md
// §4.C describes, realized in Go as cache-then-switch dispatch: each PC is
// decoded once into the decode cache, then re-executed via a direct
// switch over the cached tag.
type Dispatcher struct {
	A        *arena.Arena
	Regs     *RegFile
	Cache    *DecodeCache
	JIT      JITProvider
	Syscalls SyscallHandler

	// reservation holds the address of the most recent LR.{w,d}, cleared
	// by any subsequent store (single-task semantics, per spec.md's A
	// extension open question).
	reservation *uint64
}

func NewDispatcher(a *arena.Arena, jit JITProvider, sys SyscallHandler) *Dispatcher {
	return &Dispatcher{
		A:        a,
		Regs:     NewRegFile(a),
		Cache:    NewDecodeCache(),
		JIT:      jit,
		Syscalls: sys,
	}
}

// Run executes guest instructions until one of the four dispatch exit
// conditions in spec.md §4.C is reached, or maxInsts instructions have
// executed (0 means unbounded; callers typically chunk maxInsts to give
// the I/O bridge and JIT compile-queue processing a turn).
func (d *Dispatcher) Run(maxInsts int) ExitInfo {
	executed := 0
	for maxInsts == 0 || executed < maxInsts {
		pc := d.Regs.GetPC()

		if d.JIT != nil {
			d.JIT.RecordExecution(pc)
			if region, ok := d.JIT.GetCompiledRegion(pc); ok {
				result := region.Run(d.A.Bytes()[:arena.RegisterFileSize], pc)
				switch {
				case result == 0xFFFFFFFF:
					return ExitInfo{Kind: ExitStopped}
				case result&0x80000000 != 0:
					nextPC := uint64(result & 0x7fffffff)
					d.Regs.SetPC(nextPC)
					stop, block := d.Syscalls.HandleSyscall()
					if block {
						return ExitInfo{Kind: ExitBlockOnInput}
					}
					if stop {
						return ExitInfo{Kind: ExitStopped}
					}
				default:
					d.Regs.SetPC(uint64(result))
				}
				executed++
				continue
			}
		}

		exit, ok := d.step(pc)
		if !ok {
			return exit
		}
		executed++
	}
	return ExitInfo{Kind: ExitStopped} // budget exhausted; caller re-enters
}

// step decodes (or reuses the cached decode of) the instruction at pc,
// executes it, and advances the PC. It returns ok=false along with the
// terminal ExitInfo whenever dispatch must return to the caller.
func (d *Dispatcher) step(pc uint64) (ExitInfo, bool) {
	inst, cached := d.Cache.Lookup(pc)
	if !cached {
		firstHalf, err := d.A.Load16(pc)
		if err != nil {
			return ExitInfo{Kind: ExitFault, Err: err}, false
		}
		width := DecodeWidth(firstHalf)
		var raw uint32
		if width == 2 {
			raw = uint32(firstHalf)
		} else {
			full, err := d.A.Load32(pc)
			if err != nil {
				return ExitInfo{Kind: ExitFault, Err: err}, false
			}
			raw = full
		}
		page := pc >> arena.PageShift
		attr, _ := d.A.Pages().Get(page)
		if !attr.Exec {
			return ExitInfo{Kind: ExitFault, Err: &arena.SegmentationFault{Addr: pc, Kind: arena.FaultExec}}, false
		}
		inst = Decode(raw, width == 2)
		d.Cache.Insert(pc, inst)
	}

	if inst.Op == OpECALL {
		d.Regs.SetPC(pc + uint64(inst.Size))
		stop, block := d.Syscalls.HandleSyscall()
		if block {
			return ExitInfo{Kind: ExitBlockOnInput}, false
		}
		if stop {
			return ExitInfo{Kind: ExitStopped}, false
		}
		return ExitInfo{}, true
	}

	if err := d.execute(inst, pc); err != nil {
		return ExitInfo{Kind: ExitFault, Err: err}, false
	}
	return ExitInfo{}, true
}

// execute runs the ISA semantics for inst fetched at pc, updating the
// register file and advancing PC (unless inst itself redirects it, e.g.
// branches and jumps).
func (d *Dispatcher) execute(inst Instruction, pc uint64) error {
	b := inst.Bundle
	r := d.Regs
	next := pc + uint64(inst.Size)

	switch inst.Op {
	case OpLUI:
		r.SetX(b.Rd, uint64(b.Imm))
	case OpAUIPC:
		r.SetX(b.Rd, pc+uint64(b.Imm))
	case OpJAL:
		r.SetX(b.Rd, next)
		next = pc + uint64(b.Imm)
	case OpJALR:
		target := (r.GetX(b.Rs1) + uint64(b.Imm)) &^ 1
		r.SetX(b.Rd, next)
		next = target
	case OpBEQ:
		taken := r.GetX(b.Rs1) == r.GetX(b.Rs2)
		d.noteBranch(pc, taken)
		if taken {
			next = pc + uint64(b.Imm)
		}
	case OpBNE:
		taken := r.GetX(b.Rs1) != r.GetX(b.Rs2)
		d.noteBranch(pc, taken)
		if taken {
			next = pc + uint64(b.Imm)
		}
	case OpBLT:
		taken := int64(r.GetX(b.Rs1)) < int64(r.GetX(b.Rs2))
		d.noteBranch(pc, taken)
		if taken {
			next = pc + uint64(b.Imm)
		}
	case OpBGE:
		taken := int64(r.GetX(b.Rs1)) >= int64(r.GetX(b.Rs2))
		d.noteBranch(pc, taken)
		if taken {
			next = pc + uint64(b.Imm)
		}
	case OpBLTU:
		taken := r.GetX(b.Rs1) < r.GetX(b.Rs2)
		d.noteBranch(pc, taken)
		if taken {
			next = pc + uint64(b.Imm)
		}
	case OpBGEU:
		taken := r.GetX(b.Rs1) >= r.GetX(b.Rs2)
		d.noteBranch(pc, taken)
		if taken {
			next = pc + uint64(b.Imm)
		}
	case OpLB, OpLH, OpLW, OpLD, OpLBU, OpLHU, OpLWU:
		addr := r.GetX(b.Rs1) + uint64(b.Imm)
		v, err := loadSized(d.A, inst.Op, addr)
		if err != nil {
			return err
		}
		r.SetX(b.Rd, v)
	case OpSB, OpSH, OpSW, OpSD:
		addr := r.GetX(b.Rs1) + uint64(b.Imm)
		if err := storeSized(d.A, inst.Op, addr, r.GetX(b.Rs2)); err != nil {
			return err
		}
		d.Cache.Evict(addr&^uint64(SegmentSize-1), (addr&^uint64(SegmentSize-1))+SegmentSize)
	case OpADDI:
		r.SetX(b.Rd, r.GetX(b.Rs1)+uint64(b.Imm))
	case OpSLTI:
		r.SetX(b.Rd, boolToU64(int64(r.GetX(b.Rs1)) < b.Imm))
	case OpSLTIU:
		r.SetX(b.Rd, boolToU64(r.GetX(b.Rs1) < uint64(b.Imm)))
	case OpXORI:
		r.SetX(b.Rd, r.GetX(b.Rs1)^uint64(b.Imm))
	case OpORI:
		r.SetX(b.Rd, r.GetX(b.Rs1)|uint64(b.Imm))
	case OpANDI:
		r.SetX(b.Rd, r.GetX(b.Rs1)&uint64(b.Imm))
	case OpSLLI:
		r.SetX(b.Rd, r.GetX(b.Rs1)<<uint(b.Imm&0x3f))
	case OpSRLI:
		r.SetX(b.Rd, r.GetX(b.Rs1)>>uint(b.Imm&0x3f))
	case OpSRAI:
		r.SetX(b.Rd, uint64(int64(r.GetX(b.Rs1))>>uint(b.Imm&0x3f)))
	case OpADD:
		r.SetX(b.Rd, r.GetX(b.Rs1)+r.GetX(b.Rs2))
	case OpSUB:
		r.SetX(b.Rd, r.GetX(b.Rs1)-r.GetX(b.Rs2))
	case OpSLL:
		r.SetX(b.Rd, r.GetX(b.Rs1)<<(r.GetX(b.Rs2)&0x3f))
	case OpSLT:
		r.SetX(b.Rd, boolToU64(int64(r.GetX(b.Rs1)) < int64(r.GetX(b.Rs2))))
	case OpSLTU:
		r.SetX(b.Rd, boolToU64(r.GetX(b.Rs1) < r.GetX(b.Rs2)))
	case OpXOR:
		r.SetX(b.Rd, r.GetX(b.Rs1)^r.GetX(b.Rs2))
	case OpSRL:
		r.SetX(b.Rd, r.GetX(b.Rs1)>>(r.GetX(b.Rs2)&0x3f))
	case OpSRA:
		r.SetX(b.Rd, uint64(int64(r.GetX(b.Rs1))>>(r.GetX(b.Rs2)&0x3f)))
	case OpOR:
		r.SetX(b.Rd, r.GetX(b.Rs1)|r.GetX(b.Rs2))
	case OpAND:
		r.SetX(b.Rd, r.GetX(b.Rs1)&r.GetX(b.Rs2))
	case OpADDIW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))+uint32(b.Imm)))
	case OpSLLIW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))<<uint(b.Imm&0x1f)))
	case OpSRLIW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))>>uint(b.Imm&0x1f)))
	case OpSRAIW:
		r.SetX(b.Rd, uint64(int32(uint32(r.GetX(b.Rs1)))>>uint(b.Imm&0x1f)))
	case OpADDW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))+uint32(r.GetX(b.Rs2))))
	case OpSUBW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))-uint32(r.GetX(b.Rs2))))
	case OpSLLW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))<<(r.GetX(b.Rs2)&0x1f)))
	case OpSRLW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))>>(r.GetX(b.Rs2)&0x1f)))
	case OpSRAW:
		r.SetX(b.Rd, uint64(int32(uint32(r.GetX(b.Rs1)))>>(r.GetX(b.Rs2)&0x1f)))
	case OpMUL:
		r.SetX(b.Rd, r.GetX(b.Rs1)*r.GetX(b.Rs2))
	case OpMULH:
		r.SetX(b.Rd, uint64(mulHigh(int64(r.GetX(b.Rs1)), int64(r.GetX(b.Rs2)))))
	case OpMULHSU:
		r.SetX(b.Rd, uint64(mulHighSU(int64(r.GetX(b.Rs1)), r.GetX(b.Rs2))))
	case OpMULHU:
		r.SetX(b.Rd, mulHighU(r.GetX(b.Rs1), r.GetX(b.Rs2)))
	case OpDIV:
		r.SetX(b.Rd, divSigned(int64(r.GetX(b.Rs1)), int64(r.GetX(b.Rs2))))
	case OpDIVU:
		r.SetX(b.Rd, divUnsigned(r.GetX(b.Rs1), r.GetX(b.Rs2)))
	case OpREM:
		r.SetX(b.Rd, remSigned(int64(r.GetX(b.Rs1)), int64(r.GetX(b.Rs2))))
	case OpREMU:
		r.SetX(b.Rd, remUnsigned(r.GetX(b.Rs1), r.GetX(b.Rs2)))
	case OpMULW:
		r.SetX(b.Rd, signExtend32(uint32(r.GetX(b.Rs1))*uint32(r.GetX(b.Rs2))))
	case OpDIVW:
		r.SetX(b.Rd, signExtend32(uint32(divSigned(int64(int32(uint32(r.GetX(b.Rs1)))), int64(int32(uint32(r.GetX(b.Rs2))))))))
	case OpDIVUW:
		r.SetX(b.Rd, signExtend32(uint32(divUnsigned(uint64(uint32(r.GetX(b.Rs1))), uint64(uint32(r.GetX(b.Rs2)))))))
	case OpREMW:
		r.SetX(b.Rd, signExtend32(uint32(remSigned(int64(int32(uint32(r.GetX(b.Rs1)))), int64(int32(uint32(r.GetX(b.Rs2))))))))
	case OpREMUW:
		r.SetX(b.Rd, signExtend32(uint32(remUnsigned(uint64(uint32(r.GetX(b.Rs1))), uint64(uint32(r.GetX(b.Rs2)))))))
	case OpFENCE:
		// no-op: single-threaded execution core needs no fence semantics
	case OpEBREAK:
		return fmt.Errorf("ebreak at pc=0x%x: %w", pc, errBreakpoint)
	default:
		if err := d.executeAtomicOrFloat(inst, pc); err != nil {
			return err
		}
	}
	r.SetPC(next)
	return nil
}

func (d *Dispatcher) noteBranch(pc uint64, taken bool) {
	if d.JIT != nil {
		d.JIT.RecordBranchOutcome(pc, taken)
	}
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func signExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

var errBreakpoint = fmt.Errorf("breakpoint trap")
