package cpu

import (
	"fmt"
	"math"
)

// executeAtomicOrFloat handles the A-extension (LR/SC/AMO) and F/D
// extension opcodes that execute() defers to, keeping the hot integer
// path above free of float/atomic branches.
func (d *Dispatcher) executeAtomicOrFloat(inst Instruction, pc uint64) error {
	b := inst.Bundle
	r := d.Regs
	switch inst.Op {
	case OpLRW, OpLRD:
		addr := r.GetX(b.Rs1)
		var v uint64
		var err error
		if inst.Op == OpLRW {
			v, err = loadSized(d.A, OpLW, addr)
		} else {
			v, err = loadSized(d.A, OpLD, addr)
		}
		if err != nil {
			return err
		}
		r.SetX(b.Rd, v)
		d.reservation = &addr
	case OpSCW, OpSCD:
		addr := r.GetX(b.Rs1)
		if d.reservation == nil || *d.reservation != addr {
			r.SetX(b.Rd, 1) // failure
			return nil
		}
		var err error
		if inst.Op == OpSCW {
			err = storeSized(d.A, OpSW, addr, r.GetX(b.Rs2))
		} else {
			err = storeSized(d.A, OpSD, addr, r.GetX(b.Rs2))
		}
		if err != nil {
			return err
		}
		d.reservation = nil
		r.SetX(b.Rd, 0) // success
	case OpAMOSWAPW, OpAMOADDW, OpAMOXORW, OpAMOANDW, OpAMOORW,
		OpAMOSWAPD, OpAMOADDD, OpAMOXORD, OpAMOANDD, OpAMOORD:
		if err := d.executeAMO(inst); err != nil {
			return err
		}
		d.reservation = nil // any store clears the single-task reservation
	case OpFLW:
		addr := r.GetX(b.Rs1) + uint64(b.Imm)
		v, err := d.A.Load32(addr)
		if err != nil {
			return err
		}
		r.SetF32(b.Rd, math.Float32frombits(v))
	case OpFLD:
		addr := r.GetX(b.Rs1) + uint64(b.Imm)
		v, err := d.A.Load64(addr)
		if err != nil {
			return err
		}
		r.SetF64(b.Rd, math.Float64frombits(v))
	case OpFSW:
		addr := r.GetX(b.Rs1) + uint64(b.Imm)
		if err := d.A.Store32(addr, math.Float32bits(r.GetF32(b.Rs2))); err != nil {
			return err
		}
	case OpFSD:
		addr := r.GetX(b.Rs1) + uint64(b.Imm)
		if err := d.A.Store64(addr, math.Float64bits(r.GetF64(b.Rs2))); err != nil {
			return err
		}
	case OpFADDS:
		r.SetF32(b.Rd, r.GetF32(b.Rs1)+r.GetF32(b.Rs2))
	case OpFSUBS:
		r.SetF32(b.Rd, r.GetF32(b.Rs1)-r.GetF32(b.Rs2))
	case OpFMULS:
		r.SetF32(b.Rd, r.GetF32(b.Rs1)*r.GetF32(b.Rs2))
	case OpFDIVS:
		r.SetF32(b.Rd, r.GetF32(b.Rs1)/r.GetF32(b.Rs2))
	case OpFSQRTS:
		r.SetF32(b.Rd, float32(math.Sqrt(float64(r.GetF32(b.Rs1)))))
	case OpFADDD:
		r.SetF64(b.Rd, r.GetF64(b.Rs1)+r.GetF64(b.Rs2))
	case OpFSUBD:
		r.SetF64(b.Rd, r.GetF64(b.Rs1)-r.GetF64(b.Rs2))
	case OpFMULD:
		r.SetF64(b.Rd, r.GetF64(b.Rs1)*r.GetF64(b.Rs2))
	case OpFDIVD:
		r.SetF64(b.Rd, r.GetF64(b.Rs1)/r.GetF64(b.Rs2))
	case OpFSQRTD:
		r.SetF64(b.Rd, math.Sqrt(r.GetF64(b.Rs1)))
	case OpFCVTSD:
		r.SetF32(b.Rd, float32(r.GetF64(b.Rs1)))
	case OpFCVTDS:
		r.SetF64(b.Rd, float64(r.GetF32(b.Rs1)))
	case OpFCVTWS:
		if b.Funct7&1 == 1 {
			r.SetX(b.Rd, signExtend32(uint32(int32(r.GetF64(b.Rs1)))))
		} else {
			r.SetX(b.Rd, signExtend32(uint32(int32(r.GetF32(b.Rs1)))))
		}
	case OpFCVTWUS:
		if b.Funct7&1 == 1 {
			r.SetX(b.Rd, uint64(uint32(r.GetF64(b.Rs1))))
		} else {
			r.SetX(b.Rd, uint64(uint32(r.GetF32(b.Rs1))))
		}
	case OpFCVTSW:
		r.SetF32(b.Rd, float32(int32(r.GetX(b.Rs1))))
	case OpFCVTSWU:
		r.SetF32(b.Rd, float32(uint32(r.GetX(b.Rs1))))
	case OpFCVTLD:
		r.SetX(b.Rd, uint64(int64(r.GetF64(b.Rs1))))
	case OpFCVTDL:
		r.SetF64(b.Rd, float64(int64(r.GetX(b.Rs1))))
	case OpFMVXW:
		r.SetX(b.Rd, uint64(signExtend32(math.Float32bits(r.GetF32(b.Rs1)))))
	case OpFMVWX:
		r.SetF32(b.Rd, math.Float32frombits(uint32(r.GetX(b.Rs1))))
	case OpFMVXD:
		r.SetX(b.Rd, math.Float64bits(r.GetF64(b.Rs1)))
	case OpFMVDX:
		r.SetF64(b.Rd, math.Float64frombits(r.GetX(b.Rs1)))
	case OpFEQS:
		r.SetX(b.Rd, boolToU64(r.GetF32(b.Rs1) == r.GetF32(b.Rs2)))
	case OpFLTS:
		r.SetX(b.Rd, boolToU64(r.GetF32(b.Rs1) < r.GetF32(b.Rs2)))
	case OpFLES:
		r.SetX(b.Rd, boolToU64(r.GetF32(b.Rs1) <= r.GetF32(b.Rs2)))
	case OpFEQD:
		r.SetX(b.Rd, boolToU64(r.GetF64(b.Rs1) == r.GetF64(b.Rs2)))
	case OpFLTD:
		r.SetX(b.Rd, boolToU64(r.GetF64(b.Rs1) < r.GetF64(b.Rs2)))
	case OpFLED:
		r.SetX(b.Rd, boolToU64(r.GetF64(b.Rs1) <= r.GetF64(b.Rs2)))
	default:
		return fmt.Errorf("cpu: unimplemented opcode %d at pc=0x%x", inst.Op, pc)
	}
	return nil
}

func (d *Dispatcher) executeAMO(inst Instruction) error {
	b := inst.Bundle
	r := d.Regs
	addr := r.GetX(b.Rs1)
	word := inst.Op == OpAMOSWAPW || inst.Op == OpAMOADDW || inst.Op == OpAMOXORW ||
		inst.Op == OpAMOANDW || inst.Op == OpAMOORW

	var old uint64
	var err error
	if word {
		old, err = loadSized(d.A, OpLW, addr)
	} else {
		old, err = loadSized(d.A, OpLD, addr)
	}
	if err != nil {
		return err
	}
	operand := r.GetX(b.Rs2)
	var result uint64
	switch inst.Op {
	case OpAMOSWAPW, OpAMOSWAPD:
		result = operand
	case OpAMOADDW, OpAMOADDD:
		result = old + operand
	case OpAMOXORW, OpAMOXORD:
		result = old ^ operand
	case OpAMOANDW, OpAMOANDD:
		result = old & operand
	case OpAMOORW, OpAMOORD:
		result = old | operand
	}
	if word {
		err = storeSized(d.A, OpSW, addr, result)
	} else {
		err = storeSized(d.A, OpSD, addr, result)
	}
	if err != nil {
		return err
	}
	r.SetX(b.Rd, old)
	return nil
}
