// Package amd64asm is a small x86-64 instruction encoder used by the JIT
// translator's host-native backend. It is grounded on the teacher's own
// per-mnemonic encoder files (mov.go, add.go, cmp.go, jmp.go, ret.go,
// reg.go) — the same register-table-plus-one-function-per-mnemonic shape,
// narrowed to the handful of forms the RV64GC-to-host-native baseline
// translator actually emits.
package amd64asm

// Reg is a host general-purpose register, encoded exactly as the teacher's
// reg.go's x86_64Registers table numbers them (rax=0 .. r15=15).
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// stateReg and arenaReg are the two fixed incoming arguments every
// compiled region receives (System V AMD64 calling convention): the
// register-file base pointer and the arena base pointer. Scratch
// computation avoids RSP/RBP/R12/R13 as ModRM base registers so no
// instruction in this encoder ever needs a SIB byte.
const (
	StateReg Reg = RDI
	ArenaReg Reg = RSI
)

// ScratchRegs lists registers safe to use as general scratch without SIB
// complications and without clobbering the two fixed arguments.
var ScratchRegs = []Reg{RAX, RCX, RDX, RBX, R8, R9, R10, R11, R14, R15}

func (r Reg) low3() uint8   { return uint8(r) & 0x7 }
func (r Reg) needsExt() bool { return uint8(r) >= 8 }
