package amd64asm

import "encoding/binary"

// Assembler accumulates encoded x86-64 bytes plus a label table so the
// translator can resolve within-region branches to direct jumps in a
// second pass (spec.md §4.G stage 3 "Dispatch").
type Assembler struct {
	code   []byte
	labels map[string]int
	// fixups records positions needing a rel32 patched once the target
	// label's offset is known (forward branches).
	fixups []fixup
}

type fixup struct {
	pos    int // offset of the rel32 field itself
	label  string
}

func New() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Label marks the current code offset under name, for later branch
// resolution.
func (as *Assembler) Label(name string) {
	as.labels[name] = len(as.code)
}

// Offset returns the current emission offset.
func (as *Assembler) Offset() int { return len(as.code) }

func rex(w bool, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 0x7) << 3) | (rm & 0x7)
}

func (as *Assembler) emit(bs ...byte) {
	as.code = append(as.code, bs...)
}

func (as *Assembler) emitU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	as.code = append(as.code, b[:]...)
}

func (as *Assembler) emitU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	as.code = append(as.code, b[:]...)
}

// MovRegImm64 emits `mov reg, imm64` (REX.W + B8+rd io).
func (as *Assembler) MovRegImm64(dst Reg, imm uint64) {
	as.emit(rex(true, false, false, dst.needsExt()), 0xB8+dst.low3())
	as.emitU64(imm)
}

// MovRegMem emits `mov dst, [base+disp32]` (REX.W + 8B /r).
func (as *Assembler) MovRegMem(dst, base Reg, disp int32) {
	as.emit(rex(true, dst.needsExt(), false, base.needsExt()), 0x8B, modrm(2, uint8(dst), uint8(base)))
	as.emitU32(uint32(disp))
}

// MovMemReg emits `mov [base+disp32], src` (REX.W + 89 /r).
func (as *Assembler) MovMemReg(base Reg, disp int32, src Reg) {
	as.emit(rex(true, src.needsExt(), false, base.needsExt()), 0x89, modrm(2, uint8(src), uint8(base)))
	as.emitU32(uint32(disp))
}

// MovRegReg emits `mov dst, src`.
func (as *Assembler) MovRegReg(dst, src Reg) {
	as.emit(rex(true, src.needsExt(), false, dst.needsExt()), 0x89, modrm(3, uint8(src), uint8(dst)))
}

// AddRegReg emits `add dst, src`.
func (as *Assembler) AddRegReg(dst, src Reg) {
	as.emit(rex(true, src.needsExt(), false, dst.needsExt()), 0x01, modrm(3, uint8(src), uint8(dst)))
}

// SubRegReg emits `sub dst, src`.
func (as *Assembler) SubRegReg(dst, src Reg) {
	as.emit(rex(true, src.needsExt(), false, dst.needsExt()), 0x29, modrm(3, uint8(src), uint8(dst)))
}

// XorRegReg emits `xor dst, src` (used to zero a register cheaply).
func (as *Assembler) XorRegReg(dst, src Reg) {
	as.emit(rex(true, src.needsExt(), false, dst.needsExt()), 0x31, modrm(3, uint8(src), uint8(dst)))
}

// AndRegReg emits `and dst, src`.
func (as *Assembler) AndRegReg(dst, src Reg) {
	as.emit(rex(true, src.needsExt(), false, dst.needsExt()), 0x21, modrm(3, uint8(src), uint8(dst)))
}

// OrRegReg emits `or dst, src`.
func (as *Assembler) OrRegReg(dst, src Reg) {
	as.emit(rex(true, src.needsExt(), false, dst.needsExt()), 0x09, modrm(3, uint8(src), uint8(dst)))
}

// CmpRegReg emits `cmp a, b`.
func (as *Assembler) CmpRegReg(a, b Reg) {
	as.emit(rex(true, b.needsExt(), false, a.needsExt()), 0x39, modrm(3, uint8(b), uint8(a)))
}

// ShlRegImm8/ShrRegImm8/SarRegImm8 emit `shl/shr/sar dst, imm8` (C1 /4,/5,/7).
func (as *Assembler) ShlRegImm8(dst Reg, imm uint8) { as.shiftImm8(dst, imm, 4) }
func (as *Assembler) ShrRegImm8(dst Reg, imm uint8) { as.shiftImm8(dst, imm, 5) }
func (as *Assembler) SarRegImm8(dst Reg, imm uint8) { as.shiftImm8(dst, imm, 7) }

func (as *Assembler) shiftImm8(dst Reg, imm uint8, ext byte) {
	as.emit(rex(true, false, false, dst.needsExt()), 0xC1, modrm(3, ext, uint8(dst)), imm)
}

// Ret emits `ret`.
func (as *Assembler) Ret() { as.emit(0xC3) }

// JmpLabel emits an unconditional near jump to a label defined earlier or
// later in the stream (forward references are patched by Finish).
func (as *Assembler) JmpLabel(label string) {
	as.emit(0xE9)
	as.recordFixup(label)
	as.emitU32(0)
}

// CondCode is an x86 condition code used by JccLabel, named after the
// RISC-V comparison it implements a branch for.
type CondCode byte

const (
	CondEQ CondCode = 0x84 // JE
	CondNE CondCode = 0x85 // JNE
	CondLT CondCode = 0x8C // JL
	CondGE CondCode = 0x8D // JGE
	CondLTU CondCode = 0x82 // JB
	CondGEU CondCode = 0x83 // JAE
)

// JccLabel emits a conditional near jump (0F 8x rel32) to label.
func (as *Assembler) JccLabel(cc CondCode, label string) {
	as.emit(0x0F, byte(cc))
	as.recordFixup(label)
	as.emitU32(0)
}

func (as *Assembler) recordFixup(label string) {
	as.fixups = append(as.fixups, fixup{pos: len(as.code), label: label})
}

// Finish patches every recorded branch fixup now that all labels are
// known, and returns the final machine code bytes.
func (as *Assembler) Finish() ([]byte, error) {
	for _, fx := range as.fixups {
		target, ok := as.labels[fx.label]
		if !ok {
			return nil, unresolvedLabelError(fx.label)
		}
		rel := int32(target - (fx.pos + 4))
		binary.LittleEndian.PutUint32(as.code[fx.pos:fx.pos+4], uint32(rel))
	}
	return as.code, nil
}

type unresolvedLabelError string

func (e unresolvedLabelError) Error() string {
	return "amd64asm: unresolved branch label " + string(e)
}
