package cpu

import "testing"

// encodeADDI builds the standard 32-bit ADDI encoding: rd, rs1, imm (I-type).
func encodeADDI(rd, rs1 int, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 | uint32(rd)<<7 | 0x13
}

func TestDecodeADDI(t *testing.T) {
	raw := encodeADDI(5, 0, 42)
	inst := Decode(raw, false)
	if inst.Op != OpADDI {
		t.Fatalf("got op %v, want OpADDI", inst.Op)
	}
	if inst.Bundle.Rd != 5 || inst.Bundle.Rs1 != 0 || inst.Bundle.Imm != 42 {
		t.Errorf("got rd=%d rs1=%d imm=%d", inst.Bundle.Rd, inst.Bundle.Rs1, inst.Bundle.Imm)
	}
	if inst.Size != 4 || inst.Compressed {
		t.Error("standard encoding should decode as 4 bytes, uncompressed")
	}
}

func TestDecodeWidthDetectsCompressed(t *testing.T) {
	if DecodeWidth(0xffff) != 4 {
		t.Error("low bits 11 should be a standard 4-byte instruction")
	}
	if DecodeWidth(0x0001) != 2 {
		t.Error("low bits != 11 should be a compressed 2-byte instruction")
	}
}

func TestDecodeCompressedAddi(t *testing.T) {
	// c.li a0, 5: quadrant 1, funct3 010, rd=10 (a0), imm6=5
	ci := uint16(0b010_0_01010_00101_01)
	inst := Decode(uint32(ci), true)
	if inst.Op != OpADDI {
		t.Fatalf("c.li should decode as OpADDI, got %v", inst.Op)
	}
	if inst.Bundle.Rd != 10 || inst.Bundle.Rs1 != 0 {
		t.Errorf("c.li a0,5: got rd=%d rs1=%d", inst.Bundle.Rd, inst.Bundle.Rs1)
	}
}
