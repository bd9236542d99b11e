package elfload

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
)

// buildMinimalELF hand-assembles a tiny ELF64 RISC-V image with one
// PT_LOAD segment (code+data, rx) and, if withInterp is set, a PT_INTERP
// segment naming interpPath.
func buildMinimalELF(t *testing.T, entry, vaddr uint64, payload []byte, withInterp bool, interpPath string) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56

	phnum := 1
	interpOff := uint64(0)
	interpData := []byte(interpPath + "\x00")
	if withInterp {
		phnum = 2
	}
	phoff := uint64(ehsize)
	dataOff := phoff + uint64(phnum)*phentsize
	if withInterp {
		interpOff = dataOff
		dataOff += uint64(len(interpData))
	}

	buf := make([]byte, dataOff+uint64(len(payload)))
	buf[0], buf[1], buf[2], buf[3] = EI_MAG0, 'E', 'L', 'F'
	buf[4] = ElfClass64
	buf[5] = ElfDataLE
	binary.LittleEndian.PutUint16(buf[16:18], ET_EXEC)
	binary.LittleEndian.PutUint16(buf[18:20], EM_RISCV)
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint16(buf[54:56], phentsize)
	binary.LittleEndian.PutUint16(buf[56:58], uint16(phnum))

	writePhdr := func(idx int, typ, flags uint32, offset, vaddrv, filesz, memsz uint64) {
		off := phoff + uint64(idx)*phentsize
		binary.LittleEndian.PutUint32(buf[off:off+4], typ)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], flags)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], offset)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], vaddrv)
		binary.LittleEndian.PutUint64(buf[off+32:off+40], filesz)
		binary.LittleEndian.PutUint64(buf[off+40:off+48], memsz)
		binary.LittleEndian.PutUint64(buf[off+48:off+56], 0x1000)
	}

	idx := 0
	if withInterp {
		writePhdr(idx, PT_INTERP, PF_R, interpOff, 0, uint64(len(interpData)), uint64(len(interpData)))
		copy(buf[interpOff:], interpData)
		idx++
	}
	writePhdr(idx, PT_LOAD, PF_R|PF_X, dataOff, vaddr, uint64(len(payload)), uint64(len(payload))+16)
	copy(buf[dataOff:], payload)

	return buf
}

func TestParseRejectsBadMagic(t *testing.T) {
	if _, err := Parse([]byte("not an elf file at all, way too short")); err != ErrBadMagic {
		t.Errorf("got %v, want ErrBadMagic", err)
	}
}

func TestParseRejectsNonRISCV(t *testing.T) {
	raw := buildMinimalELF(t, 0x1000, 0x1000, []byte{0x13, 0x00, 0x00, 0x00}, false, "")
	binary.LittleEndian.PutUint16(raw[18:20], 0x3e) // EM_X86_64
	if _, err := Parse(raw); err != ErrUnsupportedMachine {
		t.Errorf("got %v, want ErrUnsupportedMachine", err)
	}
}

func TestParseAndMapSegments(t *testing.T) {
	payload := []byte{0x13, 0x05, 0x50, 0x00} // addi a0, zero, 5 (arbitrary bytes)
	raw := buildMinimalELF(t, 0x1000, 0x1000, payload, false, "")

	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.Header.Entry != 0x1000 {
		t.Errorf("got entry %#x, want %#x", img.Header.Entry, 0x1000)
	}
	if img.IsPIE() {
		t.Error("ET_EXEC image should not be reported as PIE")
	}

	a := arena.New(24) // 16 MiB
	segs, err := MapSegments(a, img, 0)
	if err != nil {
		t.Fatalf("MapSegments: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Base != 0x1000 || !segs[0].Exec || segs[0].Write {
		t.Errorf("got %+v", segs[0])
	}
	got, err := a.MemArray(0x1000, uint64(len(payload)))
	if err != nil {
		t.Fatalf("MemArray: %v", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("mapped segment bytes mismatch at %d: got %#x, want %#x", i, got[i], payload[i])
		}
	}
}

func TestParseFindsInterp(t *testing.T) {
	raw := buildMinimalELF(t, 0x1000, 0x1000, []byte{0, 0, 0, 0}, true, "/lib/ld-linux-riscv64.so")
	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.Interp != "/lib/ld-linux-riscv64.so" {
		t.Errorf("got interp %q", img.Interp)
	}
}

func TestEntryPointAppliesBias(t *testing.T) {
	img := &Image{Header: Header64{Entry: 0x1000}}
	if got := img.EntryPoint(0x5000_0000); got != 0x5000_1000 {
		t.Errorf("got %#x, want %#x", got, 0x5000_1000)
	}
}
