package cpu

import (
	"math"

	"github.com/xyproto/rv64x/internal/arena"
)

func loadSized(a *arena.Arena, op Op, addr uint64) (uint64, error) {
	switch op {
	case OpLB:
		v, err := a.Load8(addr)
		return uint64(int64(int8(v))), err
	case OpLBU:
		v, err := a.Load8(addr)
		return uint64(v), err
	case OpLH:
		v, err := a.Load16(addr)
		return uint64(int64(int16(v))), err
	case OpLHU:
		v, err := a.Load16(addr)
		return uint64(v), err
	case OpLW:
		v, err := a.Load32(addr)
		return uint64(int64(int32(v))), err
	case OpLWU:
		v, err := a.Load32(addr)
		return uint64(v), err
	case OpLD:
		return a.Load64(addr)
	default:
		return 0, arena.ErrUnsupportedWidth
	}
}

func storeSized(a *arena.Arena, op Op, addr uint64, v uint64) error {
	switch op {
	case OpSB:
		return a.Store8(addr, uint8(v))
	case OpSH:
		return a.Store16(addr, uint16(v))
	case OpSW:
		return a.Store32(addr, uint32(v))
	case OpSD:
		return a.Store64(addr, v)
	default:
		return arena.ErrUnsupportedWidth
	}
}

func mulHigh(a, b int64) int64 {
	hi, _ := bits64MulSigned(a, b)
	return hi
}

func mulHighU(a, b uint64) uint64 {
	hi, _ := bits64MulUnsigned(a, b)
	return hi
}

func mulHighSU(a int64, b uint64) int64 {
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}
	hi, lo := bits64MulUnsigned(ua, b)
	if neg {
		// two's complement negate of the 128-bit product
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi)
}

// bits64MulUnsigned returns the high and low 64 bits of a*b computed
// without overflow, using math/bits-equivalent decomposition by hand to
// avoid importing math/bits solely for Mul64 (kept dependency-light, same
// spirit as the teacher's hand-rolled arithmetic helpers in div.go/mul.go
// which emit raw instruction sequences rather than reaching for a library).
func bits64MulUnsigned(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	lowLow := aLo * bLo
	highLow := aHi * bLo
	lowHigh := aLo * bHi
	highHigh := aHi * bHi

	cross := (lowLow >> 32) + (highLow & mask32) + (lowHigh & mask32)
	hi = highHigh + (highLow >> 32) + (lowHigh >> 32) + (cross >> 32)
	lo = (cross << 32) | (lowLow & mask32)
	return hi, lo
}

func bits64MulSigned(a, b int64) (hi, lo int64) {
	negA, negB := a < 0, b < 0
	ua, ub := uint64(a), uint64(b)
	if negA {
		ua = uint64(-a)
	}
	if negB {
		ub = uint64(-b)
	}
	uhi, ulo := bits64MulUnsigned(ua, ub)
	if negA != negB {
		ulo = ^ulo + 1
		uhi = ^uhi
		if ulo == 0 {
			uhi++
		}
	}
	return int64(uhi), int64(ulo)
}

func divSigned(a, b int64) uint64 {
	if b == 0 {
		return ^uint64(0) // RISC-V: division by zero yields all-ones, no trap
	}
	if a == math.MinInt64 && b == -1 {
		return uint64(a) // overflow case: result is the dividend
	}
	return uint64(a / b)
}

func divUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func remSigned(a, b int64) uint64 {
	if b == 0 {
		return uint64(a)
	}
	if a == math.MinInt64 && b == -1 {
		return 0
	}
	return uint64(a % b)
}

func remUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}
