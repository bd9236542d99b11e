//go:build amd64

package execmem

import "unsafe"

// callEntry is the assembly trampoline (call_amd64.s) that invokes a
// compiled region's native code with the System V AMD64 calling
// convention the translator's amd64asm backend assumes: state pointer in
// RDI, arena pointer in RSI, entry PC in RDX. The 32-bit encoded result
// (spec.md §4.G) comes back in EAX.
//
//go:noescape
func callEntry(fn uintptr, statePtr, arenaPtr unsafe.Pointer, entryPC uint64) uint32

// Call invokes the block's compiled entry point.
func (b *Block) Call(statePtr, arenaPtr unsafe.Pointer, entryPC uint64) uint32 {
	return callEntry(b.Addr(), statePtr, arenaPtr, entryPC)
}
