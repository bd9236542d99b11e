package iobridge

import "sync/atomic"

// stdoutRingData is the ring's data region: 65536 total bytes per
// spec.md §4.I's stdout buffer, less the 8-byte write_head/read_tail
// header the ring otherwise keeps as plain atomic fields rather than a
// packed byte header (there is no wire format to match here, only a
// same-process producer/consumer pair).
const stdoutRingData = 65536 - 8

// StdoutRing is a single-producer (execution thread), single-consumer
// (I/O thread) byte ring. The producer side never takes a lock (atomic
// store of writeHead is the publish); the consumer side never takes a
// lock either (atomic store of readTail is the release), matching
// spec.md §4.I's "wait-free from the producer side, lock-free on the
// consumer side."
type StdoutRing struct {
	writeHead uint32
	readTail  uint32
	data      [stdoutRingData]byte
}

// NewStdoutRing returns an empty ring.
func NewStdoutRing() *StdoutRing { return &StdoutRing{} }

// Write copies as much of p as currently fits and reports whether the ring
// was full before any of it could be appended — the execution thread's
// back-pressure signal (spec.md §5: "spins briefly, then yields").
func (r *StdoutRing) Write(p []byte) (n int, full bool) {
	cap := uint32(len(r.data))
	for len(p) > 0 {
		head := atomic.LoadUint32(&r.writeHead)
		tail := atomic.LoadUint32(&r.readTail)
		free := cap - (head - tail)
		if free == 0 {
			return n, n == 0
		}
		chunk := p
		if uint32(len(chunk)) > free {
			chunk = chunk[:free]
		}
		idx := head % cap
		end := idx + uint32(len(chunk))
		if end <= cap {
			copy(r.data[idx:end], chunk)
		} else {
			split := cap - idx
			copy(r.data[idx:], chunk[:split])
			copy(r.data[:uint32(len(chunk))-split], chunk[split:])
		}
		atomic.StoreUint32(&r.writeHead, head+uint32(len(chunk)))
		n += len(chunk)
		p = p[len(chunk):]
	}
	return n, false
}

// Read drains up to len(p) bytes into p, returning the count actually read.
func (r *StdoutRing) Read(p []byte) int {
	cap := uint32(len(r.data))
	head := atomic.LoadUint32(&r.writeHead)
	tail := atomic.LoadUint32(&r.readTail)
	avail := head - tail
	n := uint32(len(p))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	idx := tail % cap
	end := idx + n
	if end <= cap {
		copy(p[:n], r.data[idx:end])
	} else {
		split := cap - idx
		copy(p[:split], r.data[idx:])
		copy(p[split:n], r.data[:n-split])
	}
	atomic.StoreUint32(&r.readTail, tail+n)
	return int(n)
}
