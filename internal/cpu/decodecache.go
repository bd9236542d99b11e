package cpu

// MaxExecuteSegs is the decode cache's bucket count (spec.md §3: "up to
// MAX_EXECUTE_SEGS (>= 1024) execute segments"). It is not a hard cap:
// segments beyond it chain within their buckets.
const MaxExecuteSegs = 1024

// SegmentSize is the span of guest address each decoder segment covers.
// Chosen to match the JIT's region size so eviction and compiled-region
// invalidation operate on the same granularity.
const SegmentSize = 16 * 1024

// segmentEntry is one bucket in the decode cache's open-chaining hash
// table, the same chained-bucket shape as the teacher's hashmap.go
// (Vibe67HashMap / Vibe67HashBucket), keyed here by segment base address
// instead of a symbol hash.
type segmentEntry struct {
	base     uint64
	segment  *Segment
	occupied bool
	next     *segmentEntry
}

// Segment holds decoded instructions for one contiguous executable region,
// addressed by (segment_start, segment_end) rather than by back-pointer
// into the arena, per the "cyclic ownership" design note: segments own
// slices by range, never a pointer back into arena bytes.
type Segment struct {
	Start uint64
	End   uint64
	insts map[uint64]Instruction
}

func newSegment(start uint64) *Segment {
	base := start - (start % SegmentSize)
	return &Segment{
		Start: base,
		End:   base + SegmentSize,
		insts: make(map[uint64]Instruction),
	}
}

// DecodeCache maps an arena address to its decoded-instruction entry,
// grouped into fixed-size segments so eviction after mprotect/execve/JIT
// writes can drop a whole range's entries in one pass without walking
// every individual address.
type DecodeCache struct {
	buckets []segmentEntry
	size    int
	count   int
}

// NewDecodeCache creates a cache with MaxExecuteSegs buckets; segments
// whose bases hash to an occupied bucket are chained behind it.
func NewDecodeCache() *DecodeCache {
	return &DecodeCache{
		buckets: make([]segmentEntry, MaxExecuteSegs),
		size:    MaxExecuteSegs,
	}
}

func (c *DecodeCache) hash(base uint64) uint64 {
	// fibonacci hashing: cheap, good-enough distribution across segment
	// bases which are themselves multiples of SegmentSize.
	return (base * 11400714819323198485) % uint64(c.size)
}

func (c *DecodeCache) segmentFor(addr uint64, create bool) *Segment {
	base := addr - (addr % SegmentSize)
	idx := c.hash(base)
	bucket := &c.buckets[idx]

	if bucket.occupied && bucket.base == base {
		return bucket.segment
	}
	for cur := bucket.next; cur != nil; cur = cur.next {
		if cur.occupied && cur.base == base {
			return cur.segment
		}
	}
	if !create {
		return nil
	}
	seg := newSegment(addr)
	if !bucket.occupied {
		bucket.base = base
		bucket.segment = seg
		bucket.occupied = true
		c.count++
		return seg
	}
	entry := &segmentEntry{base: base, segment: seg, occupied: true}
	entry.next = bucket.next
	bucket.next = entry
	c.count++
	return seg
}

// Lookup returns the decoded instruction cached for addr, if present.
func (c *DecodeCache) Lookup(addr uint64) (Instruction, bool) {
	seg := c.segmentFor(addr, false)
	if seg == nil {
		return Instruction{}, false
	}
	inst, ok := seg.insts[addr]
	return inst, ok
}

// Insert caches inst as the decode of addr.
func (c *DecodeCache) Insert(addr uint64, inst Instruction) {
	seg := c.segmentFor(addr, true)
	seg.insts[addr] = inst
}

// Evict drops every decoder entry whose address falls in
// [rangeStart, rangeEnd). Called after mprotect, execve, or a JIT-visible
// write into executable memory, before the next fetch from that range.
func (c *DecodeCache) Evict(rangeStart, rangeEnd uint64) {
	visit := func(e *segmentEntry) {
		if !e.occupied {
			return
		}
		if e.segment.End <= rangeStart || e.segment.Start >= rangeEnd {
			return
		}
		for addr := range e.segment.insts {
			if addr >= rangeStart && addr < rangeEnd {
				delete(e.segment.insts, addr)
			}
		}
	}
	for i := range c.buckets {
		visit(&c.buckets[i])
		for cur := c.buckets[i].next; cur != nil; cur = cur.next {
			visit(cur)
		}
	}
}

// EvictAll drops every cached decode, used on execve per the design note
// that partial eviction has historically caused stale cross-image
// execution faults.
func (c *DecodeCache) EvictAll() {
	c.buckets = make([]segmentEntry, c.size)
	c.count = 0
}
