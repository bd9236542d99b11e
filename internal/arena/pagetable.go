package arena

// PageAttr holds the per-4 KiB-page permission and dirty bits overlaid on
// the arena (component B of the spec). Loads and stores bypass this table
// for performance in flat-arena mode; mprotect and segment loading keep it
// current so exec bits stay authoritative for JIT invalidation and so a
// checkpoint can reconstruct permissions.
type PageAttr struct {
	Read  bool
	Write bool
	Exec  bool
	Dirty bool
}

// IsExecutable reports whether this page may serve as fetch target.
func (p PageAttr) IsExecutable() bool { return p.Exec }

// PageTable maps a page number (addr >> 12) to its attributes. Absent
// entries behave as all-flags-false (unmapped).
type PageTable struct {
	m map[uint64]PageAttr
}

// NewPageTable returns an empty page table.
func NewPageTable() *PageTable {
	return &PageTable{m: make(map[uint64]PageAttr)}
}

// Get returns the attributes for page, and whether an entry exists.
func (t *PageTable) Get(page uint64) (PageAttr, bool) {
	attr, ok := t.m[page]
	return attr, ok
}

// Set installs the attributes for page, replacing any previous entry.
func (t *PageTable) Set(page uint64, attr PageAttr) {
	t.m[page] = attr
}

// SetRange applies attr to every page in [addr, addr+length), rounding
// outward to page boundaries, as mprotect and segment loading do.
func (t *PageTable) SetRange(addr, length uint64, attr PageAttr) {
	first := addr >> PageShift
	last := (addr + length - 1) >> PageShift
	for p := first; p <= last; p++ {
		t.m[p] = attr
	}
}

// ExecutablePages returns the sorted list of page numbers currently marked
// executable, used by the checkpoint format (§6) and /proc/self/maps
// rendering.
func (t *PageTable) ExecutablePages() []uint64 {
	var pages []uint64
	for p, attr := range t.m {
		if attr.Exec {
			pages = append(pages, p)
		}
	}
	// simple insertion sort: page counts are small relative to a 2 GiB
	// guest's typical resident set, and this runs only at checkpoint time
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j-1] > pages[j]; j-- {
			pages[j-1], pages[j] = pages[j], pages[j-1]
		}
	}
	return pages
}

// ClearDirty resets the dirty bit for page, if present.
func (t *PageTable) ClearDirty(page uint64) {
	if attr, ok := t.m[page]; ok {
		attr.Dirty = false
		t.m[page] = attr
	}
}

// IsDirty reports whether page has been written since the flag was last
// cleared. Missing entries are never dirty.
func (t *PageTable) IsDirty(page uint64) bool {
	return t.m[page].Dirty
}
