package jit

import "sync"

// predictor is the JIT tier's branch direction predictor. Its shape is
// grounded on the teacher's DependencyGraph (dependency_graph.go): a
// map-of-maps adjacency table updated incrementally by AddCall, here
// counting how often a branch went each way instead of which function
// called which. A first-order table keys directly on the branch PC; a
// second-order table additionally keys on the previously resolved branch,
// which catches alternating or loop-trip-count patterns a first-order
// count averages away.
type predictor struct {
	mu sync.Mutex

	firstOrder  map[uint64]*outcome
	secondOrder map[[2]uint64]*outcome

	lastBranch uint64
	haveLast   bool
}

type outcome struct {
	taken, notTaken int
}

func newPredictor() *predictor {
	return &predictor{
		firstOrder:  make(map[uint64]*outcome),
		secondOrder: make(map[[2]uint64]*outcome),
	}
}

// Record feeds back the interpreter's actual branch resolution.
func (p *predictor) Record(pc uint64, taken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o := p.firstOrder[pc]
	if o == nil {
		o = &outcome{}
		p.firstOrder[pc] = o
	}
	bump(o, taken)

	if p.haveLast {
		key := [2]uint64{p.lastBranch, pc}
		o2 := p.secondOrder[key]
		if o2 == nil {
			o2 = &outcome{}
			p.secondOrder[key] = o2
		}
		bump(o2, taken)
	}
	p.lastBranch = pc
	p.haveLast = true
}

func bump(o *outcome, taken bool) {
	if taken {
		o.taken++
	} else {
		o.notTaken++
	}
}

// hasHistory reports whether pc has recorded branch outcomes yet, used by
// the manager to discount compile priority for an Optimized-tier compile
// whose guard folds would otherwise be a blind guess.
func (p *predictor) hasHistory(pc uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.firstOrder[pc]
	return ok
}

// Predict reports whether the branch at pc, whose displacement is imm,
// is predicted taken. With enough recorded history for pc (or the
// (lastBranch, pc) pair) it trusts that; otherwise it falls back to the
// classic static heuristic: backward branches (loop back-edges, imm < 0)
// predict taken, forward branches predict not-taken.
func (p *predictor) Predict(pc uint64, imm int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveLast {
		if o, ok := p.secondOrder[[2]uint64{p.lastBranch, pc}]; ok && (o.taken+o.notTaken) >= 4 {
			return o.taken > o.notTaken
		}
	}
	if o, ok := p.firstOrder[pc]; ok && (o.taken+o.notTaken) >= 4 {
		return o.taken > o.notTaken
	}
	return imm < 0
}
