package jit

import (
	"sync"
	"time"

	"github.com/xyproto/rv64x/internal/arena"
	"github.com/xyproto/rv64x/internal/cpu"
	"github.com/xyproto/rv64x/internal/rvlog"
)

// Config tunes the compile scheduler. Defaults mirror spec.md §4.G's
// named defaults: a single concurrent compile, a modest per-second
// compile budget, and a bounded queue so a pathological hot-address churn
// can't grow it without limit.
type Config struct {
	Disabled bool

	HotThreshold      int // hits before a cold region gets a Baseline compile
	OptimizeThreshold int // hits before a Baseline region is recompiled Optimized

	MaxConcurrentCompiles int
	CompileBudgetPerSecond int
	CompileQueueMax        int

	FailureBackoffBase time.Duration
	FailureBackoffCap  time.Duration
}

func DefaultConfig() Config {
	return Config{
		HotThreshold:           50,
		OptimizeThreshold:      500,
		MaxConcurrentCompiles:  1,
		CompileBudgetPerSecond: 6,
		CompileQueueMax:        128,
		FailureBackoffBase:     2 * time.Second,
		FailureBackoffCap:      120 * time.Second,
	}
}

type regionState struct {
	region *Region
}

type failureState struct {
	count     int
	nextRetry time.Time
}

type pqItem struct {
	pc       uint64
	tier     Tier
	priority float64
}

// Manager is the JIT tier's bookkeeping and implements cpu.JITProvider.
// Hit counters (RecordExecution) drive compile scheduling; a priority
// queue (priority = min(1,confidence) x hit count, grounded on the
// teacher's DependencyGraph-style map bookkeeping in dependency_graph.go
// and the feature-flag tracking in runtime_tracker.go) feeds one or more
// worker goroutines rate-limited by a token bucket; every served region
// is checked against the arena's own page-dirty bits before being handed
// back to dispatch, so a store into executing code invalidates it without
// a separate tracked "dirty pages" set.
type Manager struct {
	a   *arena.Arena
	cfg Config
	log *rvlog.Logger

	predictor *predictor

	mu       sync.Mutex
	hits     map[uint64]int
	regions  map[uint64]*regionState
	queued   map[uint64]bool
	failures map[uint64]*failureState

	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []pqItem
	closed bool

	tokens     float64
	lastRefill time.Time
}

func NewManager(a *arena.Arena, cfg Config) *Manager {
	m := &Manager{
		a:          a,
		cfg:        cfg,
		log:        rvlog.Default("jit"),
		predictor:  newPredictor(),
		hits:       make(map[uint64]int),
		regions:    make(map[uint64]*regionState),
		queued:     make(map[uint64]bool),
		failures:   make(map[uint64]*failureState),
		tokens:     float64(cfg.CompileBudgetPerSecond),
		lastRefill: time.Now(),
	}
	m.qcond = sync.NewCond(&m.qmu)

	if !cfg.Disabled {
		workers := cfg.MaxConcurrentCompiles
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			go m.compileWorker()
		}
	}
	return m
}

// Close stops the compile workers. Pending jobs are dropped; already
// compiled regions remain valid and served.
func (m *Manager) Close() {
	m.qmu.Lock()
	m.closed = true
	m.qmu.Unlock()
	m.qcond.Broadcast()
}

// RecordExecution implements cpu.JITProvider. It is called on every
// dispatch-loop re-entry and bumps pc's hit counter, queuing a compile
// once a threshold is crossed.
func (m *Manager) RecordExecution(pc uint64) {
	if m.cfg.Disabled {
		return
	}

	m.mu.Lock()
	m.hits[pc]++
	hits := m.hits[pc]
	rs, compiled := m.regions[pc]
	alreadyQueued := m.queued[pc]
	fs := m.failures[pc]
	m.mu.Unlock()

	if alreadyQueued {
		return
	}
	if fs != nil && time.Now().Before(fs.nextRetry) {
		return
	}
	if compiled && rs.region.Tier == Optimized {
		return // already at the best tier
	}

	var tier Tier
	switch {
	case hits >= m.cfg.OptimizeThreshold:
		tier = Optimized
	case !compiled && hits >= m.cfg.HotThreshold:
		tier = Baseline
	default:
		return
	}

	confidence := 1.0
	if tier == Optimized && !m.predictor.hasHistory(pc) {
		confidence = 0.5
	}
	priority := confidence * float64(hits)

	m.mu.Lock()
	m.queued[pc] = true
	m.mu.Unlock()

	if !m.enqueue(pc, tier, priority) {
		m.mu.Lock()
		delete(m.queued, pc)
		m.mu.Unlock()
	}
}

// RecordBranchOutcome implements cpu.JITProvider, feeding the
// interpreter's actual branch resolutions to the predictor so a later
// Optimized compile can fold the historically likely side.
func (m *Manager) RecordBranchOutcome(pc uint64, taken bool) {
	m.predictor.Record(pc, taken)
}

// GetCompiledRegion implements cpu.JITProvider.
func (m *Manager) GetCompiledRegion(pc uint64) (cpu.CompiledRegion, bool) {
	m.mu.Lock()
	rs, ok := m.regions[pc]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	if m.regionDirty(rs.region) {
		m.invalidate(pc, rs.region)
		return nil, false
	}
	return rs.region, true
}

func (m *Manager) regionDirty(r *Region) bool {
	first := r.Start >> arena.PageShift
	last := r.End >> arena.PageShift
	for p := first; p <= last; p++ {
		if m.a.Pages().IsDirty(p) {
			return true
		}
	}
	return false
}

// invalidate drops a region that a guest store has made stale. The
// region is evicted, its hit count reset so the address has to re-earn
// its way back to a compile, and the dirty bits covering it are cleared
// so the next compile starts from a clean slate.
func (m *Manager) invalidate(pc uint64, r *Region) {
	m.mu.Lock()
	delete(m.regions, pc)
	delete(m.hits, pc)
	m.mu.Unlock()

	first := r.Start >> arena.PageShift
	last := r.End >> arena.PageShift
	for p := first; p <= last; p++ {
		m.a.Pages().ClearDirty(p)
	}
	if err := r.Free(); err != nil {
		m.log.Warnf("free invalidated region at 0x%x: %v", pc, err)
	}
}

// enqueue admits a new compile job, evicting the lowest-priority queued
// job in its place when the queue is already at CompileQueueMax and the
// new job outranks it. The queue never grows past CompileQueueMax.
func (m *Manager) enqueue(pc uint64, tier Tier, priority float64) bool {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.closed {
		return false
	}
	if len(m.queue) >= m.cfg.CompileQueueMax {
		idx := lowestPriority(m.queue)
		if m.queue[idx].priority >= priority {
			return false
		}
		evicted := m.queue[idx].pc
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
		m.mu.Lock()
		delete(m.queued, evicted)
		m.mu.Unlock()
	}
	m.queue = append(m.queue, pqItem{pc: pc, tier: tier, priority: priority})
	m.qcond.Signal()
	return true
}

func lowestPriority(items []pqItem) int {
	worst := 0
	for i := 1; i < len(items); i++ {
		if items[i].priority < items[worst].priority {
			worst = i
		}
	}
	return worst
}

func (m *Manager) compileWorker() {
	for {
		m.qmu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.qcond.Wait()
		}
		if len(m.queue) == 0 && m.closed {
			m.qmu.Unlock()
			return
		}
		idx := highestPriority(m.queue)
		job := m.queue[idx]
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
		m.qmu.Unlock()

		m.mu.Lock()
		delete(m.queued, job.pc)
		m.mu.Unlock()

		m.waitForToken()
		m.compile(job)
	}
}

func highestPriority(items []pqItem) int {
	best := 0
	for i := 1; i < len(items); i++ {
		if items[i].priority > items[best].priority {
			best = i
		}
	}
	return best
}

func (m *Manager) compile(job pqItem) {
	predict := func(pc uint64, imm int64) bool { return m.predictor.Predict(pc, imm) }
	region, err := Translate(m.a, job.pc, job.tier, predict)
	if err != nil {
		m.recordFailure(job.pc)
		m.log.Debugf("compile at 0x%x (%s) declined: %v", job.pc, job.tier, err)
		return
	}

	m.mu.Lock()
	if old, ok := m.regions[job.pc]; ok && old.region != nil {
		old.region.Free()
	}
	m.regions[job.pc] = &regionState{region: region}
	delete(m.failures, job.pc)
	m.mu.Unlock()

	m.log.Infof("compiled 0x%x..0x%x tier=%s", region.Start, region.End, job.tier)
}

func (m *Manager) recordFailure(pc uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs := m.failures[pc]
	if fs == nil {
		fs = &failureState{}
		m.failures[pc] = fs
	}
	fs.count++

	backoff := m.cfg.FailureBackoffBase << uint(fs.count-1)
	if backoff <= 0 || backoff > m.cfg.FailureBackoffCap {
		backoff = m.cfg.FailureBackoffCap
	}
	fs.nextRetry = time.Now().Add(backoff)
}

// waitForToken blocks until the token bucket has budget for one more
// compile, refilling at cfg.CompileBudgetPerSecond tokens/sec.
func (m *Manager) waitForToken() {
	for {
		m.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(m.lastRefill).Seconds()
		m.tokens += elapsed * float64(m.cfg.CompileBudgetPerSecond)
		budgetCap := float64(m.cfg.CompileBudgetPerSecond)
		if m.tokens > budgetCap {
			m.tokens = budgetCap
		}
		m.lastRefill = now

		if m.tokens >= 1 {
			m.tokens--
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		time.Sleep(50 * time.Millisecond)
	}
}
