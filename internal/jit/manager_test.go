package jit

import (
	"testing"

	"github.com/xyproto/rv64x/internal/arena"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HotThreshold != 50 || cfg.OptimizeThreshold != 500 {
		t.Errorf("got hot=%d optimize=%d", cfg.HotThreshold, cfg.OptimizeThreshold)
	}
	if cfg.Disabled {
		t.Error("default config should not disable the JIT")
	}
}

func TestRecordExecutionNoopWhenDisabled(t *testing.T) {
	a := arena.New(20)
	cfg := DefaultConfig()
	cfg.Disabled = true
	m := NewManager(a, cfg)
	defer m.Close()

	for i := 0; i < 1000; i++ {
		m.RecordExecution(0x1000)
	}
	if _, ok := m.GetCompiledRegion(0x1000); ok {
		t.Error("a disabled manager should never produce a compiled region")
	}
}

func TestGetCompiledRegionMissReturnsFalse(t *testing.T) {
	a := arena.New(20)
	m := NewManager(a, DefaultConfig())
	defer m.Close()

	if _, ok := m.GetCompiledRegion(0xdeadbeef); ok {
		t.Error("an address with no compiled region should report ok=false")
	}
}

func TestRecordBranchOutcomeFeedsPredictor(t *testing.T) {
	a := arena.New(20)
	m := NewManager(a, DefaultConfig())
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.RecordBranchOutcome(0x2000, true)
	}
	if !m.predictor.hasHistory(0x2000) {
		t.Error("RecordBranchOutcome should feed the manager's predictor")
	}
}

func TestEnqueueEvictsLowestPriorityOnOverflow(t *testing.T) {
	a := arena.New(20)
	cfg := DefaultConfig()
	cfg.Disabled = true // no compile workers draining the queue underneath us
	cfg.CompileQueueMax = 3
	m := NewManager(a, cfg)
	defer m.Close()

	if !m.enqueue(0x1000, Baseline, 10) {
		t.Fatal("enqueue into an empty queue should succeed")
	}
	if !m.enqueue(0x2000, Baseline, 5) {
		t.Fatal("enqueue under the cap should succeed")
	}
	if !m.enqueue(0x3000, Baseline, 1) {
		t.Fatal("enqueue under the cap should succeed")
	}
	if len(m.queue) != 3 {
		t.Fatalf("got queue len=%d, want 3", len(m.queue))
	}

	// Queue is full at its lowest priority item (0x3000, priority 1). A
	// higher-priority arrival should displace it rather than being dropped.
	if !m.enqueue(0x4000, Baseline, 7) {
		t.Fatal("a higher-priority job should displace the queue's lowest-priority entry")
	}
	if len(m.queue) != 3 {
		t.Fatalf("queue should never grow past CompileQueueMax, got len=%d", len(m.queue))
	}
	foundEvicted, foundNew := false, false
	for _, item := range m.queue {
		if item.pc == 0x3000 {
			foundEvicted = true
		}
		if item.pc == 0x4000 {
			foundNew = true
		}
	}
	if foundEvicted {
		t.Error("the lowest-priority job (0x3000) should have been evicted")
	}
	if !foundNew {
		t.Error("the displacing job (0x4000) should be in the queue")
	}

	// A lower-priority arrival than everything currently queued is dropped,
	// and the queue still never exceeds CompileQueueMax.
	if m.enqueue(0x5000, Baseline, 0) {
		t.Error("a lower-priority job should be dropped when the queue is full")
	}
	if len(m.queue) != 3 {
		t.Fatalf("got queue len=%d, want 3", len(m.queue))
	}
}

func TestCloseStopsCompileWorkersCleanly(t *testing.T) {
	a := arena.New(20)
	m := NewManager(a, DefaultConfig())
	m.Close()
	// A second Close must not panic or deadlock.
	m.Close()
}
