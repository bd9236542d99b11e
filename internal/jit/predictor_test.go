package jit

import "testing"

func TestPredictorStaticFallback(t *testing.T) {
	p := newPredictor()
	if !p.Predict(0x1000, -8) {
		t.Error("a backward branch with no history should predict taken")
	}
	if p.Predict(0x1000, 8) {
		t.Error("a forward branch with no history should predict not-taken")
	}
}

func TestPredictorLearnsFromHistory(t *testing.T) {
	p := newPredictor()
	for i := 0; i < 10; i++ {
		p.Record(0x2000, true)
	}
	if !p.Predict(0x2000, 8) {
		t.Error("after consistently-taken history, a forward branch should predict taken")
	}
}

func TestPredictorHasHistory(t *testing.T) {
	p := newPredictor()
	if p.hasHistory(0x3000) {
		t.Error("fresh predictor should have no history for an unseen pc")
	}
	p.Record(0x3000, false)
	if !p.hasHistory(0x3000) {
		t.Error("after a Record call, hasHistory should report true")
	}
}

func TestPredictorSecondOrderOverridesFirstOrder(t *testing.T) {
	p := newPredictor()
	// Build up first-order history that says "usually not taken"...
	for i := 0; i < 10; i++ {
		p.Record(0x4000, false)
	}
	// ...but when immediately preceded by 0x3000, it's always taken.
	for i := 0; i < 10; i++ {
		p.Record(0x3000, true)
		p.Record(0x4000, true)
	}
	// Leave lastBranch pointing at 0x3000 so Predict consults the
	// (0x3000, 0x4000) second-order entry rather than the tied first-order one.
	p.Record(0x3000, true)
	if !p.Predict(0x4000, 8) {
		t.Error("second-order history following 0x3000 should predict taken")
	}
}
