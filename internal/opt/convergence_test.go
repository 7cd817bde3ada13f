package opt

import (
	"math"
	"testing"
)

func TestConvergenceTracker_BasicConvergence(t *testing.T) {
	tracker := NewConvergenceTracker(ConvergenceConfig{
		Enabled:   true,
		Patience:  3,
		Threshold: 0.01, // 1% improvement required
	})

	if tracker.Best() != math.Inf(1) {
		t.Errorf("Expected initial best to be Inf, got %v", tracker.Best())
	}
	if tracker.Update(1.0) {
		t.Error("Should not converge on first update")
	}
	if tracker.Update(0.8) {
		t.Error("Should not converge after improvement")
	}
	if tracker.StaleCount() != 0 {
		t.Errorf("Expected stale count 0 after improvement, got %v", tracker.StaleCount())
	}

	// Relative to the last significant value 0.8, all of these are below 1%.
	for i, f := range []float64{0.795, 0.796} {
		if tracker.Update(f) {
			t.Errorf("Should not converge yet (%d/3)", i+1)
		}
	}
	if !tracker.Update(0.797) {
		t.Error("Should converge once patience is exhausted")
	}
	if tracker.Best() != 0.795 {
		t.Errorf("Expected best 0.795, got %v", tracker.Best())
	}
	if len(tracker.History()) != 5 {
		t.Errorf("Expected 5 history entries, got %d", len(tracker.History()))
	}
}

func TestConvergenceTracker_NegativeAndZeroFitness(t *testing.T) {
	tracker := NewConvergenceTracker(ConvergenceConfig{Enabled: true, Patience: 2, Threshold: 0.1})

	tracker.Update(-10)
	if tracker.Update(-12) { // 20% better relative to |-10|
		t.Error("Should not converge after improvement")
	}
	if tracker.StaleCount() != 0 {
		t.Errorf("Expected stale count 0, got %d", tracker.StaleCount())
	}

	zero := NewConvergenceTracker(ConvergenceConfig{Enabled: true, Patience: 1, Threshold: 0.5})
	zero.Update(0)
	if zero.Update(-1) { // absolute improvement 1 >= 0.5
		t.Error("Absolute improvement from zero should count")
	}
}

func TestConvergenceTracker_Disabled(t *testing.T) {
	tracker := NewConvergenceTracker(DisabledConvergenceConfig())
	for i := 0; i < 100; i++ {
		if tracker.Update(1.0) {
			t.Fatal("Disabled tracker should never converge")
		}
	}
	if len(tracker.History()) != 0 {
		t.Error("Disabled tracker should not record history")
	}
}

func TestConvergenceTracker_Reset(t *testing.T) {
	tracker := NewConvergenceTracker(DefaultConvergenceConfig())
	tracker.Update(3)
	tracker.Update(3)
	tracker.Reset()
	if tracker.StaleCount() != 0 || tracker.Best() != math.Inf(1) || len(tracker.History()) != 0 {
		t.Error("Reset should clear all state")
	}
}
