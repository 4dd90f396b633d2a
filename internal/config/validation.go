/*
Package config provides validation helpers for router configuration.

This file contains shared validation functions used by CLI commands
to detect and prevent misconfiguration before it reaches the gate.
*/
package config

import "fmt"

// Validate checks the configuration for internally consistent values.
// Returns an error describing the first problem found.
func Validate(cfg *Config) error {
	t := cfg.Thresholds
	if t != nil {
		if t.PatternAccept <= 0 || t.PatternAccept > 1 {
			return fmt.Errorf("thresholds.patternAccept must be in (0, 1], got %v", t.PatternAccept)
		}
		if t.PatternEscalate < 0 || t.PatternEscalate > 1 {
			return fmt.Errorf("thresholds.patternEscalate must be in [0, 1], got %v", t.PatternEscalate)
		}
		if t.PatternEscalate >= t.PatternAccept {
			return fmt.Errorf("thresholds.patternEscalate (%v) must be below patternAccept (%v)",
				t.PatternEscalate, t.PatternAccept)
		}
		if t.MidAccept <= 0 || t.MidAccept > 1 {
			return fmt.Errorf("thresholds.midAccept must be in (0, 1], got %v", t.MidAccept)
		}
		if t.PatternBudgetMs <= 0 || t.MidBudgetMs <= 0 {
			return fmt.Errorf("tier latency budgets must be positive")
		}
	}

	m := cfg.Memory
	if m != nil {
		if m.Dims <= 0 {
			return fmt.Errorf("memory.dims must be positive, got %d", m.Dims)
		}
		if m.M < 2 {
			return fmt.Errorf("memory.m must be at least 2, got %d", m.M)
		}
		if m.EfSearch < 1 || m.EfConstruction < 1 {
			return fmt.Errorf("memory.efSearch and memory.efConstruction must be positive")
		}
		if m.DedupDistance < 0 || m.DedupDistance > 1 {
			return fmt.Errorf("memory.dedupDistance must be in [0, 1], got %v", m.DedupDistance)
		}
	}

	tr := cfg.Training
	if tr != nil {
		if tr.HeldOutFraction <= 0 || tr.HeldOutFraction >= 1 {
			return fmt.Errorf("training.heldOutFraction must be in (0, 1), got %v", tr.HeldOutFraction)
		}
		if tr.MinAccuracy < 0 || tr.MinAccuracy > 1 {
			return fmt.Errorf("training.minAccuracy must be in [0, 1], got %v", tr.MinAccuracy)
		}
		if tr.SyntheticPerUtterance < 1 {
			return fmt.Errorf("training.syntheticPerUtterance must be at least 1, got %d", tr.SyntheticPerUtterance)
		}
	}

	return nil
}
