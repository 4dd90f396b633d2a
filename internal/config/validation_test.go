package config

import "testing"

func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"escalate above accept", func(c *Config) { c.Thresholds.PatternEscalate = 0.9 }},
		{"zero accept", func(c *Config) { c.Thresholds.PatternAccept = 0 }},
		{"mid accept above one", func(c *Config) { c.Thresholds.MidAccept = 1.5 }},
		{"negative budget", func(c *Config) { c.Thresholds.PatternBudgetMs = -1 }},
		{"zero dims", func(c *Config) { c.Memory.Dims = 0 }},
		{"m too small", func(c *Config) { c.Memory.M = 1 }},
		{"dedup above one", func(c *Config) { c.Memory.DedupDistance = 1.2 }},
		{"held-out fraction one", func(c *Config) { c.Training.HeldOutFraction = 1.0 }},
		{"zero synthetic", func(c *Config) { c.Training.SyntheticPerUtterance = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("expected validation error for %q", tt.name)
			}
		})
	}
}

func TestValidateAcceptsBoundaryValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Thresholds.PatternAccept = 1.0
	cfg.Thresholds.PatternEscalate = 0.0
	cfg.Memory.DedupDistance = 0.0

	if err := Validate(cfg); err != nil {
		t.Errorf("boundary values should validate, got: %v", err)
	}
}
