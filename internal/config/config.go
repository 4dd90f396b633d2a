/*
Package config handles loading, saving, and validating tool-router configuration.

Configuration is stored in ~/.tool-router.json. All knobs default to the values
documented below; a missing file is not an error for commands that can run on
defaults.

Schema:

	{
	  "thresholds": {
	    "patternAccept": 0.70,
	    "patternEscalate": 0.50,
	    "midAccept": 0.60,
	    "patternBudgetMs": 10,
	    "midBudgetMs": 50
	  },
	  "memory": {
	    "dims": 256,
	    "m": 16,
	    "efSearch": 64,
	    "efConstruction": 200,
	    "dedupDistance": 0.05
	  },
	  "training": {
	    "seed": 42,
	    "heldOutFraction": 0.2,
	    "minAccuracy": 0.3,
	    "harvestConfidenceFloor": 0.7,
	    "syntheticPerUtterance": 4
	  },
	  "fallback": {
	    "command": "reasoner",
	    "args": ["--stdio"],
	    "timeoutSeconds": 30
	  },
	  "dataDir": "~/.tool-router"
	}
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Thresholds controls the confidence gate's escalation table.
type Thresholds struct {
	// PatternAccept is the minimum pattern-tier confidence accepted outright.
	PatternAccept float64 `json:"patternAccept"`

	// PatternEscalate is the minimum pattern-tier confidence that escalates to
	// the mid tier. Below this the request goes straight to the fallback.
	PatternEscalate float64 `json:"patternEscalate"`

	// MidAccept is the minimum mid-tier confidence accepted outright.
	MidAccept float64 `json:"midAccept"`

	// PatternBudgetMs is the pattern tier latency budget in milliseconds.
	PatternBudgetMs int `json:"patternBudgetMs"`

	// MidBudgetMs is the mid tier latency budget in milliseconds.
	MidBudgetMs int `json:"midBudgetMs"`
}

// Memory controls the semantic memory store's ANN index.
type Memory struct {
	// Dims is the embedding dimensionality.
	Dims int `json:"dims"`

	// M is the max neighbor links per node per layer.
	M int `json:"m"`

	// EfSearch is the candidate heap size during search.
	EfSearch int `json:"efSearch"`

	// EfConstruction is the candidate heap size during insertion.
	EfConstruction int `json:"efConstruction"`

	// DedupDistance is the cosine distance below which a new training example
	// is considered a near-duplicate of an existing one.
	DedupDistance float64 `json:"dedupDistance"`
}

// Training controls corpus generation and the trainer.
type Training struct {
	// Seed makes Fit deterministic for reproducible benchmarks.
	Seed int64 `json:"seed"`

	// HeldOutFraction is the share of the corpus reserved for benchmarking.
	HeldOutFraction float64 `json:"heldOutFraction"`

	// MinAccuracy is the absolute floor below which a trained snapshot is
	// discarded as divergent without benchmarking against the anchor.
	MinAccuracy float64 `json:"minAccuracy"`

	// HarvestConfidenceFloor is the minimum decision confidence for an
	// observed decision to be harvested as a training example.
	HarvestConfidenceFloor float64 `json:"harvestConfidenceFloor"`

	// SyntheticPerUtterance is how many paraphrases to generate per example
	// utterance during synthetic corpus generation.
	SyntheticPerUtterance int `json:"syntheticPerUtterance"`
}

// Fallback configures the external reasoning backend process.
type Fallback struct {
	// Command is the executable to spawn (speaks line-delimited JSON on stdio).
	Command string `json:"command,omitempty"`

	// Args are the command-line arguments.
	Args []string `json:"args,omitempty"`

	// Env contains environment variables for the backend.
	Env map[string]string `json:"env,omitempty"`

	// TimeoutSeconds is the caller-side timeout for one fallback request.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// Config represents the root configuration structure.
type Config struct {
	Thresholds *Thresholds `json:"thresholds,omitempty"`
	Memory     *Memory     `json:"memory,omitempty"`
	Training   *Training   `json:"training,omitempty"`
	Fallback   *Fallback   `json:"fallback,omitempty"`

	// DataDir holds the SQLite database and the benchmark log.
	DataDir string `json:"dataDir,omitempty"`
}

// NewConfig creates a configuration with all defaults applied.
func NewConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Thresholds: &Thresholds{
			PatternAccept:   0.70,
			PatternEscalate: 0.50,
			MidAccept:       0.60,
			PatternBudgetMs: 10,
			MidBudgetMs:     50,
		},
		Memory: &Memory{
			Dims:           256,
			M:              16,
			EfSearch:       64,
			EfConstruction: 200,
			DedupDistance:  0.05,
		},
		Training: &Training{
			Seed:                   42,
			HeldOutFraction:        0.2,
			MinAccuracy:            0.3,
			HarvestConfidenceFloor: 0.7,
			SyntheticPerUtterance:  4,
		},
		Fallback: &Fallback{
			TimeoutSeconds: 30,
		},
		DataDir: filepath.Join(home, ".tool-router"),
	}
}

// GetDefaultConfigPath returns the path to ~/.tool-router.json
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tool-router.json"), nil
}

// DatabasePath returns the SQLite database path under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "router.db")
}

// CatalogPath returns the persisted tool catalog path under DataDir.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "tools.json")
}

// BenchmarkLogPath returns the append-only benchmark audit log path.
func (c *Config) BenchmarkLogPath() string {
	return filepath.Join(c.DataDir, "benchmarks.jsonl")
}

// Load reads the configuration from the default path, falling back to
// defaults when the file does not exist.
func Load() (*Config, error) {
	configPath, err := GetDefaultConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(configPath)
	if err != nil {
		var notFound *NotFoundError
		if asNotFound(err, &notFound) {
			return NewConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the specified path.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyDefaults fills nil sections with default values after a partial load.
func (c *Config) applyDefaults() {
	def := NewConfig()
	if c.Thresholds == nil {
		c.Thresholds = def.Thresholds
	}
	if c.Memory == nil {
		c.Memory = def.Memory
	}
	if c.Training == nil {
		c.Training = def.Training
	}
	if c.Fallback == nil {
		c.Fallback = def.Fallback
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
}
