package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Thresholds.PatternAccept != 0.70 {
		t.Errorf("expected patternAccept=0.70, got %v", cfg.Thresholds.PatternAccept)
	}
	if cfg.Thresholds.PatternEscalate != 0.50 {
		t.Errorf("expected patternEscalate=0.50, got %v", cfg.Thresholds.PatternEscalate)
	}
	if cfg.Thresholds.MidAccept != 0.60 {
		t.Errorf("expected midAccept=0.60, got %v", cfg.Thresholds.MidAccept)
	}
	if cfg.Memory.Dims != 256 {
		t.Errorf("expected dims=256, got %d", cfg.Memory.Dims)
	}
	if cfg.Memory.DedupDistance != 0.05 {
		t.Errorf("expected dedupDistance=0.05, got %v", cfg.Memory.DedupDistance)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := NewConfig()
	cfg.Thresholds.PatternAccept = 0.8
	cfg.DataDir = dir

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if loaded.Thresholds.PatternAccept != 0.8 {
		t.Errorf("expected patternAccept=0.8, got %v", loaded.Thresholds.PatternAccept)
	}
	if loaded.DataDir != dir {
		t.Errorf("expected dataDir=%s, got %s", dir, loaded.DataDir)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}

	var notFound *NotFoundError
	if !asNotFound(err, &notFound) {
		t.Errorf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestLoadFromInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadFromPartialConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"dataDir": "/tmp/x"}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Thresholds == nil || cfg.Thresholds.MidAccept != 0.60 {
		t.Error("expected default thresholds for partial config")
	}
	if cfg.Memory == nil || cfg.Memory.EfSearch != 64 {
		t.Error("expected default memory settings for partial config")
	}
}
