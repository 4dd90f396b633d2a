package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.json")

	r := NewRegistry()
	if err := r.Register(sampleTool("search")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(sampleTool("deploy")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := SaveCatalog(path, r); err != nil {
		t.Fatalf("SaveCatalog failed: %v", err)
	}

	tools, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	// Registration order survives the round trip.
	if tools[0].Name != "search" || tools[1].Name != "deploy" {
		t.Errorf("unexpected order: %s, %s", tools[0].Name, tools[1].Name)
	}
	if tools[0].ArgumentSchema["query"].Examples[0] != "gold prices" {
		t.Error("argument schema did not survive the round trip")
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	tools, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing catalog should not error: %v", err)
	}
	if tools != nil {
		t.Errorf("expected nil tools, got %d", len(tools))
	}
}

func TestLoadCatalogMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveCatalogCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "tools.json")

	r := NewRegistry()
	if err := r.Register(sampleTool("search")); err != nil {
		t.Fatal(err)
	}
	if err := SaveCatalog(path, r); err != nil {
		t.Fatalf("SaveCatalog failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("catalog file not created: %v", err)
	}
}
