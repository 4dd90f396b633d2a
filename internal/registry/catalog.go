package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// catalogFile is the on-disk shape of the tool catalog. Descriptors are
// keyed by name; registration order is preserved explicitly so tie-breaking
// stays stable across restarts.
type catalogFile struct {
	Tools []ToolDescriptor `json:"tools"`
}

// LoadCatalog reads tool descriptors from path. A missing file is not an
// error; it returns an empty slice so a fresh install starts with an empty
// registry.
func LoadCatalog(path string) ([]ToolDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tool catalog: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog %s: %w", path, err)
	}
	return file.Tools, nil
}

// SaveCatalog writes the registry's descriptors to path in registration
// order, creating the parent directory if needed.
func SaveCatalog(path string, r *Registry) error {
	data, err := json.MarshalIndent(catalogFile{Tools: r.List()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tool catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write tool catalog: %w", err)
	}
	return nil
}
