package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DropFile is the interchange format field devices write into the drop
// directory: one JSON file per export, containing the entities captured
// while the device was offline. The daemon watches the drop directory and
// ingests these files into the local store.
type DropFile struct {
	// ===== Provenance =====
	Device         string    `json:"device,omitempty"`
	ExportedAt     time.Time `json:"exported_at"`
	OrganizationID int64     `json:"organization_id"`

	// ===== Payload =====
	Farms             []Farm             `json:"farms,omitempty"`
	Batches           []Batch            `json:"batches,omitempty"`
	ProductionRecords []ProductionRecord `json:"production_records,omitempty"`
}

// Validate checks the envelope fields. Entity payloads are validated
// individually during ingest so one bad row does not reject the whole file.
func (d *DropFile) Validate() error {
	if d.ExportedAt.IsZero() {
		return fmt.Errorf("exported_at is required")
	}
	if d.OrganizationID <= 0 {
		return fmt.Errorf("organization_id is required (got %d)", d.OrganizationID)
	}
	if len(d.Farms) == 0 && len(d.Batches) == 0 && len(d.ProductionRecords) == 0 {
		return fmt.Errorf("drop file has no entities")
	}
	return nil
}

// EntityCount returns the total number of entities carried by the file.
func (d *DropFile) EntityCount() int {
	return len(d.Farms) + len(d.Batches) + len(d.ProductionRecords)
}

// ReadDropFile reads and parses a drop file from the given path.
func ReadDropFile(path string) (*DropFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drop file %s: %w", path, err)
	}

	var drop DropFile
	if err := json.Unmarshal(data, &drop); err != nil {
		return nil, fmt.Errorf("failed to parse drop file %s: %w", path, err)
	}

	if err := drop.Validate(); err != nil {
		return nil, fmt.Errorf("invalid drop file %s: %w", path, err)
	}

	return &drop, nil
}

// WriteDropFile writes a drop file to dir with pretty-printed formatting.
// The write is atomic (temp file plus rename) so a watcher never observes
// a partially written file.
func WriteDropFile(dir string, drop *DropFile) (string, error) {
	if err := drop.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid drop file: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create drop directory: %w", err)
	}

	data, err := json.MarshalIndent(drop, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal drop file: %w", err)
	}

	name := fmt.Sprintf("drop-%s.json", drop.ExportedAt.UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(dir, name)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	return path, nil
}

// ListDropFiles returns the paths of all drop files in dir, oldest first.
// A missing directory is treated as empty.
func ListDropFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read drop directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	return paths, nil
}
