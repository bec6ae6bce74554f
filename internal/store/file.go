// Package store persists ownership records: as standalone JSON/YAML files
// that can be handed to a third party, and in a local sqlite registry.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/markface/internal/model"
)

// isYAML reports whether path should be encoded as YAML
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// EncodeRecord serializes a record as JSON, or YAML when asYAML is set
func EncodeRecord(r *model.OwnershipRecord, asYAML bool) ([]byte, error) {
	if asYAML {
		return yaml.Marshal(r)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeRecord parses a record and checks it is usable for verification
func DecodeRecord(data []byte, asYAML bool) (*model.OwnershipRecord, error) {
	var r model.OwnershipRecord
	var err error
	if asYAML {
		err = yaml.Unmarshal(data, &r)
	} else {
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveRecord writes a record file; the format follows the extension.
// Records hold the secret trigger set, so the file is private to the owner.
func SaveRecord(path string, r *model.OwnershipRecord) error {
	data, err := EncodeRecord(r, isYAML(path))
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// LoadRecord reads a record file written by SaveRecord
func LoadRecord(path string) (*model.OwnershipRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return DecodeRecord(data, isYAML(path))
}
