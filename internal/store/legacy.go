package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"mirrordrive/internal/mount"
)

// legacyEntry is one element of the mounts.json array written by the
// desktop manager.
type legacyEntry struct {
	SourcePath        string `json:"SourcePath"`
	DestinationLetter string `json:"DestinationLetter"`
	AutoMount         bool   `json:"AutoMount"`
	IsReadOnly        bool   `json:"IsReadOnly"`
}

// ReadLegacyFile imports a mounts.json file. Each record gets a fresh id;
// the stored path becomes the source spec. Drive letters are passed through
// unvalidated for Coordinator.Load to normalize.
func ReadLegacyFile(path string) ([]mount.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read legacy file: %w", err)
	}
	var entries []legacyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse legacy file %s: %w", path, err)
	}

	records := make([]mount.Record, 0, len(entries))
	for _, entry := range entries {
		spec := strings.TrimSpace(entry.SourcePath)
		if spec == "" {
			continue
		}
		records = append(records, mount.Record{
			ID:         uuid.NewString(),
			SourceSpec: spec,
			SourcePath: mount.ExpandSource(spec),
			TargetID:   strings.TrimSpace(entry.DestinationLetter),
			ReadOnly:   entry.IsReadOnly,
			AutoAttach: entry.AutoMount,
		})
	}
	return records, nil
}
