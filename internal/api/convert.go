package api

import (
	"time"

	"mirrordrive/internal/mount"
)

// FromView converts a registry snapshot entry to its API representation.
// index is the 1-based position the CLI uses to address entries.
func FromView(index int, view mount.View) MountEntry {
	// Always a fresh non-nil slice so "available" encodes as [] rather than null.
	available := append(make([]string, 0, len(view.Available)), view.Available...)
	return MountEntry{
		Index:        index,
		ID:           view.ID,
		SourcePath:   view.SourcePath,
		SourceSpec:   view.SourceSpec,
		TargetID:     view.TargetID,
		ReadOnly:     view.ReadOnly,
		AutoAttach:   view.AutoAttach,
		Status:       view.Status.String(),
		ErrorMessage: view.ErrorMessage,
		Available:    available,
		Busy:         view.Busy,
	}
}

// FromViews converts a full snapshot, numbering entries from 1.
func FromViews(views []mount.View) []MountEntry {
	out := make([]MountEntry, 0, len(views))
	for i, view := range views {
		out = append(out, FromView(i+1, view))
	}
	return out
}

// IndexOf returns the 1-based position of id in views, or 0.
func IndexOf(views []mount.View, id string) int {
	for i, view := range views {
		if view.ID == id {
			return i + 1
		}
	}
	return 0
}

// FromResult combines an operation result with the entry's state after it.
func FromResult(entry MountEntry, result mount.Result) OperationResult {
	return OperationResult{
		Entry:         entry,
		Backgrounded:  result.Backgrounded,
		ElapsedMillis: result.Elapsed.Milliseconds(),
	}
}

// FromCounts converts status counts to string keys, keeping zero counts so
// consumers see every status.
func FromCounts(counts map[mount.Status]int) map[string]int {
	out := make(map[string]int, len(counts))
	for _, status := range mount.AllStatuses() {
		out[status.String()] = counts[status]
	}
	return out
}

// FormatTime renders a timestamp in the API format, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
