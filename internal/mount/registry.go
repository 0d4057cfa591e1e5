package mount

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Registry is the ordered set of entries. Order matters for display and
// auto-attach sequencing only.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends an entry.
func (r *Registry) Add(entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Remove deletes the entry with the given id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.entries {
		if entry.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the entry with an exact id.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.id == id {
			return entry, true
		}
	}
	return nil, false
}

// Resolve finds an entry by 1-based position, drive letter ("z", "Z:", "Z:\")
// or unique id prefix.
func (r *Registry) Resolve(ref string) (*Entry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty reference: %w", ErrNotFound)
	}
	entries := r.Entries()

	if index, err := strconv.Atoi(ref); err == nil {
		if index < 1 || index > len(entries) {
			return nil, fmt.Errorf("entry #%d: %w", index, ErrNotFound)
		}
		return entries[index-1], nil
	}

	if letter, ok := targetLetter(ref); ok {
		for _, entry := range entries {
			if t := entry.TargetID(); t != "" && strings.EqualFold(t[:1], letter) {
				return entry, nil
			}
		}
	}

	var match *Entry
	for _, entry := range entries {
		if strings.HasPrefix(entry.id, ref) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous reference %q", ref)
			}
			match = entry
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%q: %w", ref, ErrNotFound)
	}
	return match, nil
}

// targetLetter recognises drive-letter style references.
func targetLetter(ref string) (string, bool) {
	trimmed := strings.TrimSuffix(strings.TrimRight(ref, `\/`), ":")
	if len(trimmed) != 1 {
		return "", false
	}
	if c := trimmed[0] | 0x20; c < 'a' || c > 'z' {
		return "", false
	}
	return strings.ToUpper(trimmed), true
}

// Entries returns the entries in order. The slice is a copy; the entries are shared.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Snapshot returns a view of every entry in order.
func (r *Registry) Snapshot() []View {
	entries := r.Entries()
	views := make([]View, 0, len(entries))
	for _, entry := range entries {
		views = append(views, entry.View())
	}
	return views
}

// Records returns the persisted form of every entry in order.
func (r *Registry) Records() []Record {
	entries := r.Entries()
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entry.Record())
	}
	return records
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Counts returns the number of entries per status.
func (r *Registry) Counts() map[Status]int {
	counts := make(map[Status]int, len(allStatuses))
	for _, status := range allStatuses {
		counts[status] = 0
	}
	for _, entry := range r.Entries() {
		counts[entry.Status()]++
	}
	return counts
}
