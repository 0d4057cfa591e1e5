package mount

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"mirrordrive/internal/driver"
)

// Entry is one configured source to drive mapping. Fields are private; status,
// session and error are changed only by the Coordinator, the target and the
// available list by the Allocator.
type Entry struct {
	mu sync.RWMutex

	id         string
	sourcePath string
	sourceSpec string
	targetID   string
	readOnly   bool
	autoAttach bool

	status       Status
	errorMessage string
	session      driver.Session
	available    []string

	// op is held for the foreground part of attach, detach, update and remove.
	op *semaphore.Weighted
	// seq is bumped on every claim; continuations and monitor callbacks
	// compare it against the token they were issued.
	seq uint64
	// inflight is set while a driver call runs, including after the
	// foreground call has returned a backgrounded result.
	inflight bool
	removed  bool
}

// View is an immutable snapshot of an entry.
type View struct {
	ID           string   `json:"id"`
	SourcePath   string   `json:"source_path"`
	SourceSpec   string   `json:"source_spec"`
	TargetID     string   `json:"target_id"`
	ReadOnly     bool     `json:"read_only"`
	AutoAttach   bool     `json:"auto_attach"`
	Status       Status   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Available    []string `json:"available,omitempty"`
	Busy         bool     `json:"busy,omitempty"`
}

// Record is the persisted shape of an entry. Status is never persisted.
type Record struct {
	ID         string
	SourceSpec string
	SourcePath string
	TargetID   string
	ReadOnly   bool
	AutoAttach bool
}

func newEntry(id, sourceSpec, sourcePath, targetID string, readOnly, autoAttach bool) *Entry {
	return &Entry{
		id:         id,
		sourceSpec: sourceSpec,
		sourcePath: sourcePath,
		targetID:   targetID,
		readOnly:   readOnly,
		autoAttach: autoAttach,
		status:     StatusUnmounted,
		op:         semaphore.NewWeighted(1),
	}
}

// RestoreEntry builds an Unmounted entry from a persisted record. The record
// is taken as is; Coordinator.Load is the validating path.
func RestoreEntry(rec Record) *Entry {
	return newEntry(rec.ID, rec.SourceSpec, rec.SourcePath, rec.TargetID, rec.ReadOnly, rec.AutoAttach)
}

// ID returns the stable entry identifier.
func (e *Entry) ID() string {
	return e.id
}

// View returns a consistent snapshot of the entry.
func (e *Entry) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var available []string
	if len(e.available) > 0 {
		available = append([]string(nil), e.available...)
	}
	return View{
		ID:           e.id,
		SourcePath:   e.sourcePath,
		SourceSpec:   e.sourceSpec,
		TargetID:     e.targetID,
		ReadOnly:     e.readOnly,
		AutoAttach:   e.autoAttach,
		Status:       e.status,
		ErrorMessage: e.errorMessage,
		Available:    available,
		Busy:         e.inflight,
	}
}

// Record returns the persisted form of the entry.
func (e *Entry) Record() Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Record{
		ID:         e.id,
		SourceSpec: e.sourceSpec,
		SourcePath: e.sourcePath,
		TargetID:   e.targetID,
		ReadOnly:   e.readOnly,
		AutoAttach: e.autoAttach,
	}
}

// TargetID returns the assigned drive identifier, or "" when unassigned.
func (e *Entry) TargetID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.targetID
}

// Status returns the current lifecycle status.
func (e *Entry) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// HasSession reports whether the coordinator holds a live session handle.
func (e *Entry) HasSession() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session != nil
}

// SetAvailable replaces the informational list of selectable identifiers.
func (e *Entry) SetAvailable(targets []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = append(e.available[:0:0], targets...)
}

// AssignTarget changes the drive identifier when the entry is idle
// (Unmounted or Error with no driver call running). It reports whether the
// target changed.
func (e *Entry) AssignTarget(target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.status.Editable() || e.inflight || e.targetID == target {
		return false
	}
	e.targetID = target
	return true
}
