package mount

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"mirrordrive/internal/logging"
)

// NewEntry describes an entry to add.
type NewEntry struct {
	SourceSpec string `json:"source_spec"`
	TargetID   string `json:"target_id,omitempty"`
	ReadOnly   bool   `json:"read_only"`
	AutoAttach bool   `json:"auto_attach"`
}

// EntryUpdate carries user edits. Nil fields are left unchanged.
type EntryUpdate struct {
	TargetID   *string `json:"target_id,omitempty"`
	ReadOnly   *bool   `json:"read_only,omitempty"`
	AutoAttach *bool   `json:"auto_attach,omitempty"`
}

const persistTimeout = 5 * time.Second

// Load adds entries for persisted records. A record whose target repeats an
// earlier record's target loses it, and the allocator fills it in.
func (c *Coordinator) Load(ctx context.Context, records []Record) error {
	c.claimMu.Lock()
	seen := make(map[string]struct{})
	for _, existing := range c.registry.Entries() {
		if target := existing.TargetID(); target != "" {
			seen[target] = struct{}{}
		}
	}
	for _, rec := range records {
		spec := strings.TrimSpace(rec.SourceSpec)
		if spec == "" {
			spec = strings.TrimSpace(rec.SourcePath)
		}
		if spec == "" {
			c.logger.Warn("skipping persisted entry without source",
				logging.String(logging.FieldEntryID, rec.ID),
				logging.String(logging.FieldEventType, "load_skipped"),
				logging.String(logging.FieldErrorHint, "re-add the mapping"),
			)
			continue
		}
		path := rec.SourcePath
		if path == "" {
			path = ExpandSource(spec)
		}
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}

		target := ""
		if raw := strings.TrimSpace(rec.TargetID); raw != "" {
			normalized, err := c.allocator.Normalize(raw)
			if err != nil {
				c.logger.Warn("dropping invalid persisted drive letter",
					logging.String(logging.FieldEntryID, id),
					logging.String(logging.FieldTarget, raw),
					logging.Error(err),
				)
			} else if _, dup := seen[normalized]; dup {
				c.logger.Info("clearing duplicate drive letter",
					logging.String(logging.FieldEntryID, id),
					logging.String(logging.FieldTarget, normalized),
				)
			} else {
				target = normalized
				seen[target] = struct{}{}
			}
		}
		c.registry.Add(newEntry(id, spec, path, target, rec.ReadOnly, rec.AutoAttach))
	}
	c.claimMu.Unlock()

	_, err := c.Recompute(ctx)
	return err
}

// Import loads records into a running registry and persists the result. It
// returns the number of entries added.
func (c *Coordinator) Import(ctx context.Context, records []Record) (int, error) {
	before := c.registry.Len()
	if err := c.Load(ctx, records); err != nil {
		return c.registry.Len() - before, err
	}
	added := c.registry.Len() - before
	for _, entry := range c.registry.Entries()[before:] {
		c.notify(entry)
	}
	c.observer.Status(fmt.Sprintf("Imported %d mapping(s)", added))
	return added, c.persist(ctx)
}

// Add creates an entry. The source must be an existing directory; an explicit
// target must not be held by another entry. An empty target is filled in by
// the allocator.
func (c *Coordinator) Add(ctx context.Context, spec NewEntry) (*Entry, error) {
	sourceSpec := strings.TrimSpace(spec.SourceSpec)
	if sourceSpec == "" {
		return nil, fmt.Errorf("source path is required: %w", ErrSourceMissing)
	}
	sourcePath := ExpandSource(sourceSpec)
	if info, err := os.Stat(sourcePath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, sourcePath)
	}

	target := ""
	if raw := strings.TrimSpace(spec.TargetID); raw != "" {
		normalized, err := c.allocator.Normalize(raw)
		if err != nil {
			return nil, err
		}
		target = normalized
	}

	c.claimMu.Lock()
	if target != "" {
		for _, other := range c.registry.Entries() {
			if other.TargetID() == target {
				c.claimMu.Unlock()
				return nil, fmt.Errorf("drive %s is assigned to another entry: %w", target, ErrTargetInUse)
			}
		}
	}
	entry := newEntry(uuid.NewString(), sourceSpec, sourcePath, target, spec.ReadOnly, spec.AutoAttach)
	c.registry.Add(entry)
	c.claimMu.Unlock()

	c.recompute()
	c.entryLogger(entry.id, entry.TargetID()).Info("entry added", logging.String(logging.FieldSource, sourcePath))
	c.notify(entry)
	if err := c.persist(ctx); err != nil {
		return entry, err
	}
	return entry, nil
}

// Remove deletes an idle entry.
func (c *Coordinator) Remove(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return ErrNotFound
	}
	if !entry.op.TryAcquire(1) {
		return ErrInProgress
	}
	defer entry.op.Release(1)

	entry.mu.Lock()
	if entry.inflight || !entry.status.Editable() {
		status := entry.status
		entry.mu.Unlock()
		return fmt.Errorf("%w (status %s)", ErrBusy, status)
	}
	entry.removed = true
	entry.seq++
	target := entry.targetID
	entry.mu.Unlock()

	c.watcher.Cancel(entry.id)
	c.registry.Remove(entry.id)
	c.recompute()
	c.entryLogger(entry.id, target).Info("entry removed")
	c.observer.Status(fmt.Sprintf("Removed mapping for %s", entry.sourcePath))
	return c.persist(ctx)
}

// Update applies user edits to an idle entry. A new target must be in the
// entry's currently available set.
func (c *Coordinator) Update(ctx context.Context, entry *Entry, upd EntryUpdate) error {
	if entry == nil {
		return ErrNotFound
	}
	if !entry.op.TryAcquire(1) {
		return ErrInProgress
	}
	defer entry.op.Release(1)

	c.claimMu.Lock()
	view := entry.View()
	if view.Busy || !view.Status.Editable() {
		c.claimMu.Unlock()
		return fmt.Errorf("%w (status %s)", ErrBusy, view.Status)
	}

	target := view.TargetID
	if upd.TargetID != nil {
		normalized, err := c.allocator.Normalize(*upd.TargetID)
		if err != nil {
			c.claimMu.Unlock()
			return err
		}
		if normalized != view.TargetID {
			available := c.allocator.Available(c.registry.Entries(), entry)
			if !slices.Contains(available, normalized) {
				c.claimMu.Unlock()
				return fmt.Errorf("drive %s is not available: %w", normalized, ErrInvalidTarget)
			}
		}
		target = normalized
	}

	entry.mu.Lock()
	entry.targetID = target
	if upd.ReadOnly != nil {
		entry.readOnly = *upd.ReadOnly
	}
	if upd.AutoAttach != nil {
		entry.autoAttach = *upd.AutoAttach
	}
	entry.mu.Unlock()
	c.claimMu.Unlock()

	c.recompute()
	c.entryLogger(entry.id, target).Info("entry updated")
	c.notify(entry)
	return c.persist(ctx)
}

// Recompute refreshes available targets and reassigns unavailable ones,
// persisting when any target changed.
func (c *Coordinator) Recompute(ctx context.Context) (bool, error) {
	changed := c.recompute()
	if !changed {
		return false, nil
	}
	return true, c.persist(ctx)
}

// AutoAttachAll attaches every auto-attach entry one at a time, always
// backgrounding slow attaches. After each attempt it waits for the entry to
// leave Mounting (bounded) and pauses before the next one.
func (c *Coordinator) AutoAttachAll(ctx context.Context) error {
	for _, entry := range c.registry.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		view := entry.View()
		if !view.AutoAttach || !view.Status.Attachable() || view.Busy || view.TargetID == "" {
			continue
		}
		if _, err := c.Attach(ctx, entry, AlwaysBackground); err != nil {
			logging.WarnWithContext(c.entryLogger(entry.id, view.TargetID), "auto-attach failed", "auto_attach_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the entry's error message"),
				logging.String(logging.FieldImpact, "drive left unmounted"),
			)
			c.observer.Status(fmt.Sprintf("AutoMount failed: %v", err))
		}
		c.waitSettled(ctx, entry)
		if err := sleepContext(ctx, c.timeouts.Gap); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) waitSettled(ctx context.Context, entry *Entry) {
	deadline := time.Now().Add(c.timeouts.Settle)
	for entry.Status() == StatusMounting && time.Now().Before(deadline) {
		if err := sleepContext(ctx, c.timeouts.SettlePoll); err != nil {
			return
		}
	}
}

// DetachAll detaches every mounted entry and stops all monitors. Slow
// detaches continue in the background; use Wait to block on them.
func (c *Coordinator) DetachAll(ctx context.Context) {
	for _, entry := range c.registry.Entries() {
		if entry.Status() != StatusMounted {
			continue
		}
		if _, err := c.Detach(ctx, entry, AlwaysBackground); err != nil {
			logging.WarnWithContext(c.entryLogger(entry.id, entry.TargetID()), "detach on exit failed", "detach_all_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "unmount the drive manually"),
			)
		}
	}
	c.watcher.CancelAll()
}

// refresh recomputes targets and persists unconditionally after a transition.
func (c *Coordinator) refresh(ctx context.Context) {
	c.recompute()
	_ = c.persist(ctx)
}

// recompute runs the allocator under claimMu so a reassignment can never
// interleave with an attach claim.
func (c *Coordinator) recompute() bool {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()
	return c.allocator.RecomputeAll(c.registry)
}

func (c *Coordinator) persist(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.persister.SaveEntries(ctx, c.registry.Records()); err != nil {
		logging.WarnWithContext(c.logger, "failed to save mount entries", "persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory is writable"),
			logging.String(logging.FieldImpact, "changes will be lost on restart"),
		)
		return fmt.Errorf("save entries: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
