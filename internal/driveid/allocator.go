package driveid

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
)

// Volumes lists identifiers the host currently presents as live drives.
type Volumes interface {
	Live() (map[string]struct{}, error)
}

// Allocator computes available identifiers and auto-assigns them.
type Allocator struct {
	volumes Volumes
	logger  *slog.Logger

	mu    sync.Mutex
	dirty atomic.Bool
}

// New returns an allocator reading host volumes from volumes. A nil volumes
// treats nothing as OS-visible.
func New(volumes Volumes, logger *slog.Logger) *Allocator {
	return &Allocator{
		volumes: volumes,
		logger:  logging.NewComponentLogger(logger, "driveid"),
	}
}

// Normalize implements mount.Allocator.
func (a *Allocator) Normalize(target string) (string, error) {
	return Normalize(target)
}

// Available returns the identifiers entry may use. With a nil excluding it
// returns the global view used for new entries: identifiers neither live on
// the host nor held by a Mounted entry.
func (a *Allocator) Available(entries []*mount.Entry, excluding *mount.Entry) []string {
	excludingID := ""
	if excluding != nil {
		excludingID = excluding.ID()
	}
	return available(a.live(), snapshot(entries), excludingID)
}

// RecomputeAll refreshes every entry's available list and moves idle entries
// off identifiers that became unavailable. It repeats until a pass changes
// nothing, bounded by the alphabet size. A call that arrives while another is
// running, including a nested one, marks the running pass dirty and returns
// false; the running call then performs another pass.
func (a *Allocator) RecomputeAll(registry *mount.Registry) bool {
	if registry == nil {
		return false
	}
	if !a.mu.TryLock() {
		a.dirty.Store(true)
		return false
	}
	defer a.mu.Unlock()

	changed := false
	for pass := 0; pass < len(Letters()); pass++ {
		a.dirty.Store(false)
		passChanged := a.recomputePass(registry.Entries())
		changed = changed || passChanged
		if !passChanged && !a.dirty.Load() {
			break
		}
	}
	return changed
}

func (a *Allocator) recomputePass(entries []*mount.Entry) bool {
	live := a.live()

	views := snapshot(entries)
	for _, entry := range entries {
		entry.SetAvailable(available(live, views, entry.ID()))
	}

	changed := false
	for _, entry := range entries {
		if !entry.Status().Editable() {
			continue
		}
		current := entry.TargetID()
		selected, ok := AutoSelect(current, available(live, snapshot(entries), entry.ID()))
		if !ok || selected == current {
			continue
		}
		if entry.AssignTarget(selected) {
			changed = true
			a.logger.Info("drive letter reassigned",
				logging.String(logging.FieldEntryID, entry.ID()),
				logging.String("previous", current),
				logging.String(logging.FieldTarget, selected),
			)
		}
	}
	return changed
}

func (a *Allocator) live() map[string]struct{} {
	if a.volumes == nil {
		return nil
	}
	live, err := a.volumes.Live()
	if err != nil {
		logging.WarnWithContext(a.logger, "failed to list host volumes", "volume_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the mount table is readable"),
			logging.String(logging.FieldImpact, "drive letters in use by the host may be offered"),
		)
		return nil
	}
	return live
}

func snapshot(entries []*mount.Entry) []mount.View {
	views := make([]mount.View, 0, len(entries))
	for _, entry := range entries {
		views = append(views, entry.View())
	}
	return views
}

func available(live map[string]struct{}, views []mount.View, excludingID string) []string {
	held := make(map[string]struct{})
	var own *mount.View
	for i := range views {
		v := &views[i]
		if excludingID != "" && v.ID == excludingID {
			own = v
			continue
		}
		if v.TargetID == "" {
			continue
		}
		if excludingID == "" && v.Status != mount.StatusMounted {
			continue
		}
		held[v.TargetID] = struct{}{}
	}

	out := make([]string, 0, 26)
	for _, letter := range Letters() {
		_, isLive := live[letter]
		_, isHeld := held[letter]
		if !isLive && !isHeld {
			out = append(out, letter)
			continue
		}
		if own != nil && own.TargetID == letter && (own.Status == mount.StatusMounted || !isLive) {
			out = append(out, letter)
		}
	}
	return out
}
