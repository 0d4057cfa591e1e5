package daemon

import (
	"context"
	"errors"
	"strings"

	"mirrordrive/internal/api"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
	"mirrordrive/internal/store"
)

// List returns every entry in registry order.
func (d *Daemon) List() []api.MountEntry {
	return api.FromViews(d.coord.Registry().Snapshot())
}

// Get resolves ref (1-based index, drive letter or id prefix) to an entry.
func (d *Daemon) Get(ref string) (api.MountEntry, error) {
	entry, err := d.coord.Registry().Resolve(ref)
	if err != nil {
		return api.MountEntry{}, err
	}
	return d.describe(entry), nil
}

// Add creates a mapping.
func (d *Daemon) Add(ctx context.Context, spec mount.NewEntry) (api.MountEntry, error) {
	if err := d.requireRunning(); err != nil {
		return api.MountEntry{}, err
	}
	entry, err := d.coord.Add(ctx, spec)
	if entry == nil {
		return api.MountEntry{}, err
	}
	return d.describe(entry), err
}

// Remove deletes an idle mapping and returns it as it was.
func (d *Daemon) Remove(ctx context.Context, ref string) (api.MountEntry, error) {
	if err := d.requireRunning(); err != nil {
		return api.MountEntry{}, err
	}
	entry, err := d.coord.Registry().Resolve(ref)
	if err != nil {
		return api.MountEntry{}, err
	}
	removed := d.describe(entry)
	if err := d.coord.Remove(ctx, entry); err != nil {
		return removed, err
	}
	return removed, nil
}

// Update edits an idle mapping.
func (d *Daemon) Update(ctx context.Context, ref string, upd mount.EntryUpdate) (api.MountEntry, error) {
	if err := d.requireRunning(); err != nil {
		return api.MountEntry{}, err
	}
	entry, err := d.coord.Registry().Resolve(ref)
	if err != nil {
		return api.MountEntry{}, err
	}
	err = d.coord.Update(ctx, entry, upd)
	return d.describe(entry), err
}

// Attach mounts an entry. With wait the caller blocks through the extended
// timeout; otherwise a slow attach continues in the background.
func (d *Daemon) Attach(ctx context.Context, ref string, wait bool) (api.OperationResult, error) {
	return d.operate(ctx, ref, wait, d.coord.Attach)
}

// Detach unmounts an entry with the same waiting rules as Attach.
func (d *Daemon) Detach(ctx context.Context, ref string, wait bool) (api.OperationResult, error) {
	return d.operate(ctx, ref, wait, d.coord.Detach)
}

type operation func(ctx context.Context, entry *mount.Entry, policy mount.ContinuationPolicy) (mount.Result, error)

func (d *Daemon) operate(ctx context.Context, ref string, wait bool, op operation) (api.OperationResult, error) {
	if err := d.requireRunning(); err != nil {
		return api.OperationResult{}, err
	}
	entry, err := d.coord.Registry().Resolve(ref)
	if err != nil {
		return api.OperationResult{}, err
	}
	policy := mount.AlwaysBackground
	if wait {
		policy = mount.AlwaysWait
	}
	result, err := op(ctx, entry, policy)
	return api.FromResult(d.describe(entry), result), err
}

// Import adds the entries of a legacy mounts.json file.
func (d *Daemon) Import(ctx context.Context, path string) (int, error) {
	if err := d.requireRunning(); err != nil {
		return 0, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("import requires a file path")
	}
	records, err := store.ReadLegacyFile(path)
	if err != nil {
		return 0, err
	}
	added, err := d.coord.Import(ctx, records)
	d.logger.Info("legacy mappings imported",
		logging.String("path", path),
		logging.Int("added", added),
	)
	return added, err
}

func (d *Daemon) describe(entry *mount.Entry) api.MountEntry {
	index := api.IndexOf(d.coord.Registry().Snapshot(), entry.ID())
	return api.FromView(index, entry.View())
}
