package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mirrordrive/internal/config"
	"mirrordrive/internal/daemon"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
	"mirrordrive/internal/query"
	"mirrordrive/internal/testsupport"
)

const waitFor = 3 * time.Second

type fixture struct {
	cfg     *config.Config
	driver  *testsupport.FakeDriver
	volumes *testsupport.FakeVolumes
	daemon  *daemon.Daemon
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	f := &fixture{
		cfg:     cfg,
		driver:  testsupport.NewFakeDriver(),
		volumes: testsupport.NewFakeVolumes(),
	}
	f.daemon = f.newDaemon(t)
	return f
}

func (f *fixture) newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, f.cfg)
	d, err := daemon.New(f.cfg, st, logging.NewNop(), daemon.WithDriver(f.driver), daemon.WithVolumes(f.volumes))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery())
	f.start(t)

	status := f.daemon.Status()
	if !status.Running || status.StartedAt == "" {
		t.Fatalf("expected running status, got %+v", status)
	}
	if status.LockFilePath != f.cfg.LockPath() || status.DatabasePath != f.cfg.DatabasePath() {
		t.Fatalf("unexpected paths in status %+v", status)
	}
	if status.APIAddress == "" || status.APIAddress == "127.0.0.1:0" {
		t.Fatalf("expected bound api address, got %q", status.APIAddress)
	}

	if err := f.daemon.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Running() || f.daemon.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery(), testsupport.WithAPIBind(""))
	f.start(t)

	other := f.newDaemon(t)
	if err := other.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	}
	f.daemon.Stop()
	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("expected start after lock release, got %v", err)
	}
}

func TestDaemonOperationsRequireRunning(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery())
	source := testsupport.SourceDir(t, f.cfg, "docs")
	if _, err := f.daemon.Add(context.Background(), mount.NewEntry{SourceSpec: source}); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, err := f.daemon.Attach(context.Background(), "1", true); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if got := f.daemon.List(); len(got) != 0 {
		t.Fatalf("expected empty list before start, got %v", got)
	}
}

func TestDaemonMountLifecycle(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery(), testsupport.WithDetachOnExit(false))
	f.start(t)
	ctx := context.Background()
	source := testsupport.SourceDir(t, f.cfg, "docs")

	added, err := f.daemon.Add(ctx, mount.NewEntry{SourceSpec: source, TargetID: "z", ReadOnly: true})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.Index != 1 || added.TargetID != `Z:\` || added.Status != "Unmounted" {
		t.Fatalf("unexpected added entry %+v", added)
	}

	result, err := f.daemon.Attach(ctx, "z", true)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if result.Backgrounded || result.Entry.Status != "Mounted" || !result.Entry.ReadOnly {
		t.Fatalf("unexpected attach result %+v", result)
	}
	if !f.driver.Active(`Z:\`) {
		t.Fatal("expected driver session for Z")
	}
	status := f.daemon.Status()
	if status.EntryCounts["Mounted"] != 1 || status.ActiveMonitors != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.LastMessage == "" {
		t.Fatal("expected a status message after mounting")
	}

	if _, err := f.daemon.Remove(ctx, "1"); !errors.Is(err, mount.ErrBusy) {
		t.Fatalf("expected ErrBusy removing a mounted entry, got %v", err)
	}
	if _, err := f.daemon.Attach(ctx, "1", false); !errors.Is(err, mount.ErrNotAttachable) {
		t.Fatalf("expected ErrNotAttachable, got %v", err)
	}

	result, err = f.daemon.Detach(ctx, added.ID, true)
	if err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if result.Entry.Status != "Unmounted" {
		t.Fatalf("expected Unmounted, got %+v", result.Entry)
	}

	readOnly := false
	updated, err := f.daemon.Update(ctx, "1", mount.EntryUpdate{ReadOnly: &readOnly})
	if err != nil || updated.ReadOnly {
		t.Fatalf("Update: %v (%+v)", err, updated)
	}

	removed, err := f.daemon.Remove(ctx, "1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.ID != added.ID {
		t.Fatalf("removed wrong entry %+v", removed)
	}
	if _, err := f.daemon.Get("1"); !errors.Is(err, mount.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDaemonLoadsAndAutoAttaches(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery())
	source := testsupport.SourceDir(t, f.cfg, "media")
	st := testsupport.MustOpenStore(t, f.cfg)
	err := st.SaveEntries(context.Background(), []mount.Record{
		{ID: "auto", SourceSpec: source, SourcePath: source, TargetID: `M:\`, AutoAttach: true},
		{ID: "manual", SourceSpec: source, SourcePath: source, TargetID: `N:\`},
	})
	if err != nil {
		t.Fatalf("SaveEntries: %v", err)
	}

	f.start(t)
	testsupport.Eventually(t, waitFor, func() bool { return f.driver.Active(`M:\`) }, "auto-attach entry never mounted")

	entries := f.daemon.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 loaded entries, got %d", len(entries))
	}
	if entries[1].Status != "Unmounted" || f.driver.Active(`N:\`) {
		t.Fatalf("manual entry must stay unmounted, got %+v", entries[1])
	}
}

func TestDaemonDetachOnExit(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery(), testsupport.WithDetachOnExit(true))
	f.start(t)
	source := testsupport.SourceDir(t, f.cfg, "docs")
	if _, err := f.daemon.Add(context.Background(), mount.NewEntry{SourceSpec: source, TargetID: `Y:\`}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := f.daemon.Attach(context.Background(), "y", true); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	f.daemon.Stop()
	if f.driver.Active(`Y:\`) {
		t.Fatal("expected drive detached on exit")
	}
	if f.driver.DetachCalls() != 1 {
		t.Fatalf("expected one detach call, got %d", f.driver.DetachCalls())
	}
}

func TestDaemonImportLegacyFile(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery())
	f.start(t)
	source := testsupport.SourceDir(t, f.cfg, "legacy")
	legacy := filepath.Join(testsupport.BaseDir(f.cfg), "mounts.json")
	payload := `[{"SourcePath":"` + source + `","DestinationLetter":"K","AutoMount":true,"IsReadOnly":true},{"SourcePath":""}]`
	if err := os.WriteFile(legacy, []byte(payload), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	added, err := f.daemon.Import(context.Background(), legacy)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 imported entry, got %d", added)
	}
	entries := f.daemon.List()
	if len(entries) != 1 || entries[0].TargetID != `K:\` || !entries[0].ReadOnly || !entries[0].AutoAttach {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if _, err := f.daemon.Import(context.Background(), filepath.Join(testsupport.BaseDir(f.cfg), "missing.json")); err == nil {
		t.Fatal("expected error for missing legacy file")
	}
}

func TestDaemonAnswersSnapshotQueries(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	source := testsupport.SourceDir(t, f.cfg, "docs")
	if _, err := f.daemon.Add(context.Background(), mount.NewEntry{SourceSpec: source, TargetID: `Z:\`, ReadOnly: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := f.daemon.Attach(context.Background(), "z", true); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if f.daemon.Status().QuerySocket == "" {
		t.Fatal("expected query socket in status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	resp, err := query.Request(ctx, query.RequestOptions{
		RunDir:         f.cfg.Paths.RunDir,
		Title:          f.cfg.Query.Title,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("query.Request: %v", err)
	}
	if !resp.Success || len(resp.MountPoints) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	point := resp.MountPoints[0]
	if point.DstPath != `Z:\` || point.Status != "Mounted" || !point.IsReadOnly || point.SrcPath != source {
		t.Fatalf("unexpected mount point %+v", point)
	}
}

func TestDaemonShutdownRequest(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery(), testsupport.WithAPIBind(""))
	select {
	case <-f.daemon.ShutdownRequested():
		t.Fatal("shutdown requested too early")
	default:
	}
	f.daemon.RequestShutdown()
	f.daemon.RequestShutdown()
	select {
	case <-f.daemon.ShutdownRequested():
	case <-time.After(waitFor):
		t.Fatal("shutdown channel never closed")
	}
}
