package ipc_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mirrordrive/internal/daemon"
	"mirrordrive/internal/ipc"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
	"mirrordrive/internal/testsupport"
)

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutQuery(), testsupport.WithAPIBind(""), testsupport.WithDetachOnExit(true))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	logger := logging.NewNop()
	driver := testsupport.NewFakeDriver()
	d, err := daemon.New(cfg, testsupport.MustOpenStore(t, cfg), logger,
		daemon.WithDriver(driver),
		daemon.WithVolumes(testsupport.NewFakeVolumes()),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	source := testsupport.SourceDir(t, cfg, "docs")
	if _, err := client.Add(ipc.AddRequest{SourceSpec: source}); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	added, err := client.Add(ipc.AddRequest{SourceSpec: source, TargetID: "z", ReadOnly: true})
	if err != nil {
		t.Fatalf("Add RPC failed: %v", err)
	}
	if added.Entry.TargetID != `Z:\` || added.Entry.Index != 1 {
		t.Fatalf("unexpected added entry %+v", added.Entry)
	}

	attach, err := client.Attach("Z:", true)
	if err != nil {
		t.Fatalf("Attach RPC failed: %v", err)
	}
	if attach.Result.Backgrounded || attach.Result.Entry.Status != "Mounted" || !attach.Result.Entry.ReadOnly {
		t.Fatalf("unexpected attach result %+v", attach.Result)
	}
	if !driver.Active(`Z:\`) {
		t.Fatal("expected an active session for Z")
	}

	if _, err := client.Attach("1", false); !errors.Is(err, mount.ErrNotAttachable) {
		t.Fatalf("expected ErrNotAttachable, got %v", err)
	}
	if _, err := client.Get("7"); !errors.Is(err, mount.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.EntryCounts["Mounted"] != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	list, err := client.List()
	if err != nil {
		t.Fatalf("List RPC failed: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Status != "Mounted" {
		t.Fatalf("unexpected list %+v", list.Entries)
	}

	if _, err := client.Detach("1", true); err != nil {
		t.Fatalf("Detach RPC failed: %v", err)
	}
	autoAttach := true
	updated, err := client.Update(ipc.UpdateRequest{Ref: "1", AutoAttach: &autoAttach})
	if err != nil {
		t.Fatalf("Update RPC failed: %v", err)
	}
	if !updated.Entry.AutoAttach || !updated.Entry.ReadOnly {
		t.Fatalf("unexpected updated entry %+v", updated.Entry)
	}

	removed, err := client.Remove("1")
	if err != nil {
		t.Fatalf("Remove RPC failed: %v", err)
	}
	if removed.Entry.ID != added.Entry.ID {
		t.Fatalf("removed wrong entry %+v", removed.Entry)
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification RPC failed: %v", err)
	}
	if notify.Sent || !strings.Contains(notify.Message, "ntfy_topic") {
		t.Fatalf("expected disabled notification response, got %+v", notify)
	}

	if _, err := client.Stop(); err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	select {
	case <-d.ShutdownRequested():
	case <-time.After(3 * time.Second):
		t.Fatal("expected shutdown request after stop")
	}
	if d.Running() {
		t.Fatal("expected daemon stopped")
	}
}

func TestRemoteErrorWithoutSentinel(t *testing.T) {
	err := &ipc.RemoteError{Message: "boom"}
	if errors.Is(err, mount.ErrNotFound) {
		t.Fatal("unexpected sentinel match")
	}
	if err.Error() != "boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
