package fusemirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"mirrordrive/internal/driver"
	"mirrordrive/internal/logging"
)

// fakeHost stands in for the kernel: mount marks a directory live and starts
// a server that runs until the directory is unmounted.
type fakeHost struct {
	root string

	mu        sync.Mutex
	live      map[string]chan struct{}
	mountErr  error
	serveErr  error
	neverLive bool
}

func newFakeHost(t *testing.T) *fakeHost {
	return &fakeHost{root: t.TempDir(), live: make(map[string]chan struct{})}
}

func (h *fakeHost) Path(target string) string {
	if target == "" {
		return ""
	}
	return filepath.Join(h.root, target[:1])
}

func (h *fakeHost) Visible(target string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[h.Path(target)]
	return ok && !h.neverLive
}

func (h *fakeHost) mount(dir string, _ ...fuse.MountOption) (*fuse.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mountErr != nil {
		return nil, h.mountErr
	}
	h.live[dir] = make(chan struct{})
	return &fuse.Conn{}, nil
}

func (h *fakeHost) unmount(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	stop, ok := h.live[dir]
	if !ok {
		return errors.New("not mounted")
	}
	delete(h.live, dir)
	close(stop)
	return nil
}

func (h *fakeHost) serveFor(dir string) func(*fuse.Conn, fusefs.FS) error {
	return func(*fuse.Conn, fusefs.FS) error {
		h.mu.Lock()
		stop := h.live[dir]
		serveErr := h.serveErr
		h.mu.Unlock()
		if serveErr != nil {
			return serveErr
		}
		if stop != nil {
			<-stop
		}
		return nil
	}
}

func newTestDriver(t *testing.T, host *fakeHost, target string) *Driver {
	t.Helper()
	d := New(host, logging.NewNop())
	d.mount = host.mount
	d.unmount = host.unmount
	d.serve = host.serveFor(host.Path(target))
	return d
}

func TestDriverAttachAndDetach(t *testing.T) {
	host := newFakeHost(t)
	d := newTestDriver(t, host, `Z:\`)
	source := t.TempDir()

	session, err := d.Attach(context.Background(), driver.Request{Source: source, Target: `Z:\`, ReadOnly: true})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if session.Target() != `Z:\` {
		t.Fatalf("unexpected target %q", session.Target())
	}
	if info, err := os.Stat(host.Path(`Z:\`)); err != nil || !info.IsDir() {
		t.Fatalf("expected mount directory created, got %v", err)
	}
	if got := d.Sessions(); len(got) != 1 || got[0] != `Z:\` {
		t.Fatalf("unexpected sessions %v", got)
	}

	if _, err := d.Attach(context.Background(), driver.Request{Source: source, Target: `Z:\`}); !errors.Is(err, driver.ErrTargetInUse) {
		t.Fatalf("expected ErrTargetInUse, got %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- session.WaitUntilClosed(context.Background()) }()

	if err := d.Detach(context.Background(), `Z:\`); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("WaitUntilClosed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session never reported closed")
	}
	if len(d.Sessions()) != 0 {
		t.Fatal("expected session forgotten after detach")
	}
	_ = session.Close()
	_ = session.Close()
}

func TestDriverExternalUnmountEndsSession(t *testing.T) {
	host := newFakeHost(t)
	d := newTestDriver(t, host, `Y:\`)
	session, err := d.Attach(context.Background(), driver.Request{Source: t.TempDir(), Target: `Y:\`})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := host.unmount(host.Path(`Y:\`)); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := session.WaitUntilClosed(ctx); err != nil {
		t.Fatalf("expected closure after external unmount, got %v", err)
	}
	if err := d.Detach(context.Background(), `Y:\`); !errors.Is(err, driver.ErrNotAttached) {
		t.Fatalf("expected ErrNotAttached, got %v", err)
	}
}

func TestDriverAttachFailures(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		host := newFakeHost(t)
		d := newTestDriver(t, host, `X:\`)
		if _, err := d.Attach(context.Background(), driver.Request{Source: filepath.Join(t.TempDir(), "gone"), Target: `X:\`}); err == nil {
			t.Fatal("expected error for missing source")
		}
	})

	t.Run("mount error", func(t *testing.T) {
		host := newFakeHost(t)
		host.mountErr = errors.New("fusermount: permission denied")
		d := newTestDriver(t, host, `X:\`)
		if _, err := d.Attach(context.Background(), driver.Request{Source: t.TempDir(), Target: `X:\`}); err == nil {
			t.Fatal("expected mount error")
		}
		if len(d.Sessions()) != 0 {
			t.Fatal("failed attach must release the reservation")
		}
	})

	t.Run("server exits early", func(t *testing.T) {
		host := newFakeHost(t)
		host.neverLive = true
		host.serveErr = errors.New("bad handshake")
		d := newTestDriver(t, host, `X:\`)
		_, err := d.Attach(context.Background(), driver.Request{Source: t.TempDir(), Target: `X:\`})
		if err == nil || !errors.Is(err, host.serveErr) {
			t.Fatalf("expected server error, got %v", err)
		}
		if len(d.Sessions()) != 0 {
			t.Fatal("expected no session after early exit")
		}
	})

	t.Run("no mount directory", func(t *testing.T) {
		host := newFakeHost(t)
		d := newTestDriver(t, host, "")
		if _, err := d.Attach(context.Background(), driver.Request{Source: t.TempDir()}); err == nil {
			t.Fatal("expected error for empty target")
		}
	})
}

func TestDriverDetachUnknownTarget(t *testing.T) {
	host := newFakeHost(t)
	d := newTestDriver(t, host, `W:\`)
	if err := d.Detach(context.Background(), `W:\`); !errors.Is(err, driver.ErrNotAttached) {
		t.Fatalf("expected ErrNotAttached, got %v", err)
	}

	// A directory left mounted by an earlier process is still unmounted.
	dir := host.Path(`W:\`)
	host.mu.Lock()
	host.live[dir] = make(chan struct{})
	host.mu.Unlock()
	if err := d.Detach(context.Background(), `W:\`); err != nil {
		t.Fatalf("expected stale mount unmounted, got %v", err)
	}
	if host.Visible(`W:\`) {
		t.Fatal("stale mount still live")
	}
}
