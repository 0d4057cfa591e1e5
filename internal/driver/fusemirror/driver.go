// Package fusemirror is the Linux attachment driver. It presents a source
// directory at the host directory of a drive identifier through a FUSE
// passthrough filesystem.
package fusemirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"mirrordrive/internal/driver"
	"mirrordrive/internal/logging"
)

const (
	fsName            = "mirrordrive"
	readyPollInterval = 100 * time.Millisecond
	readyTimeout      = 3 * time.Second
)

// Volumes maps identifiers to host directories and reports which are live.
// hostvol.Table satisfies it.
type Volumes interface {
	Path(target string) string
	Visible(target string) bool
}

type mountFunc func(dir string, options ...fuse.MountOption) (*fuse.Conn, error)

// Driver mounts one FUSE filesystem per attached identifier.
type Driver struct {
	volumes Volumes
	logger  *slog.Logger

	mount   mountFunc
	unmount func(dir string) error
	serve   func(conn *fuse.Conn, fs fusefs.FS) error

	mu       sync.Mutex
	sessions map[string]*Session
}

var _ driver.Driver = (*Driver)(nil)

// New returns a driver presenting identifiers at volumes.Path(target).
func New(volumes Volumes, logger *slog.Logger) *Driver {
	return &Driver{
		volumes:  volumes,
		logger:   logging.NewComponentLogger(logger, "fusemirror"),
		mount:    fuse.Mount,
		unmount:  fuse.Unmount,
		serve:    fusefs.Serve,
		sessions: make(map[string]*Session),
	}
}

// Attach mounts req.Source at the identifier's directory and serves it until
// the filesystem is unmounted.
func (d *Driver) Attach(ctx context.Context, req driver.Request) (driver.Session, error) {
	dir := d.volumes.Path(req.Target)
	if dir == "" {
		return nil, fmt.Errorf("attach %q: no mount directory for target", req.Target)
	}
	if _, err := os.ReadDir(req.Source); err != nil {
		return nil, fmt.Errorf("source directory not readable: %w", err)
	}

	d.mu.Lock()
	if _, ok := d.sessions[req.Target]; ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("attach %s: %w", req.Target, driver.ErrTargetInUse)
	}
	// Reserve the target while mounting.
	session := newSession(req.Target, req.ReadOnly)
	d.sessions[req.Target] = session
	d.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.forget(session)
		return nil, fmt.Errorf("create mount directory: %w", err)
	}

	options := []fuse.MountOption{
		fuse.FSName(fsName),
		fuse.Subtype(fsName),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}
	if req.ReadOnly {
		options = append(options, fuse.ReadOnly())
	}
	conn, err := d.mount(dir, options...)
	if err != nil {
		d.forget(session)
		return nil, fmt.Errorf("mount %s: %w", dir, err)
	}
	session.conn = conn

	logger := d.logger.With(
		logging.String(logging.FieldTarget, req.Target),
		logging.String(logging.FieldSource, req.Source),
	)
	go func() {
		err := d.serve(conn, newMirrorFS(req.Source, req.ReadOnly))
		if err != nil {
			logging.WarnWithContext(logger, "filesystem server stopped with error", "fuse_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "drive is no longer presented"),
			)
		} else {
			logger.Debug("filesystem server stopped")
		}
		d.forget(session)
		session.finish(err)
	}()

	if err := d.waitReady(ctx, req.Target, session); err != nil {
		_ = d.unmount(dir)
		_ = session.Close()
		d.forget(session)
		return nil, err
	}
	logger.Info("filesystem mounted", logging.String("dir", dir), logging.Bool("read_only", req.ReadOnly))
	return session, nil
}

func (d *Driver) waitReady(ctx context.Context, target string, session *Session) error {
	deadline := time.NewTimer(readyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		if d.volumes.Visible(target) {
			return nil
		}
		select {
		case <-session.done:
			if err := session.serveErr(); err != nil {
				return fmt.Errorf("filesystem server exited before mount was ready: %w", err)
			}
			return errors.New("filesystem server exited before mount was ready")
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("mount point for %s not ready after %s", target, readyTimeout)
		case <-ticker.C:
		}
	}
}

// Detach unmounts the identifier and waits for its server to stop. A
// directory mounted by an earlier process is unmounted too.
func (d *Driver) Detach(ctx context.Context, target string) error {
	dir := d.volumes.Path(target)
	d.mu.Lock()
	session, ok := d.sessions[target]
	d.mu.Unlock()

	if !ok {
		if dir != "" && d.volumes.Visible(target) {
			if err := d.unmount(dir); err != nil {
				return fmt.Errorf("unmount %s: %w", dir, err)
			}
			return nil
		}
		return fmt.Errorf("detach %s: %w", target, driver.ErrNotAttached)
	}

	if err := d.unmount(dir); err != nil {
		return fmt.Errorf("unmount %s: %w", dir, err)
	}
	select {
	case <-session.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the identifiers currently served.
func (d *Driver) Sessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sessions))
	for target := range d.sessions {
		out = append(out, target)
	}
	return out
}

func (d *Driver) forget(session *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions[session.target] == session {
		delete(d.sessions, session.target)
	}
}

// Session is a mounted filesystem.
type Session struct {
	target   string
	readOnly bool
	conn     *fuse.Conn
	done     chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

var _ driver.Session = (*Session)(nil)

func newSession(target string, readOnly bool) *Session {
	return &Session{target: target, readOnly: readOnly, done: make(chan struct{})}
}

// Target returns the attached identifier.
func (s *Session) Target() string { return s.target }

// ReadOnly reports whether the filesystem rejects writes.
func (s *Session) ReadOnly() bool { return s.readOnly }

// WaitUntilClosed blocks until the filesystem server stops.
func (s *Session) WaitUntilClosed(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the FUSE connection. It does not unmount.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) serveErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
