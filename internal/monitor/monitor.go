// Package monitor watches attached sessions and reports when one closes
// without the coordinator asking for it (the user unmounted the drive, the
// filesystem process died, and so on).
//
// Each watch first blocks on Session.WaitUntilClosed. When the session cannot
// report closure it falls back to polling whether the drive is still visible
// on the host.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mirrordrive/internal/driver"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
)

const (
	// DefaultPollInterval is used when the session cannot signal closure.
	DefaultPollInterval = 2 * time.Second
	// defaultCancelWait bounds how long Cancel waits for a watch to exit.
	defaultCancelWait = 5 * time.Second
)

// Monitor tracks at most one watch per key.
type Monitor struct {
	logger       *slog.Logger
	volumes      mount.VolumeProbe
	pollInterval time.Duration
	cancelWait   time.Duration

	mu      sync.Mutex
	watches map[string]*watch
	nextID  uint64
}

type watch struct {
	id        uint64
	target    string
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the fallback polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithCancelWait bounds how long Cancel blocks for a watch goroutine.
func WithCancelWait(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.cancelWait = d
		}
	}
}

// New creates a monitor that polls volumes when a session cannot wait.
func New(volumes mount.VolumeProbe, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		logger:       logging.NewComponentLogger(logger, "monitor"),
		volumes:      volumes,
		pollInterval: DefaultPollInterval,
		cancelWait:   defaultCancelWait,
		watches:      make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start watches session under key, replacing any previous watch for key.
// onClosed runs at most once, on the watch goroutine, and never after Cancel
// for the same watch has returned. onClosed must not call Start or Cancel for
// its own key.
func (m *Monitor) Start(key, target string, session driver.Session, onClosed func()) {
	m.StartIf(key, target, session, nil, onClosed)
}

// StartIf is Start guarded by current, which runs under the monitor lock just
// before the watch is installed. When current reports false the existing
// watch for key is left alone and StartIf returns false. current must not
// call back into the monitor.
func (m *Monitor) StartIf(key, target string, session driver.Session, current func() bool, onClosed func()) bool {
	if session == nil {
		return false
	}

	m.mu.Lock()
	if current != nil && !current() {
		m.mu.Unlock()
		m.logger.Debug("stale watch request ignored", logging.EntryArgs(key, target)...)
		return false
	}
	prev := m.watches[key]
	if prev != nil {
		prev.cancelled = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.nextID++
	w := &watch{
		id:     m.nextID,
		target: target,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.watches[key] = w
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
		m.waitFor(key, prev)
	}
	m.logger.Debug("watch started", logging.EntryArgs(key, target)...)
	go m.run(ctx, key, w, session, onClosed)
	return true
}

// Cancel stops the watch for key and waits for its goroutine to exit.
func (m *Monitor) Cancel(key string) {
	m.mu.Lock()
	w, ok := m.watches[key]
	if ok {
		delete(m.watches, key)
		w.cancelled = true
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	m.waitFor(key, w)
}

// CancelAll stops every watch.
func (m *Monitor) CancelAll() {
	m.mu.Lock()
	watches := make(map[string]*watch, len(m.watches))
	for key, w := range m.watches {
		w.cancelled = true
		watches[key] = w
	}
	m.watches = make(map[string]*watch)
	m.mu.Unlock()

	for _, w := range watches {
		w.cancel()
	}
	for key, w := range watches {
		m.waitFor(key, w)
	}
}

// Active reports whether key has a running watch.
func (m *Monitor) Active(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[key]
	return ok
}

// Len returns the number of running watches.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

func (m *Monitor) waitFor(key string, w *watch) {
	timer := time.NewTimer(m.cancelWait)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		m.logger.Warn("watch did not stop in time",
			logging.String(logging.FieldEntryID, key),
			logging.String(logging.FieldTarget, w.target),
			logging.Duration("waited", m.cancelWait),
			logging.String(logging.FieldEventType, "watch_cancel_timeout"),
			logging.String(logging.FieldErrorHint, "the filesystem session may be hung"),
			logging.String(logging.FieldImpact, "watch abandoned; its callback is suppressed"),
		)
	}
}

func (m *Monitor) run(ctx context.Context, key string, w *watch, session driver.Session, onClosed func()) {
	defer close(w.done)

	logger := m.logger.With(logging.EntryArgs(key, w.target)...)

	err := session.WaitUntilClosed(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, driver.ErrWaitUnsupported) {
			logger.Debug("session cannot signal closure; polling drive visibility",
				logging.Duration("interval", m.pollInterval),
			)
		} else {
			logger.Warn("session wait failed; polling drive visibility",
				logging.Error(err),
				logging.String(logging.FieldEventType, "session_wait_failed"),
				logging.String(logging.FieldErrorHint, "check the filesystem driver"),
				logging.String(logging.FieldImpact, "external unmounts are detected by polling"),
			)
		}
		if !m.poll(ctx, w.target) {
			return
		}
	}

	if !m.claim(w) {
		return
	}
	defer m.forget(key, w)
	logger.Info("session closed externally")
	if onClosed != nil {
		onClosed()
	}
}

// poll reports true once the target stops being visible, false when ctx ends.
func (m *Monitor) poll(ctx context.Context, target string) bool {
	if m.volumes == nil {
		<-ctx.Done()
		return false
	}
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !m.volumes.Visible(target) {
				return true
			}
		}
	}
}

// claim reports whether w may fire. A firing watch stays in the table until
// its callback returns so Cancel still waits for it.
func (m *Monitor) claim(w *watch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !w.cancelled
}

func (m *Monitor) forget(key string, w *watch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.watches[key]; ok && current.id == w.id {
		delete(m.watches, key)
	}
}
