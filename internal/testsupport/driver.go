package testsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"mirrordrive/internal/driver"
)

// FakeDriver is an in-memory attachment driver. Attach and Detach can be
// gated to simulate slow driver calls.
type FakeDriver struct {
	mu         sync.Mutex
	sessions   map[string]*FakeSession
	attachGate chan struct{}
	detachGate chan struct{}
	attachErr  error
	detachErr  error
	waitErr    error

	attachCalls atomic.Int32
	detachCalls atomic.Int32
	started     chan string
}

// NewFakeDriver returns a driver with no sessions and no gates.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		sessions: make(map[string]*FakeSession),
		started:  make(chan string, 64),
	}
}

// Attach creates a session for req.Target unless one is already active.
func (d *FakeDriver) Attach(ctx context.Context, req driver.Request) (driver.Session, error) {
	d.attachCalls.Add(1)
	d.notifyStarted(req.Target)

	d.mu.Lock()
	gate := d.attachGate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attachErr != nil {
		return nil, d.attachErr
	}
	if _, ok := d.sessions[req.Target]; ok {
		return nil, fmt.Errorf("attach %s: %w", req.Target, driver.ErrTargetInUse)
	}
	session := &FakeSession{
		target:   req.Target,
		readOnly: req.ReadOnly,
		closed:   make(chan struct{}),
		waitErr:  d.waitErr,
	}
	d.sessions[req.Target] = session
	return session, nil
}

// Detach removes the session for target.
func (d *FakeDriver) Detach(ctx context.Context, target string) error {
	d.detachCalls.Add(1)
	d.notifyStarted(target)

	d.mu.Lock()
	gate := d.detachGate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detachErr != nil {
		return d.detachErr
	}
	session, ok := d.sessions[target]
	if !ok {
		return fmt.Errorf("detach %s: %w", target, driver.ErrNotAttached)
	}
	delete(d.sessions, target)
	session.end()
	return nil
}

// BlockAttach makes Attach wait until the returned release func is called.
func (d *FakeDriver) BlockAttach() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.attachGate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.attachGate == gate {
				d.attachGate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// BlockDetach makes Detach wait until the returned release func is called.
func (d *FakeDriver) BlockDetach() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.detachGate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.detachGate == gate {
				d.detachGate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// FailAttach makes subsequent Attach calls return err (nil clears it).
func (d *FakeDriver) FailAttach(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attachErr = err
}

// FailDetach makes subsequent Detach calls return err (nil clears it).
func (d *FakeDriver) FailDetach(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detachErr = err
}

// WaitUnsupported makes new sessions report driver.ErrWaitUnsupported.
func (d *FakeDriver) WaitUnsupported() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitErr = driver.ErrWaitUnsupported
}

// Started returns the channel that receives the target of every driver call
// as soon as it begins.
func (d *FakeDriver) Started() <-chan string {
	return d.started
}

func (d *FakeDriver) notifyStarted(target string) {
	select {
	case d.started <- target:
	default:
	}
}

// Session returns the active session for target, or nil.
func (d *FakeDriver) Session(target string) *FakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[target]
}

// Active reports whether target has a session.
func (d *FakeDriver) Active(target string) bool {
	return d.Session(target) != nil
}

// Unmount simulates the host unmounting target behind the coordinator's back.
func (d *FakeDriver) Unmount(target string) bool {
	d.mu.Lock()
	session, ok := d.sessions[target]
	delete(d.sessions, target)
	d.mu.Unlock()
	if ok {
		session.end()
	}
	return ok
}

// AttachCalls returns the number of Attach calls.
func (d *FakeDriver) AttachCalls() int { return int(d.attachCalls.Load()) }

// DetachCalls returns the number of Detach calls.
func (d *FakeDriver) DetachCalls() int { return int(d.detachCalls.Load()) }

// FakeSession is the session handle returned by FakeDriver.
type FakeSession struct {
	target   string
	readOnly bool
	closed   chan struct{}
	waitErr  error
	once     sync.Once
	closes   atomic.Int32
}

// Target returns the attached identifier.
func (s *FakeSession) Target() string { return s.target }

// ReadOnly reports the access mode requested at attach.
func (s *FakeSession) ReadOnly() bool { return s.readOnly }

// WaitUntilClosed blocks until the session ends or ctx is done.
func (s *FakeSession) WaitUntilClosed(ctx context.Context) error {
	if s.waitErr != nil {
		return s.waitErr
	}
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close records that the handle was released.
func (s *FakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

// Closes returns how many times Close was called.
func (s *FakeSession) Closes() int { return int(s.closes.Load()) }

func (s *FakeSession) end() {
	s.once.Do(func() { close(s.closed) })
}
