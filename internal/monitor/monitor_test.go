package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mirrordrive/internal/driver"
	"mirrordrive/internal/logging"
)

type stubSession struct {
	target  string
	closed  chan struct{}
	waitErr error
	once    sync.Once
}

func newStubSession(target string) *stubSession {
	return &stubSession{target: target, closed: make(chan struct{})}
}

func (s *stubSession) Target() string { return s.target }

func (s *stubSession) WaitUntilClosed(ctx context.Context) error {
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

func (s *stubSession) Close() error { return nil }

func (s *stubSession) end() { s.once.Do(func() { close(s.closed) }) }

type toggleVolumes struct {
	visible atomic.Bool
}

func (v *toggleVolumes) Visible(string) bool { return v.visible.Load() }

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSessionCloseFiresOnce(t *testing.T) {
	m := New(nil, logging.NewNop())
	session := newStubSession(`Z:\`)
	fired := make(chan struct{}, 2)

	m.Start("a", `Z:\`, session, func() { fired <- struct{}{} })
	if !m.Active("a") {
		t.Fatal("expected watch to be active")
	}
	session.end()
	waitSignal(t, fired, "close callback")

	deadline := time.Now().Add(time.Second)
	for m.Active("a") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Active("a") {
		t.Fatal("expected watch to be removed after firing")
	}
	select {
	case <-fired:
		t.Fatal("callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelSuppressesCallback(t *testing.T) {
	m := New(nil, logging.NewNop())
	session := newStubSession(`Y:\`)
	var calls atomic.Int32

	m.Start("a", `Y:\`, session, func() { calls.Add(1) })
	m.Cancel("a")
	session.end()
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no callback after cancel, got %d", got)
	}
	if m.Active("a") {
		t.Fatal("expected no active watch after cancel")
	}
}

func TestFallbackPollingDetectsDisappearance(t *testing.T) {
	volumes := &toggleVolumes{}
	volumes.visible.Store(true)
	m := New(volumes, logging.NewNop(), WithPollInterval(10*time.Millisecond))

	session := newStubSession(`X:\`)
	session.waitErr = driver.ErrWaitUnsupported
	fired := make(chan struct{}, 1)
	m.Start("a", `X:\`, session, func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("callback fired while the drive was visible")
	case <-time.After(50 * time.Millisecond):
	}
	volumes.visible.Store(false)
	waitSignal(t, fired, "polling callback")
}

func TestWaitErrorFallsBackToPolling(t *testing.T) {
	volumes := &toggleVolumes{}
	m := New(volumes, logging.NewNop(), WithPollInterval(10*time.Millisecond))

	session := newStubSession(`W:\`)
	session.waitErr = errors.New("fuse connection lost")
	fired := make(chan struct{}, 1)
	m.Start("a", `W:\`, session, func() { fired <- struct{}{} })
	waitSignal(t, fired, "polling callback")
}

func TestStartReplacesPreviousWatch(t *testing.T) {
	m := New(nil, logging.NewNop())
	first := newStubSession(`Z:\`)
	second := newStubSession(`Z:\`)
	var firstCalls atomic.Int32
	fired := make(chan struct{}, 1)

	m.Start("a", `Z:\`, first, func() { firstCalls.Add(1) })
	m.Start("a", `Z:\`, second, func() { fired <- struct{}{} })
	if m.Len() != 1 {
		t.Fatalf("expected one watch, got %d", m.Len())
	}

	first.end()
	time.Sleep(30 * time.Millisecond)
	if firstCalls.Load() != 0 {
		t.Fatal("replaced watch must not fire")
	}
	second.end()
	waitSignal(t, fired, "replacement callback")
}

func TestStartIfStaleKeepsCurrentWatch(t *testing.T) {
	m := New(nil, logging.NewNop())
	live := newStubSession(`Q:\`)
	stale := newStubSession(`Q:\`)
	fired := make(chan struct{}, 1)
	var staleCalls atomic.Int32

	if !m.StartIf("a", `Q:\`, live, func() bool { return true }, func() { fired <- struct{}{} }) {
		t.Fatal("expected current watch to start")
	}
	if m.StartIf("a", `Q:\`, stale, func() bool { return false }, func() { staleCalls.Add(1) }) {
		t.Fatal("expected stale watch to be refused")
	}
	if !m.Active("a") || m.Len() != 1 {
		t.Fatalf("expected the live watch to remain, len=%d", m.Len())
	}

	stale.end()
	live.end()
	waitSignal(t, fired, "live callback")
	if staleCalls.Load() != 0 {
		t.Fatal("refused watch must never fire")
	}
}

func TestCancelAllStopsEveryWatch(t *testing.T) {
	m := New(nil, logging.NewNop())
	var calls atomic.Int32
	sessions := []*stubSession{newStubSession(`D:\`), newStubSession(`E:\`), newStubSession(`F:\`)}
	for i, session := range sessions {
		m.Start(string(rune('a'+i)), session.target, session, func() { calls.Add(1) })
	}
	if m.Len() != 3 {
		t.Fatalf("expected three watches, got %d", m.Len())
	}
	m.CancelAll()
	for _, session := range sessions {
		session.end()
	}
	time.Sleep(30 * time.Millisecond)
	if m.Len() != 0 || calls.Load() != 0 {
		t.Fatalf("expected no watches and no callbacks, got len=%d calls=%d", m.Len(), calls.Load())
	}
}

func TestCancelWaitsForRunningCallback(t *testing.T) {
	m := New(nil, logging.NewNop())
	session := newStubSession(`Z:\`)
	entered := make(chan struct{})
	release := make(chan struct{})
	m.Start("a", `Z:\`, session, func() {
		close(entered)
		<-release
	})
	session.end()
	waitSignal(t, entered, "callback start")

	cancelled := make(chan struct{})
	go func() {
		m.Cancel("a")
		close(cancelled)
	}()
	select {
	case <-cancelled:
		t.Fatal("Cancel returned while the callback was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	waitSignal(t, cancelled, "cancel return")
}

func TestStartIgnoresNilSession(t *testing.T) {
	m := New(nil, logging.NewNop())
	m.Start("a", `Z:\`, nil, func() { t.Error("unexpected callback") })
	if m.Active("a") {
		t.Fatal("expected no watch for nil session")
	}
}
