package daemon_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mirrordrive/internal/daemon"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
	"mirrordrive/internal/notifications"
	"mirrordrive/internal/testsupport"
)

type publishedAlert struct {
	event notifications.Event
	alert notifications.Alert
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []publishedAlert
}

func (r *recordingNotifier) Enabled() bool { return true }

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, alert notifications.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, publishedAlert{event: event, alert: alert})
	return nil
}

func (r *recordingNotifier) find(event notifications.Event) (notifications.Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.event == event {
			return a.alert, true
		}
	}
	return notifications.Alert{}, false
}

func newNotifyingDaemon(t *testing.T, f *fixture, notifier notifications.Service) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(f.cfg, testsupport.MustOpenStore(t, f.cfg), logging.NewNop(),
		daemon.WithDriver(f.driver),
		daemon.WithVolumes(f.volumes),
		daemon.WithNotifier(notifier),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d
}

func TestDaemonAlertsOnAttachFailure(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery(), testsupport.WithDetachOnExit(false))
	notifier := &recordingNotifier{}
	d := newNotifyingDaemon(t, f, notifier)
	source := testsupport.SourceDir(t, f.cfg, "docs")
	if _, err := d.Add(context.Background(), mount.NewEntry{SourceSpec: source, TargetID: "q"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.driver.FailAttach(errors.New("fuse: device busy"))
	if _, err := d.Attach(context.Background(), "q", true); err == nil {
		t.Fatal("expected attach failure")
	}

	testsupport.Eventually(t, waitFor, func() bool {
		_, ok := notifier.find(notifications.EventAttachFailed)
		return ok
	}, "attach failure alert never published")
	alert, _ := notifier.find(notifications.EventAttachFailed)
	if alert.Target != `Q:\` || alert.Source != source || alert.Message == "" {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestDaemonAlertsOnExternalUnmount(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery(), testsupport.WithDetachOnExit(false))
	notifier := &recordingNotifier{}
	d := newNotifyingDaemon(t, f, notifier)
	source := testsupport.SourceDir(t, f.cfg, "media")
	if _, err := d.Add(context.Background(), mount.NewEntry{SourceSpec: source, TargetID: "r"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := d.Attach(context.Background(), "r", true); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if !f.driver.Unmount(`R:\`) {
		t.Fatal("expected an active session to unmount")
	}
	testsupport.Eventually(t, waitFor, func() bool {
		_, ok := notifier.find(notifications.EventVolumeLost)
		return ok
	}, "volume lost alert never published")
	alert, _ := notifier.find(notifications.EventVolumeLost)
	if alert.Target != `R:\` || alert.Source != source {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if _, ok := notifier.find(notifications.EventAttachFailed); ok {
		t.Fatal("a successful attach must not raise a failure alert")
	}
}

func TestDaemonTestNotification(t *testing.T) {
	f := newFixture(t, testsupport.WithoutQuery())
	notifier := &recordingNotifier{}
	d := newNotifyingDaemon(t, f, notifier)

	sent, err := d.TestNotification(context.Background())
	if err != nil || !sent {
		t.Fatalf("TestNotification = %v, %v", sent, err)
	}
	if _, ok := notifier.find(notifications.EventTest); !ok {
		t.Fatal("expected a test alert")
	}

	sent, err = f.daemon.TestNotification(context.Background())
	if err != nil || sent {
		t.Fatalf("expected unconfigured daemon to skip, got %v, %v", sent, err)
	}
}
