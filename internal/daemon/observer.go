package daemon

import (
	"context"
	"log/slog"
	"sync"

	"mirrordrive/internal/logging"
	"mirrordrive/internal/metrics"
	"mirrordrive/internal/mount"
	"mirrordrive/internal/notifications"
)

// statusObserver turns coordinator events into log lines, gauge updates and
// ntfy alerts, and remembers the latest status message for status output.
type statusObserver struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier notifications.Service
	counts   func() map[mount.Status]int

	mu       sync.Mutex
	last     string
	statuses map[string]mount.Status

	alerts sync.WaitGroup
}

func newStatusObserver(logger *slog.Logger, m *metrics.Metrics, notifier notifications.Service, counts func() map[mount.Status]int) *statusObserver {
	return &statusObserver{
		logger:   logging.NewComponentLogger(logger, "status"),
		metrics:  m,
		notifier: notifier,
		counts:   counts,
		statuses: make(map[string]mount.Status),
	}
}

func (o *statusObserver) EntryChanged(view mount.View) {
	o.logger.Debug("entry changed",
		logging.String(logging.FieldEntryID, view.ID),
		logging.String(logging.FieldTarget, view.TargetID),
		logging.String("status", view.Status.String()),
		logging.Bool("busy", view.Busy),
	)
	if o.counts != nil {
		o.metrics.SetEntryCounts(o.counts())
	}

	o.mu.Lock()
	prev := o.statuses[view.ID]
	o.statuses[view.ID] = view.Status
	o.mu.Unlock()

	if prev == mount.StatusMounting && view.Status == mount.StatusError {
		o.publish(notifications.EventAttachFailed, notifications.Alert{
			Target:  view.TargetID,
			Source:  view.SourcePath,
			Message: view.ErrorMessage,
		})
	}
}

func (o *statusObserver) VolumeLost(view mount.View) {
	o.publish(notifications.EventVolumeLost, notifications.Alert{
		Target: view.TargetID,
		Source: view.SourcePath,
	})
}

func (o *statusObserver) Status(message string) {
	o.mu.Lock()
	o.last = message
	o.mu.Unlock()
	o.logger.Info(message)
}

func (o *statusObserver) Progress(tick mount.ProgressTick) {
	o.logger.Debug("operation still running",
		logging.String("operation", string(tick.Operation)),
		logging.String(logging.FieldEntryID, tick.EntryID),
		logging.String(logging.FieldTarget, tick.Target),
		logging.Duration("elapsed", tick.Elapsed),
	)
}

// Last returns the most recent status message.
func (o *statusObserver) Last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// publish sends an alert without blocking the coordinator.
func (o *statusObserver) publish(event notifications.Event, alert notifications.Alert) {
	if o.notifier == nil || !o.notifier.Enabled() {
		return
	}
	o.alerts.Add(1)
	go func() {
		defer o.alerts.Done()
		if err := o.notifier.Publish(context.Background(), event, alert); err != nil {
			logging.WarnWithContext(o.logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.String(logging.FieldTarget, alert.Target),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}()
}

// drain waits for in-flight alerts.
func (o *statusObserver) drain() {
	o.alerts.Wait()
}
