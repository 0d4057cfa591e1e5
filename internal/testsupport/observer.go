package testsupport

import (
	"slices"
	"strings"
	"sync"

	"mirrordrive/internal/mount"
)

// RecordingObserver captures coordinator presentation events.
type RecordingObserver struct {
	mu       sync.Mutex
	views    []mount.View
	messages []string
	ticks    []mount.ProgressTick
}

// EntryChanged records view.
func (o *RecordingObserver) EntryChanged(view mount.View) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.views = append(o.views, view)
}

// Status records message.
func (o *RecordingObserver) Status(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, message)
}

// Progress records tick.
func (o *RecordingObserver) Progress(tick mount.ProgressTick) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks = append(o.ticks, tick)
}

// Messages returns recorded status messages.
func (o *RecordingObserver) Messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.messages)
}

// HasMessage reports whether any status message contains substr.
func (o *RecordingObserver) HasMessage(substr string) bool {
	return slices.ContainsFunc(o.Messages(), func(msg string) bool {
		return strings.Contains(msg, substr)
	})
}

// Ticks returns recorded progress ticks.
func (o *RecordingObserver) Ticks() []mount.ProgressTick {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.ticks)
}

// Views returns recorded entry views.
func (o *RecordingObserver) Views() []mount.View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.views)
}
