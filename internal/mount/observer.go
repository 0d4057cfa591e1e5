package mount

import (
	"context"
	"time"

	"mirrordrive/internal/driver"
)

// Observer receives presentation events. It never influences transitions and
// must not block.
type Observer interface {
	EntryChanged(view View)
	Status(message string)
	Progress(tick ProgressTick)
}

// ProgressTick is emitted periodically while a foreground caller waits.
type ProgressTick struct {
	Operation Operation
	EntryID   string
	Target    string
	Elapsed   time.Duration
}

// LossObserver is an optional Observer extension told when a mounted drive
// goes away without a Detach call.
type LossObserver interface {
	VolumeLost(view View)
}

type nopObserver struct{}

func (nopObserver) EntryChanged(View)     {}
func (nopObserver) Status(string)         {}
func (nopObserver) Progress(ProgressTick) {}

// Allocator assigns drive identifiers.
type Allocator interface {
	Normalize(target string) (string, error)
	Available(entries []*Entry, excluding *Entry) []string
	RecomputeAll(registry *Registry) bool
}

// VolumeProbe reports whether a drive identifier is currently presented by
// the host, regardless of who presented it.
type VolumeProbe interface {
	Visible(target string) bool
}

// Watcher watches live sessions for closure the coordinator did not request.
type Watcher interface {
	// StartIf installs a watch only while current reports true; current is
	// evaluated atomically with the install.
	StartIf(key, target string, session driver.Session, current func() bool, onClosed func()) bool
	Cancel(key string)
	CancelAll()
}

// Persister stores the registry.
type Persister interface {
	SaveEntries(ctx context.Context, records []Record) error
}

// Recorder receives operation metrics. A nil Recorder is valid.
type Recorder interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	ObserveBackground(op string)
	ObserveExternalDetach()
}
