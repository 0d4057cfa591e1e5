// Package driver defines the attachment driver contract the mount coordinator
// consumes: attach a source directory at a drive identifier, detach it again,
// and observe when a live session closes.
package driver

import (
	"context"
	"errors"
)

var (
	// ErrWaitUnsupported is returned by Session.WaitUntilClosed when the
	// backend cannot block on session closure. Callers fall back to polling.
	ErrWaitUnsupported = errors.New("wait until closed not supported")
	// ErrTargetInUse reports that the drive identifier is already presented.
	ErrTargetInUse = errors.New("target already in use")
	// ErrNotAttached reports that no session exists for the drive identifier.
	ErrNotAttached = errors.New("target not attached")
)

// Request describes one attach call.
type Request struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Driver presents source directories under drive identifiers. Attach and
// Detach may block for a long time and cannot be aborted once started.
type Driver interface {
	Attach(ctx context.Context, req Request) (Session, error)
	Detach(ctx context.Context, target string) error
}

// Session is the live handle produced by a successful Attach.
type Session interface {
	Target() string
	// WaitUntilClosed blocks until the session ends for any reason or ctx is
	// done. It returns nil when the session closed.
	WaitUntilClosed(ctx context.Context) error
	// Close releases resources held by the handle. It does not detach.
	Close() error
}
