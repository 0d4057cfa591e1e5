package mount

import "errors"

var (
	// ErrInProgress is returned when another attach, detach or edit holds the
	// entry. Callers get it immediately; operations never queue.
	ErrInProgress = errors.New("operation already in progress")
	// ErrNotAttachable is returned when attach is requested outside Unmounted/Error.
	ErrNotAttachable = errors.New("entry cannot be mounted in its current state")
	// ErrNotAttached is returned when detach is requested for an entry that is not Mounted.
	ErrNotAttached = errors.New("entry is not mounted")
	// ErrNoTarget is returned when attach is requested without a drive identifier.
	ErrNoTarget = errors.New("entry has no drive letter assigned")
	// ErrTargetInUse is returned when the drive identifier is held by the host or another entry.
	ErrTargetInUse = errors.New("drive letter already in use")
	// ErrBusy is returned when an edit or removal targets a Mounting or Mounted entry.
	ErrBusy = errors.New("entry is mounted or mounting")
	// ErrNotFound is returned when an entry reference does not resolve.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidTarget is returned for malformed or unavailable drive identifiers.
	ErrInvalidTarget = errors.New("invalid drive letter")
	// ErrSourceMissing is returned when the source directory does not exist.
	ErrSourceMissing = errors.New("source path does not exist")
)
