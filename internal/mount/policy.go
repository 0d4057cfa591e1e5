package mount

import (
	"context"
	"time"
)

// Operation names a coordinator lifecycle operation.
type Operation string

const (
	OpAttach Operation = "attach"
	OpDetach Operation = "detach"
)

// Decision is a continuation policy answer.
type Decision int

const (
	// Background releases the caller and lets the operation finish unobserved.
	Background Decision = iota
	// WaitLonger waits once more for the extended timeout.
	WaitLonger
)

func (d Decision) String() string {
	if d == WaitLonger {
		return "wait_longer"
	}
	return "background"
}

// SlowOperation describes an attach or detach that outlived its first timeout.
type SlowOperation struct {
	Operation Operation
	EntryID   string
	Target    string
	Elapsed   time.Duration
}

// ContinuationPolicy decides how to react when an operation exceeds the first
// timeout. Decide may block (for example to ask a person); the driver call
// keeps running meanwhile.
type ContinuationPolicy interface {
	Decide(ctx context.Context, op SlowOperation) Decision
}

// PolicyFunc adapts a function to ContinuationPolicy.
type PolicyFunc func(ctx context.Context, op SlowOperation) Decision

// Decide calls f.
func (f PolicyFunc) Decide(ctx context.Context, op SlowOperation) Decision {
	return f(ctx, op)
}

var (
	// AlwaysBackground never waits past the first timeout. Auto-attach uses it.
	AlwaysBackground ContinuationPolicy = PolicyFunc(func(context.Context, SlowOperation) Decision {
		return Background
	})
	// AlwaysWait waits for the extended timeout before backgrounding.
	AlwaysWait ContinuationPolicy = PolicyFunc(func(context.Context, SlowOperation) Decision {
		return WaitLonger
	})
)

// Result reports how an attach or detach call returned.
type Result struct {
	// Backgrounded is set when the call returned before the driver finished.
	// The terminal transition is applied later by a continuation.
	Backgrounded bool          `json:"backgrounded"`
	Elapsed      time.Duration `json:"elapsed"`
}
