// Package mount owns the registry of source to drive mappings and the
// coordinator that attaches and detaches them.
//
// Every entry moves through Unmounted, Mounting, Mounted and Error. The
// Coordinator holds a per-entry non-blocking lock for the foreground part of
// each operation, escalates slow driver calls through a ContinuationPolicy,
// and applies late results from background continuations exactly once. Drive
// allocation, host volume probing, session watching and persistence are
// injected through the small interfaces in observer.go so the package can be
// exercised with fakes.
package mount
