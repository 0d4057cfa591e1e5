// Package daemon coordinates the long-running mirrordrive process and its
// system integration points.
//
// It wires configuration, the SQLite entry store, the mount coordinator, the
// FUSE attachment driver, the session monitor and the udev volume watcher into
// a single lifecycle with flock-based locking to prevent multiple instances.
// Start loads persisted entries, brings up the HTTP status API and the
// cross-process query responder, and auto-attaches flagged entries in the
// background. Stop detaches every drive when detach_on_exit is set.
//
// Keep orchestration here: attach and detach semantics live in the mount
// package, and the daemon only resolves references and picks the continuation
// policy for each request.
package daemon
