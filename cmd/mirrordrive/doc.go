// Package main hosts the mirrordrive CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: mapping edits, attach and detach requests, legacy
// imports and daemon lifecycle control. The query command talks to the
// snapshot responder directly, the same way third-party tools do.
//
// Keep this package lean: add new behavior to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
