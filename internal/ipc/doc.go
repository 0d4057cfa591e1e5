// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Entry
// payloads reuse the HTTP API types so both surfaces stay in step. Errors from
// the daemon come back as RemoteError values that unwrap to the mount and
// daemon sentinels, letting CLI commands branch with errors.Is.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
