// Package query implements the cross-process snapshot protocol.
//
// A requester binds a one-shot unix socket named after a fresh channel,
// then connects to the running instance's well-known socket and sends a
// trigger frame carrying that channel name. The instance snapshots the
// registry and streams an int32 length prefix plus indented JSON back to the
// channel. Responder failures are logged and swallowed; Request returns them.
package query
