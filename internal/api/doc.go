// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates mount registry views into transport-friendly DTOs
// that the CLI and other consumers can render without coupling to internal
// types.
//
// # Key Types
//
// MountEntry: transport representation of a registry entry with its 1-based
// index, status, error message and available drive letters.
//
// OperationResult: an entry after attach or detach plus whether the operation
// continued in the background.
//
// DaemonStatus: runtime information including lock and database paths,
// entry counts per status and the last status message.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses are exposed as their display names
// ("Mounted", "Error"). Timestamps use RFC3339 with milliseconds.
package api
