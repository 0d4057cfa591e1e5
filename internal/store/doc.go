// Package store persists the mount registry in a SQLite database.
//
// Only user-set fields are stored: source spec, drive identifier and the
// read-only and auto-attach flags, in display order. Every load starts entries
// Unmounted. ReadLegacyFile imports the JSON file used by the desktop
// manager.
package store
