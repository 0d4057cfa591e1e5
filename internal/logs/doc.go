// Package logs reads the daemon's log files for `mirrordrive logs`.
//
// The daemon writes one file per run and points CurrentName at the newest
// one. Tail returns the last N lines or everything after a byte offset, and
// in follow mode polls until new lines arrive or the wait expires. Memory use
// stays bounded by the requested line count.
package logs
