// Package notifications delivers mount lifecycle alerts to an ntfy topic.
//
// The daemon publishes when a mapping fails to attach, when an attached
// volume disappears underneath it, and when the auto-attach pass finishes
// with failures. Without a configured topic the service is a no-op, so
// callers never need to check whether notifications are enabled.
package notifications
