// Package notifications delivers sync milestones via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover the sync lifecycle so the workflow
// runner can emit consistent, user-friendly messages without duplicating HTTP
// glue. Per-event delivery is gated by the notifications config section.
//
// Extend this package if you need alternative transports; all workflow code
// depends only on the simple Service interface.
package notifications
