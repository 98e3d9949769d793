// Package services defines shared utilities consumed by the sync pipeline and
// the Canvas integration.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, item correlation keys, and phase
//     names for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into consistent record statuses (failed vs duplicate) and retry
//     decisions (transient vs permanent).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
