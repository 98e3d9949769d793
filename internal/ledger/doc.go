// Package ledger persists sync jobs and their per-item records in SQLite and
// exposes helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, and the guarded status transitions that mirror the public job and
// item state machines. A job captures one run against one target quiz; item
// records capture the correlation key, canonical spec, attempt count, and
// remote identifier for every question in that run, so re-runs and repairs can
// coordinate without re-reading the source document.
//
// A file lock next to the database keeps concurrent quizsync invocations from
// interleaving writes against the same ledger.
//
// Treat this package as the single source of truth for lifecycle semantics;
// when you add new statuses, update schema.sql and bump schemaVersion.
package ledger
