// Package main hosts the quizsync CLI entrypoint and command graph.
//
// The Cobra-based command tree turns terminal invocations into storyboard
// parsing, sync runs against the Canvas New Quizzes API, ledger inspection,
// operator repair, and configuration scaffolding. It centralizes config
// resolution and logger setup so subcommands can focus on user experience
// instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
