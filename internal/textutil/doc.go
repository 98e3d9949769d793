// Package textutil provides the text helpers shared by upload and
// reconciliation: HTML flattening and whitespace/case normalization for
// comparing local question content against remote listings, filename
// sanitization for report files, and title derivation for storyboards that
// omit a quiz title.
//
// Comparison helpers are lossy on purpose. Rich-text content survives a
// round trip through the API with rewritten attributes and entity encoding,
// so equality is only meaningful after tags are stripped and the remaining
// text is case-folded and space-collapsed.
package textutil
