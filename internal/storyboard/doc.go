// Package storyboard parses instructional storyboard markup into pages,
// quizzes, and un-validated question nodes.
//
// The grammar is line-oriented: canvas_page blocks contain quiz_start blocks,
// which contain question blocks; a type flag inside each question block picks
// the question kind and the remaining lines carry kind-specific fields.
// Parsing is pure and deterministic. Structural damage (an unterminated page
// or quiz) is fatal only to the affected page; sibling pages survive and the
// error carries the location. Unrecognized tags inside a question skip that
// node with a diagnostic instead of aborting the quiz.
package storyboard
