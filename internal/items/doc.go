// Package items turns raw storyboard questions into canonical, validated
// item specs and assigns each one its correlation key.
//
// The key is derived from structural position (quiz ordinal, item ordinal,
// kind) and embedded in remote item titles as a " [sync:<key>]" suffix, so
// a later listing can be matched back to local specs without content
// hashing. Validation collects every problem per question instead of
// stopping at the first, and a failed question never blocks its siblings.
package items
