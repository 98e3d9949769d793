// Package preflight provides readiness checks for the Canvas target and
// filesystem paths that QuizSync depends on.
//
// These checks run in two contexts:
//   - The CLI "quizsync preflight" command runs RunAll and renders every
//     result so a doomed sync fails in seconds instead of mid-upload.
//   - The sync command runs the same checks before creating a job unless
//     --no-preflight skips them.
//
// Optional concerns (report directory, notifications) are only checked when
// configured.
package preflight
