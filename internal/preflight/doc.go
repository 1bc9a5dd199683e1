// Package preflight provides readiness checks for the render engine, external
// binaries, workflow templates, and filesystem paths comfybatch depends on.
//
// These checks run in two contexts:
//   - "comfybatch run" calls RunAll for the selected workflow before planning.
//     A failed check stops the batch before any job is submitted.
//   - "comfybatch check" calls RunAll for every workflow and prints the table.
package preflight
