// Package services defines shared utilities consumed by the planner, the
// render client, and the batch runner.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper that classify failures
//     into fatal planning errors and isolated per-job errors.
//   - Context helpers that stamp run IDs, stage names, job positions, and
//     persona names for logging.
//
// Use these helpers when wiring new components so error classification and
// log fields stay uniform across a batch run.
package services
