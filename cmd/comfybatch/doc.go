// Package main hosts the comfybatch CLI entrypoint and command graph.
//
// The Cobra-based command tree resolves configuration, runs preflight checks,
// plans and executes batches against the render engine, and reads the run
// ledger. Subcommands stay thin: planning, binding, rendering, and recording
// live in the internal packages and are only wired together here.
package main
