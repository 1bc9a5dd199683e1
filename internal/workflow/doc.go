// Package workflow runs plans against the render engine.
//
// Runner walks a plan's stages in order. For each stage it builds the job
// list (a build error aborts the run before anything is submitted), loads the
// stage template once, and renders every job on its own clone: bind, submit,
// await, download. A failing job is logged, recorded in the ledger, and
// counted; the batch continues. Cancellation stops dispatch; jobs that never
// started are reported as skipped and in-flight jobs as interrupted.
//
// With engine.concurrency above one, jobs run on a bounded errgroup pool.
// Outcomes are stored by job position so reports keep planner order.
package workflow
