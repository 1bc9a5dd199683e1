// Package comfy is the HTTP client for the remote render engine.
//
// The engine exposes a ComfyUI-compatible REST surface: graphs are queued via
// POST /api/prompt, progress is read from GET /api/history/{id}, and produced
// files are downloaded from GET /api/view. Client.Render drives that lifecycle
// for one job: submit, poll with an explicit deadline, select the artifact,
// and stream it to disk. Failures are tagged with the services markers so the
// runner can tell a rejected graph (ErrSubmission) from an engine-side crash
// (ErrExecution), a stalled queue (ErrTimeout), and a failed download
// (ErrDownload).
package comfy
