// Package ledger records batch runs and per-job outcomes in SQLite.
//
// The ledger is write-mostly history for the `history` command and for
// post-mortems of long unattended batches. It is never consulted to skip or
// resume work. The schema is embedded and versioned; a database written by a
// different schema version is rejected with ErrSchemaMismatch.
package ledger
