// Package jobs persists per-project job records for studio agents.
//
// A record is a JSON object keyed by (kind, project, job). Updates merge
// key-by-key into the stored object and always stamp updated_at, so handlers
// can report progress one field at a time.
package jobs
