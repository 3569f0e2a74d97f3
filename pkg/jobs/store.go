package jobs

import (
	"context"
	"errors"
	"time"
)

// Job kinds.
const (
	KindBusinessReport = "business_report"
	KindEmail          = "email"
	KindPresentation   = "presentation"
	KindWireframe      = "wireframe"
)

// Job statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// ErrNotFound is returned by Get for unknown jobs.
var ErrNotFound = errors.New("job not found")

// Fields is a partial job record.
type Fields map[string]interface{}

// Record is a stored job.
type Record struct {
	Kind      string    `json:"kind"`
	ProjectID string    `json:"project_id"`
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Data      Fields    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// String returns a field as a string, or "" when absent or not a string.
func (r *Record) String(key string) string {
	if r == nil || r.Data == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// Store reads and merges job records.
type Store interface {
	Update(ctx context.Context, kind, projectID, jobID string, fields Fields) error
	Get(ctx context.Context, kind, projectID, jobID string) (*Record, error)
}
