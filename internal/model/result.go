package model

import "time"

// Outcome describes what happened to a single record during a batch run.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
	OutcomeReactivated Outcome = "reactivated"
)

// RecordDetail is one line of a batch result.
type RecordDetail struct {
	RecordID string  `json:"record_id,omitempty"`
	BlobRef  string  `json:"blob_ref,omitempty"`
	Name     string  `json:"name,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// OpResult is the structured result of one command-surface operation.
// Per-record failures are normal outcomes, not operation failures: the
// result is returned even when some records failed.
type OpResult struct {
	Operation   string         `json:"operation"`
	Tenant      string         `json:"tenant,omitempty"`
	Processed   int            `json:"processed"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	Reactivated int            `json:"reactivated"`
	Details     []RecordDetail `json:"details,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Add records a detail line and bumps the matching counter.
func (r *OpResult) Add(d RecordDetail) {
	switch d.Outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	case OutcomeReactivated:
		r.Reactivated++
	}
	r.Details = append(r.Details, d)
}

// Merge folds another result's counts and details into r.
func (r *OpResult) Merge(other *OpResult) {
	if other == nil {
		return
	}
	r.Processed += other.Processed
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Reactivated += other.Reactivated
	r.Details = append(r.Details, other.Details...)
}
