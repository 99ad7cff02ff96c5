package model

import "time"

// TransitionKind tags an entry in a record's structured transition history.
type TransitionKind string

const (
	TransitionDeleted        TransitionKind = "deleted"
	TransitionReactivated    TransitionKind = "reactivated"
	TransitionFailed         TransitionKind = "failed"
	TransitionRetryRequested TransitionKind = "retry_requested"
	TransitionEnrichStarted  TransitionKind = "enrich_started"
	TransitionEnriched       TransitionKind = "enriched"
	TransitionCategorized    TransitionKind = "categorized"
)

// TransitionEvent is one structured state change. The free-text Reason
// column stays the operator-facing surface; this history is the machine
// record, decoupled from any user-visible text.
type TransitionEvent struct {
	Kind          TransitionKind `json:"kind"`
	Justification string         `json:"justification,omitempty"`
	From          Status         `json:"from,omitempty"`
	At            time.Time      `json:"at"`
}
