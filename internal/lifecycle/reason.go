package lifecycle

import (
	"strings"
	"time"

	"github.com/sells-group/docflow-cli/internal/model"
)

// reasonTimeLayout is the timestamp format embedded in reason text.
const reasonTimeLayout = "2006-01-02 15:04:05"

// DeletionReason encodes a processed deletion: machine prefix, the
// operator's justification, and a timestamp.
func DeletionReason(justification string, at time.Time) string {
	return model.ReasonDeletedPrefix + justification + " (" + at.Format(reasonTimeLayout) + ")"
}

// ReactivationReason encodes a processed reactivation and preserves the
// prior reason text.
func ReactivationReason(previous string, at time.Time) string {
	return model.ReasonReactivatedPrefix + at.Format(reasonTimeLayout) + ". Previous: " + previous
}

// FailureReason encodes an enrichment failure.
func FailureReason(message string, at time.Time) string {
	return "AI Processing Failed: " + message + " (" + at.Format(reasonTimeLayout) + ")"
}

// RetryReason encodes an operator retry request.
func RetryReason(at time.Time) string {
	return "Retry requested on " + at.Format(reasonTimeLayout)
}

// Justification extracts the operator's free-text justification from a
// raw reason, stripping any machine prefix already present.
func Justification(reason string) string {
	reason = strings.TrimPrefix(reason, model.ReasonDeletedPrefix)
	return strings.TrimSpace(reason)
}
