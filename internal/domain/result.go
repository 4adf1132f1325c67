package domain

import "time"

// ConfirmationOutcome is the three-way result of the post-submit
// confirmation poll. Ambiguous means the poll budget ran out without an
// authoritative success or error signal; policy for that case belongs to
// the orchestrator, not the flow.
type ConfirmationOutcome string

const (
	ConfirmationConfirmed ConfirmationOutcome = "confirmed"
	ConfirmationDenied    ConfirmationOutcome = "denied"
	ConfirmationAmbiguous ConfirmationOutcome = "ambiguous"
)

// AttemptResult is the outcome of one publish flow execution.
type AttemptResult struct {
	AttemptID     string
	TaskID        string
	Success       bool
	Confirmation  ConfirmationOutcome
	ArtifactRef   string
	Duration      time.Duration
	Attempts      int
	TitleMismatch bool
	ErrorClass    ErrorClass
	ErrorReason   string
}
