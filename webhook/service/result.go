package service

import (
	"net/http"

	apperrors "smile-ai/backend/pkg/errors"
)

// Outcome names how a delivery was settled. It doubles as the metrics label.
type Outcome string

const (
	// OutcomeReplied means the model produced the reply
	OutcomeReplied Outcome = "replied"
	// OutcomeFallback means the completion failed or was empty and a canned reply was used
	OutcomeFallback Outcome = "fallback"
	// OutcomeTechnicalDifficulty means identity, storage or context loading failed
	OutcomeTechnicalDifficulty Outcome = "technical_difficulty"
	// OutcomePromptForInput means the message had no text
	OutcomePromptForInput Outcome = "prompt_for_input"
	// OutcomeIgnored means the delivery had no sender and was only acknowledged
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the signature check failed
	OutcomeRejected Outcome = "rejected"
)

// Result is the settled state of one delivery. Reply is empty for Ignored and
// Rejected. Err records what went wrong even when the user still got a reply.
type Result struct {
	Outcome Outcome
	Reply   string
	Err     error
}

// StatusCode is the transport status for the outcome; only a rejected
// signature is not acknowledged with 200.
func (r Result) StatusCode() int {
	if r.Outcome != OutcomeRejected {
		return http.StatusOK
	}
	if r.Err == nil {
		return http.StatusForbidden
	}
	return apperrors.GetStatusCode(r.Err)
}

// Delivered reports whether Reply should be sent back to the user
func (r Result) Delivered() bool {
	return r.Reply != "" && r.Outcome != OutcomeRejected && r.Outcome != OutcomeIgnored
}
