package engine

import (
	"errors"
	"fmt"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/llm"
)

// FailureClass tags a per-attempt error. The tag decides retry
// eligibility and run-fatality.
type FailureClass string

const (
	// FailureTransient covers timeouts, rate limits, and transport
	// failures reaching the model or the corpus. Invoke-side transients
	// are retried with backoff before being recorded.
	FailureTransient FailureClass = "transient_network"

	// FailureAuth covers credential errors. Never retried; fatal for
	// the whole run when it occurs on the first attempt of round 1.
	FailureAuth FailureClass = "auth"

	// FailureParse means the parser could not extract every required
	// property from the model response.
	FailureParse FailureClass = "parse_error"

	// FailureValidation means a parsed value failed its sanity range.
	FailureValidation FailureClass = "validation_error"

	// FailureUnknown is everything else, logged with raw error text.
	FailureUnknown FailureClass = "unknown"
)

// ParseError reports properties the parser could not extract.
type ParseError struct {
	Missing []string
	Details []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %d properties %v: %v", len(e.Missing), e.Missing, e.Details)
}

// ValidationError reports a parsed value outside its sanity range.
type ValidationError struct {
	Property string
	Value    float64
	Min, Max float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("value %v for %s outside range [%v, %v]", e.Value, e.Property, e.Min, e.Max)
}

// RetrievalError marks a retriever transport failure. Transient: the
// corpus is expected to be reachable again on a later round.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retriever query failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// AttemptError wraps a failed sample attempt with its classification.
type AttemptError struct {
	SampleID string
	Round    int
	Class    FailureClass
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("sample %s round %d (%s): %v", e.SampleID, e.Round, e.Class, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Classify maps an error to its failure class.
func Classify(err error) FailureClass {
	var pe *ParseError
	if errors.As(err, &pe) {
		return FailureParse
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return FailureValidation
	}
	var re *RetrievalError
	if errors.As(err, &re) {
		return FailureTransient
	}
	if llm.IsAuth(err) {
		return FailureAuth
	}
	if llm.IsTransient(err) {
		return FailureTransient
	}
	return FailureUnknown
}
