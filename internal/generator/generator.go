package generator

import (
	"context"
	"fmt"

	"claimline/internal/domain"
)

// Generator produces candidate suggestions for a claim snapshot. The claim is
// a value copy; implementations must not observe later mutations.
type Generator interface {
	Recommend(ctx context.Context, claim domain.Claim) ([]domain.Candidate, error)
	ModelVersion() string
}

// Failure reasons for GenerationError.
const (
	ReasonRequest = "request"
	ReasonStatus  = "status"
	ReasonDecode  = "decode"
	ReasonSchema  = "schema"
	ReasonEmpty   = "empty"
)

// GenerationError marks a failed generation attempt. Callers branch to the
// fallback on it; the primary path is never retried.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed (%s)", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func failure(reason string, err error) *GenerationError {
	return &GenerationError{Reason: reason, Err: err}
}

// validateCandidates enforces the schema boundary on untrusted generator
// output. One bad candidate rejects the whole batch.
func validateCandidates(candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return failure(ReasonEmpty, fmt.Errorf("no candidates produced"))
	}
	for i, c := range candidates {
		if !domain.ValidSuggestionType(c.Type) {
			return failure(ReasonSchema, fmt.Errorf("candidate %d: unknown type %q", i, c.Type))
		}
		if c.ConfidenceScore < 0 || c.ConfidenceScore > 1 {
			return failure(ReasonSchema, fmt.Errorf("candidate %d: confidence %v out of range", i, c.ConfidenceScore))
		}
		if c.Description == "" {
			return failure(ReasonSchema, fmt.Errorf("candidate %d: description required", i))
		}
	}
	return nil
}
