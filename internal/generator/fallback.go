package generator

import (
	"context"

	"claimline/internal/domain"
)

// FallbackModelVersion tags suggestions produced by the rule set.
const FallbackModelVersion = "fallback-v1"

const (
	highValueThreshold   = 10000.0
	fraudAmountThreshold = 50000.0
	fraudItemThreshold   = 10
)

// RuleBased is the deterministic fallback generator. Rules are independent
// and cumulative; the approval rule always fires, so the result is never
// empty.
type RuleBased struct{}

func (RuleBased) ModelVersion() string { return FallbackModelVersion }

func (RuleBased) Recommend(_ context.Context, claim domain.Claim) ([]domain.Candidate, error) {
	var candidates []domain.Candidate

	if claim.TotalAmount > highValueThreshold {
		candidates = append(candidates, domain.Candidate{
			Type:            domain.TypeAdjustAmount,
			Description:     "High-value claim detected",
			ConfidenceScore: 0.85,
			Explanation:     "Claim amount exceeds normal threshold",
			SuggestedAction: map[string]any{
				"action":         "review",
				"reason":         "high_value",
				"threshold":      highValueThreshold,
				"current_amount": claim.TotalAmount,
			},
		})
	}

	if claim.TotalAmount > fraudAmountThreshold || len(claim.Items) > fraudItemThreshold {
		indicator := "excessive_items"
		if claim.TotalAmount > fraudAmountThreshold {
			indicator = "high_amount"
		}
		candidates = append(candidates, domain.Candidate{
			Type:            domain.TypeFlagFraud,
			Description:     "Potential fraud indicators detected",
			ConfidenceScore: 0.75,
			Explanation:     "Unusual claim characteristics detected",
			SuggestedAction: map[string]any{
				"action":     "investigate",
				"indicators": []string{indicator},
				"risk_level": "medium",
			},
		})
	}

	candidates = append(candidates, domain.Candidate{
		Type:            domain.TypeApproveClaim,
		Description:     "Basic claim recommendation",
		ConfidenceScore: 0.80,
		Explanation:     "Initial review suggests approval pending detailed analysis",
		SuggestedAction: map[string]any{
			"action":       "approve",
			"total_amount": claim.TotalAmount,
		},
	})

	return candidates, nil
}
