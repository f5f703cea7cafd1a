package generator

import (
	"context"
	"testing"

	"claimline/internal/domain"
)

func items(n int) []domain.ClaimItem {
	out := make([]domain.ClaimItem, n)
	for i := range out {
		out[i] = domain.ClaimItem{Name: "item", Quantity: 1, UnitPrice: 10}
	}
	return out
}

func typesOf(candidates []domain.Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Type)
	}
	return out
}

func TestRuleBasedBaseline(t *testing.T) {
	g := RuleBased{}
	candidates, err := g.Recommend(context.Background(), domain.Claim{TotalAmount: 500})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Type != domain.TypeApproveClaim {
		t.Fatalf("expected single approval, got %v", typesOf(candidates))
	}
	if candidates[0].ConfidenceScore != 0.80 {
		t.Fatalf("unexpected confidence %v", candidates[0].ConfidenceScore)
	}
	if candidates[0].SuggestedAction["total_amount"] != 500.0 {
		t.Fatalf("unexpected action %v", candidates[0].SuggestedAction)
	}
}

func TestRuleBasedHighValue(t *testing.T) {
	g := RuleBased{}
	candidates, err := g.Recommend(context.Background(), domain.Claim{TotalAmount: 15000, Items: items(3)})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	got := typesOf(candidates)
	if len(got) != 2 || got[0] != domain.TypeAdjustAmount || got[1] != domain.TypeApproveClaim {
		t.Fatalf("expected [adjust_amount approve_claim], got %v", got)
	}
	adjust := candidates[0]
	if adjust.ConfidenceScore != 0.85 {
		t.Fatalf("unexpected confidence %v", adjust.ConfidenceScore)
	}
	if adjust.SuggestedAction["reason"] != "high_value" || adjust.SuggestedAction["current_amount"] != 15000.0 {
		t.Fatalf("unexpected action %v", adjust.SuggestedAction)
	}
}

func TestRuleBasedFraudByAmount(t *testing.T) {
	g := RuleBased{}
	candidates, err := g.Recommend(context.Background(), domain.Claim{TotalAmount: 60000, Items: items(2)})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	got := typesOf(candidates)
	if len(got) != 3 || got[0] != domain.TypeAdjustAmount || got[1] != domain.TypeFlagFraud || got[2] != domain.TypeApproveClaim {
		t.Fatalf("expected all three rules, got %v", got)
	}
	fraud := candidates[1]
	indicators, ok := fraud.SuggestedAction["indicators"].([]string)
	if !ok || len(indicators) != 1 || indicators[0] != "high_amount" {
		t.Fatalf("expected high_amount indicator, got %v", fraud.SuggestedAction["indicators"])
	}
}

func TestRuleBasedFraudByItemCount(t *testing.T) {
	g := RuleBased{}
	candidates, err := g.Recommend(context.Background(), domain.Claim{TotalAmount: 500, Items: items(11)})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	got := typesOf(candidates)
	if len(got) != 2 || got[0] != domain.TypeFlagFraud || got[1] != domain.TypeApproveClaim {
		t.Fatalf("expected [flag_fraud approve_claim], got %v", got)
	}
	indicators := candidates[0].SuggestedAction["indicators"].([]string)
	if indicators[0] != "excessive_items" {
		t.Fatalf("expected excessive_items indicator, got %v", indicators)
	}
}

func TestRuleBasedThresholdBoundaries(t *testing.T) {
	g := RuleBased{}
	// exactly at thresholds, rules must not fire
	candidates, _ := g.Recommend(context.Background(), domain.Claim{TotalAmount: 10000, Items: items(10)})
	if got := typesOf(candidates); len(got) != 1 || got[0] != domain.TypeApproveClaim {
		t.Fatalf("thresholds are exclusive, got %v", got)
	}
}

func TestValidateCandidates(t *testing.T) {
	good := domain.Candidate{Type: domain.TypeApproveClaim, Description: "ok", ConfidenceScore: 0.5}

	if err := validateCandidates(nil); err == nil {
		t.Fatalf("empty batch should fail")
	}
	cases := []struct {
		name string
		c    domain.Candidate
	}{
		{"bad type", domain.Candidate{Type: "escalate", Description: "x", ConfidenceScore: 0.5}},
		{"confidence above one", domain.Candidate{Type: domain.TypeApproveClaim, Description: "x", ConfidenceScore: 1.2}},
		{"confidence negative", domain.Candidate{Type: domain.TypeApproveClaim, Description: "x", ConfidenceScore: -0.1}},
		{"missing description", domain.Candidate{Type: domain.TypeApproveClaim, ConfidenceScore: 0.5}},
	}
	for _, tc := range cases {
		err := validateCandidates([]domain.Candidate{good, tc.c})
		if err == nil {
			t.Fatalf("%s: expected rejection of the whole batch", tc.name)
		}
		gerr, ok := err.(*GenerationError)
		if !ok || gerr.Reason != ReasonSchema {
			t.Fatalf("%s: expected schema reason, got %v", tc.name, err)
		}
	}
	if err := validateCandidates([]domain.Candidate{good}); err != nil {
		t.Fatalf("valid batch rejected: %v", err)
	}
}
