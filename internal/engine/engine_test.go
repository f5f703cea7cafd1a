package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"claimline/internal/config"
	"claimline/internal/db"
	"claimline/internal/domain"
	"claimline/internal/engine"
	"claimline/internal/generator"
	"claimline/internal/migrate"
	"claimline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("claimline-test")
	eng := engine.New(conn, cfg)
	// no network in tests: the rule-based fallback supplies every batch
	eng.Generator = nil
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createClaim(t *testing.T, env testEnv, amount float64) (domain.Claim, []domain.Suggestion) {
	t.Helper()
	claim, suggestions, err := env.Engine.CreateClaim(env.Ctx, engine.ClaimCreateOptions{
		PolicyNumber:     "POL-1001",
		PolicyholderName: "Dana Smith",
		DateOfLoss:       "2023-12-15T00:00:00Z",
		TotalAmount:      amount,
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	return claim, suggestions
}

func TestCreateClaimGeneratesSuggestions(t *testing.T) {
	env := newTestEnv(t)
	claim, suggestions, err := env.Engine.CreateClaim(env.Ctx, engine.ClaimCreateOptions{
		PolicyNumber:     "POL-1001",
		PolicyholderName: "Dana Smith",
		DateOfLoss:       "2023-12-15T00:00:00Z",
		Items: []domain.ClaimItem{
			{Name: "Laptop", Quantity: 2, UnitPrice: 1200},
			{Name: "Monitor", Quantity: 1, UnitPrice: 400},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	if claim.Status != domain.ClaimSubmitted {
		t.Fatalf("expected submitted, got %s", claim.Status)
	}
	if claim.TotalAmount != 2800 {
		t.Fatalf("expected total from items, got %f", claim.TotalAmount)
	}
	if claim.ClaimNumber == "" {
		t.Fatalf("expected generated claim number")
	}
	if len(suggestions) == 0 {
		t.Fatalf("expected an initial suggestion batch")
	}
	for _, s := range suggestions {
		if s.Status != domain.SuggestionPending {
			t.Fatalf("new suggestion should be pending, got %s", s.Status)
		}
		if s.ModelVersion != generator.FallbackModelVersion {
			t.Fatalf("expected fallback provenance, got %s", s.ModelVersion)
		}
	}
}

func TestCreateClaimValidation(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateClaim(env.Ctx, engine.ClaimCreateOptions{
		PolicyholderName: "Dana Smith",
		DateOfLoss:       "2023-12-15T00:00:00Z",
	})
	var verr *repo.ValidationError
	if !errors.As(err, &verr) || verr.Field != "policy_number" {
		t.Fatalf("expected policy_number validation error, got %v", err)
	}
}

func TestReviewIsFinal(t *testing.T) {
	env := newTestEnv(t)
	_, suggestions := createClaim(t, env, 500)
	target := suggestions[0]

	notes := "looks right"
	reviewed, err := env.Engine.ReviewSuggestion(env.Ctx, engine.ReviewOptions{
		SuggestionID:  target.ID,
		Status:        domain.SuggestionAccepted,
		ReviewerID:    "adjuster-1",
		ReviewerNotes: &notes,
	})
	if err != nil {
		t.Fatalf("first review: %v", err)
	}
	if reviewed.Status != domain.SuggestionAccepted {
		t.Fatalf("expected accepted, got %s", reviewed.Status)
	}
	if reviewed.ReviewerID == nil || *reviewed.ReviewerID != "adjuster-1" {
		t.Fatalf("reviewer not recorded: %+v", reviewed)
	}
	if reviewed.ReviewedAt == nil {
		t.Fatalf("reviewed_at not recorded")
	}

	// a second decision must fail and change nothing
	_, err = env.Engine.ReviewSuggestion(env.Ctx, engine.ReviewOptions{
		SuggestionID: target.ID,
		Status:       domain.SuggestionRejected,
		ReviewerID:   "adjuster-2",
	})
	if !errors.Is(err, repo.ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}
	after, err := env.Engine.Repo.GetSuggestion(env.Ctx, target.ID)
	if err != nil {
		t.Fatalf("get suggestion: %v", err)
	}
	if after.Status != domain.SuggestionAccepted || *after.ReviewerID != "adjuster-1" {
		t.Fatalf("losing review mutated the row: %+v", after)
	}
}

func TestConcurrentReviewSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	_, suggestions := createClaim(t, env, 500)
	target := suggestions[0]

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, status := range []string{domain.SuggestionAccepted, domain.SuggestionRejected} {
		wg.Add(1)
		go func(i int, status string) {
			defer wg.Done()
			_, errs[i] = env.Engine.ReviewSuggestion(env.Ctx, engine.ReviewOptions{
				SuggestionID: target.ID,
				Status:       status,
				ReviewerID:   "adjuster",
			})
		}(i, status)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, repo.ErrAlreadyReviewed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}
}

func TestReviewModifiedRequiresAction(t *testing.T) {
	env := newTestEnv(t)
	_, suggestions := createClaim(t, env, 500)

	_, err := env.Engine.ReviewSuggestion(env.Ctx, engine.ReviewOptions{
		SuggestionID: suggestions[0].ID,
		Status:       domain.SuggestionModified,
		ReviewerID:   "adjuster-1",
	})
	var verr *repo.ValidationError
	if !errors.As(err, &verr) || verr.Field != "modified_action" {
		t.Fatalf("expected modified_action validation error, got %v", err)
	}

	reviewed, err := env.Engine.ReviewSuggestion(env.Ctx, engine.ReviewOptions{
		SuggestionID:   suggestions[0].ID,
		Status:         domain.SuggestionModified,
		ReviewerID:     "adjuster-1",
		ModifiedAction: map[string]any{"action": "approve", "approved_amount": 350.0},
	})
	if err != nil {
		t.Fatalf("modified review: %v", err)
	}
	if reviewed.SuggestedActionJSON == "" {
		t.Fatalf("expected replacement action to be stored")
	}
}

func TestRegenerateDiscardsReviewedSuggestions(t *testing.T) {
	env := newTestEnv(t)
	claim, suggestions := createClaim(t, env, 500)
	accepted := suggestions[0]
	if _, err := env.Engine.ReviewSuggestion(env.Ctx, engine.ReviewOptions{
		SuggestionID: accepted.ID,
		Status:       domain.SuggestionAccepted,
		ReviewerID:   "adjuster-1",
	}); err != nil {
		t.Fatalf("review: %v", err)
	}

	fresh, err := env.Engine.RegenerateSuggestions(env.Ctx, claim.ID, "tester")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(fresh) == 0 {
		t.Fatalf("expected a fresh batch")
	}
	for _, s := range fresh {
		if s.Status != domain.SuggestionPending {
			t.Fatalf("regenerated suggestion should be pending, got %s", s.Status)
		}
	}
	if _, err := env.Engine.Repo.GetSuggestion(env.Ctx, accepted.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("accepted suggestion should be gone, got %v", err)
	}
	remaining, err := env.Engine.Repo.ListSuggestionsByClaim(env.Ctx, claim.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != len(fresh) {
		t.Fatalf("expected only the fresh batch, got %d rows", len(remaining))
	}
}

func TestMetricsRates(t *testing.T) {
	env := newTestEnv(t)

	empty, err := env.Engine.Metrics(env.Ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if empty.Total != 0 || empty.AcceptanceRate != 0 || empty.RejectionRate != 0 || empty.ModificationRate != 0 {
		t.Fatalf("empty store should report zero rates: %+v", empty)
	}

	claim, _ := createClaim(t, env, 500)
	mk := func(status string) {
		s, err := env.Engine.CreateSuggestion(env.Ctx, engine.SuggestionCreateOptions{
			ClaimID:         claim.ID,
			Type:            domain.TypeApproveClaim,
			Description:     "manual",
			ConfidenceScore: 0.5,
			ActorID:         "tester",
		})
		if err != nil {
			t.Fatalf("create suggestion: %v", err)
		}
		if status == domain.SuggestionPending {
			return
		}
		opts := engine.ReviewOptions{SuggestionID: s.ID, Status: status, ReviewerID: "adjuster"}
		if status == domain.SuggestionModified {
			opts.ModifiedAction = map[string]any{"action": "approve"}
		}
		if _, err := env.Engine.ReviewSuggestion(env.Ctx, opts); err != nil {
			t.Fatalf("review %s: %v", status, err)
		}
	}
	// fallback already produced one pending suggestion for a 500 amount claim
	mk(domain.SuggestionAccepted)
	mk(domain.SuggestionAccepted)
	mk(domain.SuggestionRejected)
	mk(domain.SuggestionModified)

	m, err := env.Engine.Metrics(env.Ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Total != 5 {
		t.Fatalf("expected 5 suggestions, got %d", m.Total)
	}
	if m.AcceptanceRate != 0.4 || m.RejectionRate != 0.2 || m.ModificationRate != 0.2 {
		t.Fatalf("unexpected rates: %+v", m)
	}
	if m.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", m.PendingCount)
	}
	if m.SuggestionsByType[domain.TypeApproveClaim] != 5 {
		t.Fatalf("unexpected type counts: %+v", m.SuggestionsByType)
	}
}

func TestHighConfidenceThresholdInclusive(t *testing.T) {
	env := newTestEnv(t)
	claim, _ := createClaim(t, env, 500)
	add := func(score float64) domain.Suggestion {
		s, err := env.Engine.CreateSuggestion(env.Ctx, engine.SuggestionCreateOptions{
			ClaimID:         claim.ID,
			Type:            domain.TypeRequestInfo,
			Description:     "manual",
			ConfidenceScore: score,
			ActorID:         "tester",
		})
		if err != nil {
			t.Fatalf("create suggestion: %v", err)
		}
		return s
	}
	at := add(0.80)
	below := add(0.79)

	high, err := env.Engine.HighConfidence(env.Ctx, 0.80)
	if err != nil {
		t.Fatalf("high confidence: %v", err)
	}
	ids := map[string]bool{}
	for _, s := range high {
		ids[s.ID] = true
	}
	if !ids[at.ID] {
		t.Fatalf("score exactly at threshold should be included")
	}
	if ids[below.ID] {
		t.Fatalf("score below threshold should be excluded")
	}

	if _, err := env.Engine.HighConfidence(env.Ctx, 1.5); err == nil {
		t.Fatalf("expected threshold validation error")
	}
}

type stubGenerator struct {
	candidates []domain.Candidate
	err        error
}

func (s stubGenerator) Recommend(ctx context.Context, c domain.Claim) ([]domain.Candidate, error) {
	return s.candidates, s.err
}

func (s stubGenerator) ModelVersion() string { return "stub-v1" }

func TestPrimaryGeneratorPreferred(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Generator = stubGenerator{candidates: []domain.Candidate{{
		Type:            domain.TypeDenyClaim,
		Description:     "deny it",
		ConfidenceScore: 0.9,
		Explanation:     "policy lapsed",
	}}}
	_, suggestions := createClaim(t, env, 500)
	if len(suggestions) != 1 || suggestions[0].Type != domain.TypeDenyClaim {
		t.Fatalf("expected primary batch, got %+v", suggestions)
	}
	if suggestions[0].ModelVersion != "stub-v1" {
		t.Fatalf("expected primary provenance, got %s", suggestions[0].ModelVersion)
	}
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Generator = stubGenerator{err: errors.New("model unavailable")}
	_, suggestions := createClaim(t, env, 15000)
	if len(suggestions) == 0 {
		t.Fatalf("expected fallback batch")
	}
	for _, s := range suggestions {
		if s.ModelVersion != generator.FallbackModelVersion {
			t.Fatalf("expected fallback provenance, got %s", s.ModelVersion)
		}
	}
}

func TestAttachVideoAnalysisRegenerates(t *testing.T) {
	env := newTestEnv(t)
	claim, _ := createClaim(t, env, 500)

	updated, suggestions, err := env.Engine.AttachVideoAnalysis(env.Ctx, claim.ID, map[string]any{
		"damage_assessment": "moderate water damage",
		"detected_items":    []string{"sofa", "carpet"},
	}, "tester")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !updated.HasVideo {
		t.Fatalf("expected has_video after attach")
	}
	if updated.VideoAnalysisJSON == nil {
		t.Fatalf("expected stored analysis document")
	}
	if len(suggestions) == 0 {
		t.Fatalf("expected a new batch after attach")
	}
}

func TestValidateVideo(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.ValidateVideo("video/mp4", 1024, 60); err != nil {
		t.Fatalf("valid video rejected: %v", err)
	}
	if err := env.Engine.ValidateVideo("video/webm", 1024, 60); err == nil {
		t.Fatalf("expected format rejection")
	}
	if err := env.Engine.ValidateVideo("video/mp4", env.Engine.Config.Video.MaxSizeBytes+1, 60); err == nil {
		t.Fatalf("expected size rejection")
	}
	if err := env.Engine.ValidateVideo("video/mp4", 1024, env.Engine.Config.Video.MaxDurationSeconds+1); err == nil {
		t.Fatalf("expected duration rejection")
	}
}

func TestUpdateClaimStatus(t *testing.T) {
	env := newTestEnv(t)
	claim, _ := createClaim(t, env, 500)
	updated, err := env.Engine.UpdateClaimStatus(env.Ctx, claim.ID, domain.ClaimUnderReview, "tester")
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.ClaimUnderReview {
		t.Fatalf("expected under_review, got %s", updated.Status)
	}
	if _, err := env.Engine.UpdateClaimStatus(env.Ctx, claim.ID, "bogus", "tester"); err == nil {
		t.Fatalf("expected status validation error")
	}
}

func TestDeleteClaimCascades(t *testing.T) {
	env := newTestEnv(t)
	claim, suggestions := createClaim(t, env, 500)
	if err := env.Engine.DeleteClaim(env.Ctx, claim.ID, "tester"); err != nil {
		t.Fatalf("delete claim: %v", err)
	}
	if _, err := env.Engine.Repo.GetClaim(env.Ctx, claim.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("claim should be gone, got %v", err)
	}
	if _, err := env.Engine.Repo.GetSuggestion(env.Ctx, suggestions[0].ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("suggestions should cascade, got %v", err)
	}
}
