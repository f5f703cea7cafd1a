package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"claimline/internal/config"
	"claimline/internal/domain"
	"claimline/internal/events"
	"claimline/internal/generator"
	"claimline/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Generator generator.Generator
	Fallback  generator.Generator
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default("claimline")
	}
	primary := generator.NewModelClient(generator.ModelConfig{
		BaseURL:   cfg.Generator.BaseURL,
		APIKeyEnv: cfg.Generator.APIKeyEnv,
		Model:     cfg.Generator.Model,
		Timeout:   time.Duration(cfg.Generator.TimeoutSeconds) * time.Second,
	})
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Generator: primary,
		Fallback:  generator.RuleBased{},
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ClaimCreateOptions are parameters for creating a claim.
type ClaimCreateOptions struct {
	ID               string
	ClaimNumber      string
	PolicyNumber     string
	PolicyholderName string
	DateOfLoss       string
	Description      string
	TotalAmount      float64
	Items            []domain.ClaimItem
	ActorID          string
}

// CreateClaim persists a new claim and generates its first suggestion batch.
// The claim commit and the batch commit are separate transactions; a failure
// persisting suggestions leaves the claim in place.
func (e Engine) CreateClaim(ctx context.Context, opts ClaimCreateOptions) (domain.Claim, []domain.Suggestion, error) {
	if strings.TrimSpace(opts.PolicyNumber) == "" {
		return domain.Claim{}, nil, &repo.ValidationError{Field: "policy_number", Reason: "is required"}
	}
	if strings.TrimSpace(opts.PolicyholderName) == "" {
		return domain.Claim{}, nil, &repo.ValidationError{Field: "policyholder_name", Reason: "is required"}
	}
	if strings.TrimSpace(opts.DateOfLoss) == "" {
		return domain.Claim{}, nil, &repo.ValidationError{Field: "date_of_loss", Reason: "is required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	number := opts.ClaimNumber
	if number == "" {
		number = claimNumber(id)
	}
	total := opts.TotalAmount
	if total == 0 && len(opts.Items) > 0 {
		for _, item := range opts.Items {
			total += float64(item.Quantity) * item.UnitPrice
		}
	}
	if total < 0 {
		return domain.Claim{}, nil, &repo.ValidationError{Field: "total_amount", Reason: "must not be negative"}
	}
	c := domain.Claim{
		ID:               id,
		ClaimNumber:      number,
		PolicyNumber:     opts.PolicyNumber,
		PolicyholderName: opts.PolicyholderName,
		DateOfLoss:       opts.DateOfLoss,
		Description:      opts.Description,
		Status:           domain.ClaimSubmitted,
		TotalAmount:      total,
		Items:            opts.Items,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertClaimTx(ctx, tx, c); err != nil {
		return domain.Claim{}, nil, fmt.Errorf("insert claim: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ClaimCreated, "claim", c.ID, opts.ActorID, events.EventPayload{
		"claim_number": c.ClaimNumber,
		"total_amount": c.TotalAmount,
	}); err != nil {
		return domain.Claim{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, nil, err
	}

	suggestions, err := e.GenerateSuggestions(ctx, c.ID, opts.ActorID)
	if err != nil {
		return c, nil, err
	}
	return c, suggestions, nil
}

func claimNumber(id string) string {
	frag := strings.ReplaceAll(id, "-", "")
	if len(frag) > 8 {
		frag = frag[:8]
	}
	return "CLM-" + strings.ToUpper(frag)
}

// ClaimUpdateOptions carry replacement values; nil fields keep current ones.
type ClaimUpdateOptions struct {
	ID               string
	PolicyNumber     *string
	PolicyholderName *string
	DateOfLoss       *string
	Description      *string
	TotalAmount      *float64
	Items            []domain.ClaimItem
	ActorID          string
}

func (e Engine) UpdateClaim(ctx context.Context, opts ClaimUpdateOptions) (domain.Claim, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetClaimTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Claim{}, err
	}
	if opts.PolicyNumber != nil {
		c.PolicyNumber = *opts.PolicyNumber
	}
	if opts.PolicyholderName != nil {
		c.PolicyholderName = *opts.PolicyholderName
	}
	if opts.DateOfLoss != nil {
		c.DateOfLoss = *opts.DateOfLoss
	}
	if opts.Description != nil {
		c.Description = *opts.Description
	}
	if opts.TotalAmount != nil {
		if *opts.TotalAmount < 0 {
			return domain.Claim{}, &repo.ValidationError{Field: "total_amount", Reason: "must not be negative"}
		}
		c.TotalAmount = *opts.TotalAmount
	}
	if opts.Items != nil {
		c.Items = opts.Items
	}
	c.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateClaimTx(ctx, tx, c); err != nil {
		return domain.Claim{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ClaimUpdated, "claim", c.ID, opts.ActorID, nil); err != nil {
		return domain.Claim{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

func (e Engine) UpdateClaimStatus(ctx context.Context, id, status, actorID string) (domain.Claim, error) {
	if !domain.ValidClaimStatus(status) {
		return domain.Claim{}, &repo.ValidationError{Field: "status", Reason: "unknown status " + status}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetClaimTx(ctx, tx, id)
	if err != nil {
		return domain.Claim{}, err
	}
	previous := c.Status
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateClaimStatusTx(ctx, tx, id, status, now); err != nil {
		return domain.Claim{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ClaimStatusChanged, "claim", id, actorID, events.EventPayload{
		"from": previous,
		"to":   status,
	}); err != nil {
		return domain.Claim{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, err
	}
	c.Status = status
	c.UpdatedAt = now
	return c, nil
}

func (e Engine) DeleteClaim(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteClaimTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ClaimDeleted, "claim", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// AttachVideoAnalysis stores the analysis document and generates a fresh
// suggestion batch from the post-attach snapshot. The attach commits before
// generation starts so the generator never sees a half-written claim.
func (e Engine) AttachVideoAnalysis(ctx context.Context, claimID string, analysis map[string]any, actorID string) (domain.Claim, []domain.Suggestion, error) {
	if len(analysis) == 0 {
		return domain.Claim{}, nil, &repo.ValidationError{Field: "analysis", Reason: "is required"}
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return domain.Claim{}, nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, nil, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetVideoAnalysisTx(ctx, tx, claimID, string(payload), now); err != nil {
		return domain.Claim{}, nil, err
	}
	if err := e.Events.Append(ctx, tx, events.ClaimVideoAttached, "claim", claimID, actorID, nil); err != nil {
		return domain.Claim{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, nil, err
	}
	claim, err := e.Repo.GetClaim(ctx, claimID)
	if err != nil {
		return domain.Claim{}, nil, err
	}
	suggestions, err := e.GenerateSuggestions(ctx, claimID, actorID)
	if err != nil {
		return claim, nil, err
	}
	return claim, suggestions, nil
}

// ValidateVideo checks an upload against the configured constraints before
// any analysis work is attempted.
func (e Engine) ValidateVideo(contentType string, sizeBytes int64, durationSeconds float64) error {
	allowed := false
	for _, format := range e.Config.Video.AllowedFormats {
		if strings.EqualFold(format, contentType) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &repo.ValidationError{Field: "content_type", Reason: "unsupported video format " + contentType}
	}
	if sizeBytes > e.Config.Video.MaxSizeBytes {
		return &repo.ValidationError{Field: "size", Reason: fmt.Sprintf("exceeds maximum of %d bytes", e.Config.Video.MaxSizeBytes)}
	}
	if durationSeconds > e.Config.Video.MaxDurationSeconds {
		return &repo.ValidationError{Field: "duration", Reason: fmt.Sprintf("exceeds maximum of %.0f seconds", e.Config.Video.MaxDurationSeconds)}
	}
	return nil
}

// GenerateSuggestions runs the generator for a claim and appends the
// resulting batch as pending suggestions. The primary generator gets a
// single attempt within the configured budget; on any failure the rule-based
// fallback supplies the batch.
func (e Engine) GenerateSuggestions(ctx context.Context, claimID, actorID string) ([]domain.Suggestion, error) {
	claim, err := e.Repo.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	candidates, version := e.recommend(ctx, claim)
	return e.persistBatch(ctx, claimID, candidates, version, actorID, events.SuggestionsGenerated, nil)
}

func (e Engine) recommend(ctx context.Context, claim domain.Claim) ([]domain.Candidate, string) {
	if e.Generator != nil {
		budget := 30 * time.Second
		if e.Config != nil && e.Config.Generator.TimeoutSeconds > 0 {
			budget = time.Duration(e.Config.Generator.TimeoutSeconds) * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, budget)
		candidates, err := e.Generator.Recommend(cctx, claim)
		cancel()
		if err == nil {
			return candidates, e.Generator.ModelVersion()
		}
	}
	candidates, _ := e.Fallback.Recommend(ctx, claim)
	return candidates, e.Fallback.ModelVersion()
}

func (e Engine) persistBatch(ctx context.Context, claimID string, candidates []domain.Candidate, version, actorID, eventType string, extra events.EventPayload) ([]domain.Suggestion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	suggestions, err := e.insertBatchTx(ctx, tx, claimID, candidates, version)
	if err != nil {
		return nil, err
	}
	payload := events.EventPayload{
		"count":         len(suggestions),
		"model_version": version,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.Events.Append(ctx, tx, eventType, "claim", claimID, actorID, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (e Engine) insertBatchTx(ctx context.Context, tx *sql.Tx, claimID string, candidates []domain.Candidate, version string) ([]domain.Suggestion, error) {
	now := e.now().UTC().Format(time.RFC3339)
	suggestions := make([]domain.Suggestion, 0, len(candidates))
	for _, cand := range candidates {
		action, err := marshalAction(cand.SuggestedAction)
		if err != nil {
			return nil, err
		}
		s := domain.Suggestion{
			ID:                  uuid.NewString(),
			ClaimID:             claimID,
			Type:                cand.Type,
			Description:         cand.Description,
			ConfidenceScore:     cand.ConfidenceScore,
			Explanation:         cand.Explanation,
			SuggestedActionJSON: action,
			Status:              domain.SuggestionPending,
			ModelVersion:        version,
			CreatedAt:           now,
		}
		created, err := e.Repo.CreateSuggestionTx(ctx, tx, s)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, created)
	}
	return suggestions, nil
}

// SuggestionCreateOptions are parameters for creating a single suggestion
// outside a generator batch.
type SuggestionCreateOptions struct {
	ClaimID         string
	Type            string
	Description     string
	ConfidenceScore float64
	Explanation     string
	SuggestedAction map[string]any
	ModelVersion    string
	ActorID         string
}

func (e Engine) CreateSuggestion(ctx context.Context, opts SuggestionCreateOptions) (domain.Suggestion, error) {
	if _, err := e.Repo.GetClaim(ctx, opts.ClaimID); err != nil {
		return domain.Suggestion{}, err
	}
	action, err := marshalAction(opts.SuggestedAction)
	if err != nil {
		return domain.Suggestion{}, err
	}
	version := opts.ModelVersion
	if version == "" {
		version = "manual"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()
	s := domain.Suggestion{
		ID:                  uuid.NewString(),
		ClaimID:             opts.ClaimID,
		Type:                opts.Type,
		Description:         opts.Description,
		ConfidenceScore:     opts.ConfidenceScore,
		Explanation:         opts.Explanation,
		SuggestedActionJSON: action,
		Status:              domain.SuggestionPending,
		ModelVersion:        version,
		CreatedAt:           e.now().UTC().Format(time.RFC3339),
	}
	created, err := e.Repo.CreateSuggestionTx(ctx, tx, s)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SuggestionsGenerated, "claim", opts.ClaimID, opts.ActorID, events.EventPayload{
		"count":         1,
		"model_version": version,
	}); err != nil {
		return domain.Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suggestion{}, err
	}
	return created, nil
}

// ReviewOptions are parameters for the single review action.
type ReviewOptions struct {
	SuggestionID   string
	Status         string
	ReviewerID     string
	ReviewerNotes  *string
	ModifiedAction map[string]any
}

// ReviewSuggestion applies the one pending-to-terminal transition. A second
// review of the same suggestion fails with repo.ErrAlreadyReviewed and
// changes nothing.
func (e Engine) ReviewSuggestion(ctx context.Context, opts ReviewOptions) (domain.Suggestion, error) {
	if !domain.TerminalSuggestionStatus(opts.Status) {
		return domain.Suggestion{}, &repo.ValidationError{Field: "status", Reason: "must be accepted, rejected or modified"}
	}
	if strings.TrimSpace(opts.ReviewerID) == "" {
		return domain.Suggestion{}, &repo.ValidationError{Field: "reviewer_id", Reason: "is required"}
	}
	if opts.Status == domain.SuggestionModified && len(opts.ModifiedAction) == 0 {
		return domain.Suggestion{}, &repo.ValidationError{Field: "modified_action", Reason: "is required when status is modified"}
	}
	var modified *string
	if len(opts.ModifiedAction) > 0 {
		m, err := marshalAction(opts.ModifiedAction)
		if err != nil {
			return domain.Suggestion{}, err
		}
		modified = &m
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	reviewed, err := e.Repo.ReviewSuggestionTx(ctx, tx, opts.SuggestionID, opts.Status, opts.ReviewerID, opts.ReviewerNotes, modified, now)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SuggestionReviewed, "suggestion", opts.SuggestionID, opts.ReviewerID, events.EventPayload{
		"claim_id": reviewed.ClaimID,
		"status":   opts.Status,
	}); err != nil {
		return domain.Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suggestion{}, err
	}
	return reviewed, nil
}

// RegenerateSuggestions destructively replaces a claim's entire suggestion
// set with a freshly generated batch. Review history on the deleted rows is
// gone from the store; the regeneration event records what was removed.
func (e Engine) RegenerateSuggestions(ctx context.Context, claimID, actorID string) ([]domain.Suggestion, error) {
	claim, err := e.Repo.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	candidates, version := e.recommend(ctx, claim)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	deleted, err := e.Repo.DeleteSuggestionsByClaimTx(ctx, tx, claimID)
	if err != nil {
		return nil, err
	}
	suggestions, err := e.insertBatchTx(ctx, tx, claimID, candidates, version)
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, events.SuggestionsRegenerated, "claim", claimID, actorID, events.EventPayload{
		"deleted_count": len(deleted),
		"deleted_ids":   deleted,
		"count":         len(suggestions),
		"model_version": version,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (e Engine) DeleteSuggestion(ctx context.Context, id string) error {
	return e.Repo.DeleteSuggestion(ctx, id)
}

// SuggestionMetrics summarize the current suggestion population.
type SuggestionMetrics struct {
	Total             int            `json:"total_suggestions"`
	AcceptanceRate    float64        `json:"acceptance_rate"`
	RejectionRate     float64        `json:"rejection_rate"`
	ModificationRate  float64        `json:"modification_rate"`
	PendingCount      int            `json:"pending_count"`
	SuggestionsByType map[string]int `json:"suggestions_by_type"`
}

// Metrics computes rates fresh from the current store state. Rates are zero
// when the population is empty.
func (e Engine) Metrics(ctx context.Context) (SuggestionMetrics, error) {
	statusCounts, err := e.Repo.SuggestionStatusCounts(ctx)
	if err != nil {
		return SuggestionMetrics{}, err
	}
	typeCounts, err := e.Repo.SuggestionTypeCounts(ctx)
	if err != nil {
		return SuggestionMetrics{}, err
	}
	total := 0
	for _, n := range statusCounts {
		total += n
	}
	m := SuggestionMetrics{
		Total:             total,
		PendingCount:      statusCounts[domain.SuggestionPending],
		SuggestionsByType: typeCounts,
	}
	if total > 0 {
		m.AcceptanceRate = float64(statusCounts[domain.SuggestionAccepted]) / float64(total)
		m.RejectionRate = float64(statusCounts[domain.SuggestionRejected]) / float64(total)
		m.ModificationRate = float64(statusCounts[domain.SuggestionModified]) / float64(total)
	}
	return m, nil
}

// HighConfidence returns suggestions at or above the threshold. A
// non-positive threshold falls back to the configured default.
func (e Engine) HighConfidence(ctx context.Context, threshold float64) ([]domain.Suggestion, error) {
	if threshold <= 0 {
		threshold = e.Config.Review.HighConfidenceThreshold
	}
	if threshold > 1 {
		return nil, &repo.ValidationError{Field: "threshold", Reason: "must be within [0,1]"}
	}
	return e.Repo.HighConfidenceSuggestions(ctx, threshold)
}

func (e Engine) PendingSuggestions(ctx context.Context) ([]domain.Suggestion, error) {
	return e.Repo.PendingSuggestions(ctx)
}

// ClaimMetrics summarize the claim population.
type ClaimMetrics struct {
	TotalClaims    int            `json:"total_claims"`
	TotalAmount    float64        `json:"total_amount"`
	ClaimsByStatus map[string]int `json:"claims_by_status"`
}

func (e Engine) ClaimMetricsReport(ctx context.Context) (ClaimMetrics, error) {
	count, total, err := e.Repo.ClaimTotals(ctx)
	if err != nil {
		return ClaimMetrics{}, err
	}
	byStatus, err := e.Repo.ClaimStatusCounts(ctx)
	if err != nil {
		return ClaimMetrics{}, err
	}
	return ClaimMetrics{TotalClaims: count, TotalAmount: total, ClaimsByStatus: byStatus}, nil
}

// RecentClaims returns claims created within the last given number of days.
func (e Engine) RecentClaims(ctx context.Context, days int) ([]domain.Claim, error) {
	if days <= 0 {
		days = 7
	}
	since := e.now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
	return e.Repo.RecentClaims(ctx, since)
}

func marshalAction(action map[string]any) (string, error) {
	if len(action) == 0 {
		return "", nil
	}
	data, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("marshal suggested action: %w", err)
	}
	return string(data), nil
}
