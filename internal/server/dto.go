package server

import (
	"encoding/json"

	"claimline/internal/domain"
	"claimline/internal/engine"
)

// Request payloads

type ClaimItemRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Quantity    int     `json:"quantity" minimum:"1"`
	UnitPrice   float64 `json:"unit_price" minimum:"0"`
}

type CreateClaimRequest struct {
	PolicyNumber     string             `json:"policy_number"`
	PolicyholderName string             `json:"policyholder_name"`
	DateOfLoss       string             `json:"date_of_loss" format:"date-time"`
	Description      *string            `json:"description,omitempty"`
	TotalAmount      *float64           `json:"total_amount,omitempty" minimum:"0"`
	Items            []ClaimItemRequest `json:"items,omitempty"`
}

type UpdateClaimRequest struct {
	PolicyNumber     *string            `json:"policy_number,omitempty"`
	PolicyholderName *string            `json:"policyholder_name,omitempty"`
	DateOfLoss       *string            `json:"date_of_loss,omitempty" format:"date-time"`
	Description      *string            `json:"description,omitempty"`
	TotalAmount      *float64           `json:"total_amount,omitempty" minimum:"0"`
	Items            []ClaimItemRequest `json:"items,omitempty"`
}

type ClaimStatusRequest struct {
	Status string `json:"status" enum:"submitted,under_review,approved,denied,closed"`
}

type VideoAnalysisRequest struct {
	ContentType     string         `json:"content_type"`
	SizeBytes       int64          `json:"size_bytes" minimum:"0"`
	DurationSeconds float64        `json:"duration_seconds" minimum:"0"`
	Analysis        map[string]any `json:"analysis"`
}

type CreateSuggestionRequest struct {
	ClaimID         string         `json:"claim_id"`
	Type            string         `json:"type" enum:"approve_claim,deny_claim,request_info,flag_fraud,adjust_amount,replace_item,repair_item"`
	Description     string         `json:"description"`
	ConfidenceScore float64        `json:"confidence_score"`
	Explanation     *string        `json:"explanation,omitempty"`
	SuggestedAction map[string]any `json:"suggested_action,omitempty"`
	ModelVersion    *string        `json:"model_version,omitempty"`
}

type ReviewSuggestionRequest struct {
	Status         string         `json:"status" enum:"accepted,rejected,modified"`
	ReviewerID     *string        `json:"reviewer_id,omitempty"`
	ReviewerNotes  *string        `json:"reviewer_notes,omitempty"`
	ModifiedAction map[string]any `json:"modified_action,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string  `json:"actor_id"`
	Name    *string `json:"name,omitempty"`
}

// Response payloads

type ClaimResponse struct {
	ID               string             `json:"id"`
	ClaimNumber      string             `json:"claim_number"`
	PolicyNumber     string             `json:"policy_number"`
	PolicyholderName string             `json:"policyholder_name"`
	DateOfLoss       string             `json:"date_of_loss" format:"date-time"`
	Description      string             `json:"description,omitempty"`
	Status           string             `json:"status" enum:"submitted,under_review,approved,denied,closed"`
	TotalAmount      float64            `json:"total_amount"`
	Items            []domain.ClaimItem `json:"items,omitempty"`
	VideoAnalysis    map[string]any     `json:"video_analysis,omitempty" jsonschema:"type=object,additionalProperties=true"`
	HasVideo         bool               `json:"has_video"`
	CreatedAt        string             `json:"created_at" format:"date-time"`
	UpdatedAt        string             `json:"updated_at" format:"date-time"`
}

type SuggestionResponse struct {
	ID              string         `json:"id"`
	ClaimID         string         `json:"claim_id"`
	Type            string         `json:"type" enum:"approve_claim,deny_claim,request_info,flag_fraud,adjust_amount,replace_item,repair_item"`
	Description     string         `json:"description"`
	ConfidenceScore float64        `json:"confidence_score"`
	Explanation     string         `json:"explanation,omitempty"`
	SuggestedAction map[string]any `json:"suggested_action,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Status          string         `json:"status" enum:"pending,accepted,rejected,modified"`
	ModelVersion    string         `json:"model_version"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	ReviewedAt      *string        `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewerID      *string        `json:"reviewer_id,omitempty"`
	ReviewerNotes   *string        `json:"reviewer_notes,omitempty"`
}

type SuggestionMetricsResponse struct {
	TotalSuggestions  int            `json:"total_suggestions"`
	AcceptanceRate    float64        `json:"acceptance_rate"`
	RejectionRate     float64        `json:"rejection_rate"`
	ModificationRate  float64        `json:"modification_rate"`
	PendingCount      int            `json:"pending_count"`
	SuggestionsByType map[string]int `json:"suggestions_by_type"`
}

type ClaimMetricsResponse struct {
	TotalClaims    int            `json:"total_claims"`
	TotalAmount    float64        `json:"total_amount"`
	ClaimsByStatus map[string]int `json:"claims_by_status"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only populated on creation.
	Key string `json:"key,omitempty"`
}

// Conversions

func claimResponse(c domain.Claim) ClaimResponse {
	res := ClaimResponse{
		ID:               c.ID,
		ClaimNumber:      c.ClaimNumber,
		PolicyNumber:     c.PolicyNumber,
		PolicyholderName: c.PolicyholderName,
		DateOfLoss:       c.DateOfLoss,
		Description:      c.Description,
		Status:           c.Status,
		TotalAmount:      c.TotalAmount,
		Items:            c.Items,
		HasVideo:         c.HasVideo,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if c.VideoAnalysisJSON != nil {
		res.VideoAnalysis = decodeJSONMap(*c.VideoAnalysisJSON)
	}
	return res
}

func mapClaims(claims []domain.Claim) []ClaimResponse {
	res := make([]ClaimResponse, 0, len(claims))
	for _, c := range claims {
		res = append(res, claimResponse(c))
	}
	return res
}

func suggestionResponse(s domain.Suggestion) SuggestionResponse {
	return SuggestionResponse{
		ID:              s.ID,
		ClaimID:         s.ClaimID,
		Type:            s.Type,
		Description:     s.Description,
		ConfidenceScore: s.ConfidenceScore,
		Explanation:     s.Explanation,
		SuggestedAction: decodeJSONMap(s.SuggestedActionJSON),
		Status:          s.Status,
		ModelVersion:    s.ModelVersion,
		CreatedAt:       s.CreatedAt,
		ReviewedAt:      s.ReviewedAt,
		ReviewerID:      s.ReviewerID,
		ReviewerNotes:   s.ReviewerNotes,
	}
}

func mapSuggestions(suggestions []domain.Suggestion) []SuggestionResponse {
	res := make([]SuggestionResponse, 0, len(suggestions))
	for _, s := range suggestions {
		res = append(res, suggestionResponse(s))
	}
	return res
}

func suggestionMetricsResponse(m engine.SuggestionMetrics) SuggestionMetricsResponse {
	byType := m.SuggestionsByType
	if byType == nil {
		byType = map[string]int{}
	}
	return SuggestionMetricsResponse{
		TotalSuggestions:  m.Total,
		AcceptanceRate:    m.AcceptanceRate,
		RejectionRate:     m.RejectionRate,
		ModificationRate:  m.ModificationRate,
		PendingCount:      m.PendingCount,
		SuggestionsByType: byType,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapEvents(events []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(events))
	for _, e := range events {
		res = append(res, eventResponse(e))
	}
	return res
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func claimItems(items []ClaimItemRequest) []domain.ClaimItem {
	if len(items) == 0 {
		return nil
	}
	res := make([]domain.ClaimItem, 0, len(items))
	for _, item := range items {
		d := domain.ClaimItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
		if item.Description != nil {
			d.Description = *item.Description
		}
		res = append(res, d)
	}
	return res
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
