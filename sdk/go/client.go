package claimlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Claimline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Claim represents the API claim model (partial).
type Claim struct {
	ID               string  `json:"id"`
	ClaimNumber      string  `json:"claim_number"`
	PolicyNumber     string  `json:"policy_number"`
	PolicyholderName string  `json:"policyholder_name"`
	DateOfLoss       string  `json:"date_of_loss"`
	Status           string  `json:"status"`
	TotalAmount      float64 `json:"total_amount"`
	HasVideo         bool    `json:"has_video"`
	CreatedAt        string  `json:"created_at"`
}

// Suggestion represents an AI recommendation under review.
type Suggestion struct {
	ID              string         `json:"id"`
	ClaimID         string         `json:"claim_id"`
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	ConfidenceScore float64        `json:"confidence_score"`
	Explanation     string         `json:"explanation"`
	SuggestedAction map[string]any `json:"suggested_action,omitempty"`
	Status          string         `json:"status"`
	ModelVersion    string         `json:"model_version"`
	CreatedAt       string         `json:"created_at"`
	ReviewerID      *string        `json:"reviewer_id,omitempty"`
	ReviewerNotes   *string        `json:"reviewer_notes,omitempty"`
}

// SuggestionMetrics summarize the suggestion population.
type SuggestionMetrics struct {
	TotalSuggestions  int            `json:"total_suggestions"`
	AcceptanceRate    float64        `json:"acceptance_rate"`
	RejectionRate     float64        `json:"rejection_rate"`
	ModificationRate  float64        `json:"modification_rate"`
	PendingCount      int            `json:"pending_count"`
	SuggestionsByType map[string]int `json:"suggestions_by_type"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

type createClaimResponse struct {
	Claim       Claim        `json:"claim"`
	Suggestions []Suggestion `json:"suggestions"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateClaim creates a claim and returns it with its first suggestion batch.
func (c *Client) CreateClaim(ctx context.Context, policyNumber, policyholderName, dateOfLoss string, totalAmount float64) (Claim, []Suggestion, error) {
	body := map[string]any{
		"policy_number":     policyNumber,
		"policyholder_name": policyholderName,
		"date_of_loss":      dateOfLoss,
		"total_amount":      totalAmount,
	}
	var resp createClaimResponse
	err := c.do(ctx, http.MethodPost, "claims", body, &resp)
	return resp.Claim, resp.Suggestions, err
}

// GetClaim fetches a claim by id.
func (c *Client) GetClaim(ctx context.Context, id string) (Claim, error) {
	var resp Claim
	err := c.do(ctx, http.MethodGet, "claims/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListClaims returns claims, optionally filtered by status.
func (c *Client) ListClaims(ctx context.Context, status string) ([]Claim, error) {
	endpoint := "claims"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Claim
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GenerateSuggestions appends a fresh suggestion batch for a claim.
func (c *Client) GenerateSuggestions(ctx context.Context, claimID string) ([]Suggestion, error) {
	var resp []Suggestion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("claims/%s/suggestions/generate", url.PathEscape(claimID)), nil, &resp)
	return resp, err
}

// RegenerateSuggestions replaces a claim's suggestion set.
func (c *Client) RegenerateSuggestions(ctx context.Context, claimID string) ([]Suggestion, error) {
	var resp []Suggestion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("claims/%s/suggestions/regenerate", url.PathEscape(claimID)), nil, &resp)
	return resp, err
}

// ClaimSuggestions lists a claim's suggestions, newest first.
func (c *Client) ClaimSuggestions(ctx context.Context, claimID, status string) ([]Suggestion, error) {
	endpoint := fmt.Sprintf("claims/%s/suggestions", url.PathEscape(claimID))
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Suggestion
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReviewSuggestion applies a review decision to a pending suggestion.
func (c *Client) ReviewSuggestion(ctx context.Context, id, status, notes string, modifiedAction map[string]any) (Suggestion, error) {
	body := map[string]any{"status": status}
	if notes != "" {
		body["reviewer_notes"] = notes
	}
	if len(modifiedAction) > 0 {
		body["modified_action"] = modifiedAction
	}
	var resp Suggestion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("suggestions/%s/review", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Metrics returns suggestion population metrics.
func (c *Client) Metrics(ctx context.Context) (SuggestionMetrics, error) {
	var resp SuggestionMetrics
	err := c.do(ctx, http.MethodGet, "suggestions/metrics", nil, &resp)
	return resp, err
}

// HighConfidence returns suggestions at or above the threshold.
func (c *Client) HighConfidence(ctx context.Context, threshold float64) ([]Suggestion, error) {
	endpoint := "suggestions/high-confidence"
	if threshold > 0 {
		endpoint += fmt.Sprintf("?threshold=%g", threshold)
	}
	var resp []Suggestion
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Pending returns suggestions awaiting review.
func (c *Client) Pending(ctx context.Context) ([]Suggestion, error) {
	var resp []Suggestion
	err := c.do(ctx, http.MethodGet, "suggestions/pending", nil, &resp)
	return resp, err
}

// Events returns events after the given cursor id.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("events?after=%d", after)
	if limit > 0 {
		endpoint += fmt.Sprintf("&limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
