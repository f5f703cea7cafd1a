package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"claimline/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ModelConfig configures the generative model client.
type ModelConfig struct {
	BaseURL   string
	APIKey    string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// ModelClient calls an OpenAI-compatible chat completions endpoint. A single
// attempt per Recommend call; any failure is surfaced as a GenerationError
// and recovery is the caller's fallback, not a retry.
type ModelClient struct {
	cfg  ModelConfig
	http *http.Client
}

func NewModelClient(cfg ModelConfig) *ModelClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIKey == "" {
		env := cfg.APIKeyEnv
		if env == "" {
			env = "OPENAI_API_KEY"
		}
		cfg.APIKey = strings.TrimSpace(os.Getenv(env))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ModelClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *ModelClient) ModelVersion() string { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type suggestionsPayload struct {
	Suggestions []domain.Candidate `json:"suggestions"`
}

const systemInstruction = `You are an insurance claims analyst. Analyze the claim and produce recommendations.
Respond with a JSON object of the form {"suggestions": [...]} where each entry has exactly these fields:
- "type": one of approve_claim, deny_claim, request_info, flag_fraud, adjust_amount, replace_item, repair_item
- "description": short summary of the recommendation
- "confidence_score": number between 0.0 and 1.0
- "explanation": rationale for the recommendation
- "suggested_action": object describing the concrete action to take`

func (c *ModelClient) Recommend(ctx context.Context, claim domain.Claim) ([]domain.Candidate, error) {
	userPrompt, err := claimPrompt(claim)
	if err != nil {
		return nil, failure(ReasonRequest, err)
	}
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, failure(ReasonRequest, err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, failure(ReasonRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, failure(ReasonRequest, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, failure(ReasonRequest, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, failure(ReasonStatus, fmt.Errorf("model endpoint returned %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, failure(ReasonDecode, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, failure(ReasonDecode, fmt.Errorf("response has no choices"))
	}
	var out suggestionsPayload
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &out); err != nil {
		return nil, failure(ReasonDecode, fmt.Errorf("content is not a suggestions document: %w", err))
	}
	if err := validateCandidates(out.Suggestions); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func claimPrompt(claim domain.Claim) (string, error) {
	snapshot := map[string]any{
		"claim_number":      claim.ClaimNumber,
		"policy_number":     claim.PolicyNumber,
		"policyholder_name": claim.PolicyholderName,
		"date_of_loss":      claim.DateOfLoss,
		"description":       claim.Description,
		"status":            claim.Status,
		"total_amount":      claim.TotalAmount,
		"item_count":        len(claim.Items),
	}
	if len(claim.Items) > 0 {
		snapshot["items"] = claim.Items
	}
	if claim.VideoAnalysisJSON != nil && *claim.VideoAnalysisJSON != "" {
		var analysis any
		if err := json.Unmarshal([]byte(*claim.VideoAnalysisJSON), &analysis); err == nil {
			snapshot["video_analysis"] = analysis
		}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", err
	}
	return "Analyze this insurance claim and recommend actions:\n" + string(data), nil
}
