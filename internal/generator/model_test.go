package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"claimline/internal/domain"
)

func chatServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ModelClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewModelClient(ModelConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4-turbo-preview",
		Timeout: 2 * time.Second,
	})
	return srv, client
}

func chatBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestModelClientRecommend(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq chatRequest
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		content := `{"suggestions":[{"type":"deny_claim","description":"Deny the claim","confidence_score":0.9,"explanation":"Policy lapsed before date of loss","suggested_action":{"action":"deny"}}]}`
		w.Header().Set("Content-Type", "application/json")
		w.Write(chatBody(t, content))
	})

	candidates, err := client.Recommend(context.Background(), domain.Claim{
		ClaimNumber: "CLM-TEST", TotalAmount: 1200,
	})
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Model != "gpt-4-turbo-preview" || len(gotReq.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
	if len(candidates) != 1 || candidates[0].Type != domain.TypeDenyClaim {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}
	if client.ModelVersion() != "gpt-4-turbo-preview" {
		t.Fatalf("unexpected model version %s", client.ModelVersion())
	}
}

func TestModelClientStatusFailure(t *testing.T) {
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	_, err := client.Recommend(context.Background(), domain.Claim{})
	assertReason(t, err, ReasonStatus)
}

func TestModelClientMalformedContent(t *testing.T) {
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody(t, "I think you should approve this claim."))
	})
	_, err := client.Recommend(context.Background(), domain.Claim{})
	assertReason(t, err, ReasonDecode)
}

func TestModelClientNoChoices(t *testing.T) {
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	_, err := client.Recommend(context.Background(), domain.Claim{})
	assertReason(t, err, ReasonDecode)
}

func TestModelClientSchemaViolation(t *testing.T) {
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		content := `{"suggestions":[{"type":"escalate_to_manager","description":"x","confidence_score":0.9}]}`
		w.Write(chatBody(t, content))
	})
	_, err := client.Recommend(context.Background(), domain.Claim{})
	assertReason(t, err, ReasonSchema)
}

func TestModelClientEmptyBatch(t *testing.T) {
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatBody(t, `{"suggestions":[]}`))
	})
	_, err := client.Recommend(context.Background(), domain.Claim{})
	assertReason(t, err, ReasonEmpty)
}

func TestModelClientTimeout(t *testing.T) {
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(chatBody(t, `{"suggestions":[]}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Recommend(ctx, domain.Claim{})
	assertReason(t, err, ReasonRequest)
}

func TestClaimPromptIncludesVideoAnalysis(t *testing.T) {
	analysis := `{"damage_assessment":"severe"}`
	prompt, err := claimPrompt(domain.Claim{
		ClaimNumber:       "CLM-1",
		TotalAmount:       900,
		VideoAnalysisJSON: &analysis,
	})
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if !json.Valid([]byte(prompt[len("Analyze this insurance claim and recommend actions:\n"):])) {
		t.Fatalf("prompt snapshot is not JSON: %s", prompt)
	}
	if want := "damage_assessment"; !strings.Contains(prompt, want) {
		t.Fatalf("prompt missing %q: %s", want, prompt)
	}
}

func assertReason(t *testing.T, err error, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected failure")
	}
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GenerationError, got %T: %v", err, err)
	}
	if gerr.Reason != reason {
		t.Fatalf("expected reason %s, got %s (%v)", reason, gerr.Reason, err)
	}
}
