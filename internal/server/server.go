package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"claimline/internal/domain"
	"claimline/internal/engine"
	"claimline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_reviewed"`
	Message string         `json:"message" example:"suggestion has already been reviewed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Claimline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(raw))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Claimline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerClaims(group, cfg.Engine)
	registerSuggestions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *repo.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrAlreadyReviewed) {
		return newAPIError(http.StatusConflict, "already_reviewed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if raw, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return raw
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Claimline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerClaims(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-claim",
		Method:        http.MethodPost,
		Path:          "/claims",
		Summary:       "Create claim",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateClaimRequest `json:"body"`
	}) (*struct {
		Body struct {
			Claim       ClaimResponse        `json:"claim"`
			Suggestions []SuggestionResponse `json:"suggestions"`
		} `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ClaimCreateOptions{
			PolicyNumber:     input.Body.PolicyNumber,
			PolicyholderName: input.Body.PolicyholderName,
			DateOfLoss:       input.Body.DateOfLoss,
			Items:            claimItems(input.Body.Items),
			ActorID:          actorID,
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.TotalAmount != nil {
			opts.TotalAmount = *input.Body.TotalAmount
		}
		claim, suggestions, err := e.CreateClaim(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Claim       ClaimResponse        `json:"claim"`
				Suggestions []SuggestionResponse `json:"suggestions"`
			} `json:"body"`
		}{}
		out.Body.Claim = claimResponse(claim)
		out.Body.Suggestions = mapSuggestions(suggestions)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-claims",
		Method:      http.MethodGet,
		Path:        "/claims",
		Summary:     "List claims",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status" enum:"submitted,under_review,approved,denied,closed" required:"false"`
		PolicyNumber string `query:"policy_number" required:"false"`
		Limit        int    `query:"limit" required:"false"`
	}) (*struct {
		Body []ClaimResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListClaims(ctx, repo.ClaimFilters{
			Status:       input.Status,
			PolicyNumber: input.PolicyNumber,
			Limit:        normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ClaimResponse `json:"body"`
		}{Body: mapClaims(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-claims",
		Method:      http.MethodGet,
		Path:        "/claims/recent",
		Summary:     "Claims created in the last days",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Days int `query:"days" required:"false"`
	}) (*struct {
		Body []ClaimResponse `json:"body"`
	}, error) {
		items, err := e.RecentClaims(ctx, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ClaimResponse `json:"body"`
		}{Body: mapClaims(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claims-with-video-analysis",
		Method:      http.MethodGet,
		Path:        "/claims/with-video-analysis",
		Summary:     "Claims carrying a video analysis document",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ClaimResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ClaimsWithVideoAnalysis(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ClaimResponse `json:"body"`
		}{Body: mapClaims(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-metrics",
		Method:      http.MethodGet,
		Path:        "/claims/metrics",
		Summary:     "Claim population metrics",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ClaimMetricsResponse `json:"body"`
	}, error) {
		m, err := e.ClaimMetricsReport(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		byStatus := m.ClaimsByStatus
		if byStatus == nil {
			byStatus = map[string]int{}
		}
		return &struct {
			Body ClaimMetricsResponse `json:"body"`
		}{Body: ClaimMetricsResponse{
			TotalClaims:    m.TotalClaims,
			TotalAmount:    m.TotalAmount,
			ClaimsByStatus: byStatus,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-claim",
		Method:      http.MethodGet,
		Path:        "/claims/{claim_id}",
		Summary:     "Get claim",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ClaimID string `path:"claim_id"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetClaim(ctx, input.ClaimID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: claimResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-claim",
		Method:      http.MethodPut,
		Path:        "/claims/{claim_id}",
		Summary:     "Update claim",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ClaimID string             `path:"claim_id"`
		Body    UpdateClaimRequest `json:"body"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateClaim(ctx, engine.ClaimUpdateOptions{
			ID:               input.ClaimID,
			PolicyNumber:     input.Body.PolicyNumber,
			PolicyholderName: input.Body.PolicyholderName,
			DateOfLoss:       input.Body.DateOfLoss,
			Description:      input.Body.Description,
			TotalAmount:      input.Body.TotalAmount,
			Items:            claimItems(input.Body.Items),
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: claimResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-claim-status",
		Method:      http.MethodPatch,
		Path:        "/claims/{claim_id}/status",
		Summary:     "Update claim status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ClaimID string             `path:"claim_id"`
		Body    ClaimStatusRequest `json:"body"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateClaimStatus(ctx, input.ClaimID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: claimResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-claim",
		Method:      http.MethodDelete,
		Path:        "/claims/{claim_id}",
		Summary:     "Delete claim",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClaimID string `path:"claim_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteClaim(ctx, input.ClaimID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-video-analysis",
		Method:      http.MethodPost,
		Path:        "/claims/{claim_id}/video-analysis",
		Summary:     "Attach video analysis and regenerate recommendations",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ClaimID string               `path:"claim_id"`
		Body    VideoAnalysisRequest `json:"body"`
	}) (*struct {
		Body struct {
			Claim       ClaimResponse        `json:"claim"`
			Suggestions []SuggestionResponse `json:"suggestions"`
		} `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ContentType != "" {
			if err := e.ValidateVideo(input.Body.ContentType, input.Body.SizeBytes, input.Body.DurationSeconds); err != nil {
				return nil, handleError(err)
			}
		}
		claim, suggestions, err := e.AttachVideoAnalysis(ctx, input.ClaimID, input.Body.Analysis, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Claim       ClaimResponse        `json:"claim"`
				Suggestions []SuggestionResponse `json:"suggestions"`
			} `json:"body"`
		}{}
		out.Body.Claim = claimResponse(claim)
		out.Body.Suggestions = mapSuggestions(suggestions)
		return out, nil
	})
}

func registerSuggestions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-suggestions",
		Method:      http.MethodPost,
		Path:        "/claims/{claim_id}/suggestions/generate",
		Summary:     "Generate a suggestion batch for a claim",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClaimID string `path:"claim_id"`
	}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		suggestions, err := e.GenerateSuggestions(ctx, input.ClaimID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(suggestions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "regenerate-suggestions",
		Method:      http.MethodPost,
		Path:        "/claims/{claim_id}/suggestions/regenerate",
		Summary:     "Replace a claim's suggestion set with a fresh batch",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClaimID string `path:"claim_id"`
	}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		suggestions, err := e.RegenerateSuggestions(ctx, input.ClaimID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(suggestions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-claim-suggestions",
		Method:      http.MethodGet,
		Path:        "/claims/{claim_id}/suggestions",
		Summary:     "List a claim's suggestions, newest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClaimID string `path:"claim_id"`
		Status  string `query:"status" enum:"pending,accepted,rejected,modified" required:"false"`
	}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetClaim(ctx, input.ClaimID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSuggestions(ctx, repo.SuggestionFilters{
			ClaimID: input.ClaimID,
			Status:  input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-suggestion",
		Method:        http.MethodPost,
		Path:          "/suggestions",
		Summary:       "Create a suggestion",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSuggestionRequest `json:"body"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SuggestionCreateOptions{
			ClaimID:         input.Body.ClaimID,
			Type:            input.Body.Type,
			Description:     input.Body.Description,
			ConfidenceScore: input.Body.ConfidenceScore,
			SuggestedAction: input.Body.SuggestedAction,
			ActorID:         actorID,
		}
		if input.Body.Explanation != nil {
			opts.Explanation = *input.Body.Explanation
		}
		if input.Body.ModelVersion != nil {
			opts.ModelVersion = *input.Body.ModelVersion
		}
		s, err := e.CreateSuggestion(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suggestions",
		Method:      http.MethodGet,
		Path:        "/suggestions",
		Summary:     "List suggestions with optional filters",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ClaimID string `query:"claim_id" required:"false"`
		Status  string `query:"status" enum:"pending,accepted,rejected,modified" required:"false"`
		Type    string `query:"type" enum:"approve_claim,deny_claim,request_info,flag_fraud,adjust_amount,replace_item,repair_item" required:"false"`
		Limit   int    `query:"limit" required:"false"`
	}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSuggestions(ctx, repo.SuggestionFilters{
			ClaimID: input.ClaimID,
			Status:  input.Status,
			Type:    input.Type,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggestion-metrics",
		Method:      http.MethodGet,
		Path:        "/suggestions/metrics",
		Summary:     "Suggestion population metrics",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SuggestionMetricsResponse `json:"body"`
	}, error) {
		m, err := e.Metrics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionMetricsResponse `json:"body"`
		}{Body: suggestionMetricsResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "high-confidence-suggestions",
		Method:      http.MethodGet,
		Path:        "/suggestions/high-confidence",
		Summary:     "Suggestions at or above a confidence threshold",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Threshold float64 `query:"threshold" required:"false"`
	}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		items, err := e.HighConfidence(ctx, input.Threshold)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-suggestions",
		Method:      http.MethodGet,
		Path:        "/suggestions/pending",
		Summary:     "Suggestions awaiting review",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		items, err := e.PendingSuggestions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-suggestion",
		Method:      http.MethodGet,
		Path:        "/suggestions/{suggestion_id}",
		Summary:     "Get suggestion",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuggestionID string `path:"suggestion_id"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSuggestion(ctx, input.SuggestionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-suggestion",
		Method:      http.MethodPost,
		Path:        "/suggestions/{suggestion_id}/review",
		Summary:     "Review a pending suggestion",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SuggestionID string                  `path:"suggestion_id"`
		Body         ReviewSuggestionRequest `json:"body"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reviewerID := actorID
		if input.Body.ReviewerID != nil && *input.Body.ReviewerID != "" {
			reviewerID = *input.Body.ReviewerID
		}
		s, err := e.ReviewSuggestion(ctx, engine.ReviewOptions{
			SuggestionID:   input.SuggestionID,
			Status:         input.Body.Status,
			ReviewerID:     reviewerID,
			ReviewerNotes:  input.Body.ReviewerNotes,
			ModifiedAction: input.Body.ModifiedAction,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-suggestion",
		Method:      http.MethodDelete,
		Path:        "/suggestions/{suggestion_id}",
		Summary:     "Delete suggestion",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SuggestionID string `path:"suggestion_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSuggestion(ctx, input.SuggestionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events after a cursor",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" required:"false"`
		Limit int   `query:"limit" required:"false"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.EventsAfter(ctx, normalizeLimit(input.Limit), input.After)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rawKey := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			KeyHash: repo.HashAPIKey(rawKey),
		}
		if input.Body.Name != nil {
			key.Name = *input.Body.Name
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		res := apiKeyResponse(key)
		res.Key = rawKey
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id" required:"false"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > 500 {
		return 500
	}
	return limit
}
