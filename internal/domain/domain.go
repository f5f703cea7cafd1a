package domain

// Claim statuses.
const (
	ClaimSubmitted   = "submitted"
	ClaimUnderReview = "under_review"
	ClaimApproved    = "approved"
	ClaimDenied      = "denied"
	ClaimClosed      = "closed"
)

// Suggestion statuses. A suggestion leaves pending at most once.
const (
	SuggestionPending  = "pending"
	SuggestionAccepted = "accepted"
	SuggestionRejected = "rejected"
	SuggestionModified = "modified"
)

// Suggestion types.
const (
	TypeApproveClaim = "approve_claim"
	TypeDenyClaim    = "deny_claim"
	TypeRequestInfo  = "request_info"
	TypeFlagFraud    = "flag_fraud"
	TypeAdjustAmount = "adjust_amount"
	TypeReplaceItem  = "replace_item"
	TypeRepairItem   = "repair_item"
)

var claimStatuses = map[string]struct{}{
	ClaimSubmitted:   {},
	ClaimUnderReview: {},
	ClaimApproved:    {},
	ClaimDenied:      {},
	ClaimClosed:      {},
}

var suggestionStatuses = map[string]struct{}{
	SuggestionPending:  {},
	SuggestionAccepted: {},
	SuggestionRejected: {},
	SuggestionModified: {},
}

var suggestionTypes = map[string]struct{}{
	TypeApproveClaim: {},
	TypeDenyClaim:    {},
	TypeRequestInfo:  {},
	TypeFlagFraud:    {},
	TypeAdjustAmount: {},
	TypeReplaceItem:  {},
	TypeRepairItem:   {},
}

func ValidClaimStatus(s string) bool {
	_, ok := claimStatuses[s]
	return ok
}

func ValidSuggestionStatus(s string) bool {
	_, ok := suggestionStatuses[s]
	return ok
}

// TerminalSuggestionStatus reports whether s is a valid review outcome.
func TerminalSuggestionStatus(s string) bool {
	return ValidSuggestionStatus(s) && s != SuggestionPending
}

func ValidSuggestionType(t string) bool {
	_, ok := suggestionTypes[t]
	return ok
}

// SuggestionTypes returns the closed type enumeration in a stable order.
func SuggestionTypes() []string {
	return []string{
		TypeApproveClaim,
		TypeDenyClaim,
		TypeRequestInfo,
		TypeFlagFraud,
		TypeAdjustAmount,
		TypeReplaceItem,
		TypeRepairItem,
	}
}

type ClaimItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

type Claim struct {
	ID                string      `json:"id"`
	ClaimNumber       string      `json:"claim_number"`
	PolicyNumber      string      `json:"policy_number"`
	PolicyholderName  string      `json:"policyholder_name"`
	DateOfLoss        string      `json:"date_of_loss" format:"date-time"`
	Description       string      `json:"description,omitempty"`
	Status            string      `json:"status" enum:"submitted,under_review,approved,denied,closed"`
	TotalAmount       float64     `json:"total_amount"`
	Items             []ClaimItem `json:"items,omitempty"`
	VideoAnalysisJSON *string     `json:"video_analysis_json,omitempty"`
	HasVideo          bool        `json:"has_video"`
	CreatedAt         string      `json:"created_at" format:"date-time"`
	UpdatedAt         string      `json:"updated_at" format:"date-time"`
}

type Suggestion struct {
	ID                  string  `json:"id"`
	ClaimID             string  `json:"claim_id"`
	Type                string  `json:"type" enum:"approve_claim,deny_claim,request_info,flag_fraud,adjust_amount,replace_item,repair_item"`
	Description         string  `json:"description"`
	ConfidenceScore     float64 `json:"confidence_score" minimum:"0" maximum:"1"`
	Explanation         string  `json:"explanation,omitempty"`
	SuggestedActionJSON string  `json:"suggested_action_json,omitempty"`
	Status              string  `json:"status" enum:"pending,accepted,rejected,modified"`
	ModelVersion        string  `json:"model_version"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	ReviewedAt          *string `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewerID          *string `json:"reviewer_id,omitempty"`
	ReviewerNotes       *string `json:"reviewer_notes,omitempty"`
}

// Candidate is an unpersisted suggestion payload produced by a generator,
// prior to validation and storage.
type Candidate struct {
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	ConfidenceScore float64        `json:"confidence_score"`
	Explanation     string         `json:"explanation,omitempty"`
	SuggestedAction map[string]any `json:"suggested_action,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
