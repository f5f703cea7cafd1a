package repo

import (
	"context"
	"database/sql"
	"strings"

	"claimline/internal/domain"
)

// SuggestionFilters are conjunctive; zero values mean no filter.
type SuggestionFilters struct {
	ClaimID string
	Status  string
	Type    string
	Limit   int
}

const suggestionColumns = `id,claim_id,type,description,confidence_score,COALESCE(explanation,''),COALESCE(suggested_action_json,''),status,model_version,created_at,reviewed_at,reviewer_id,reviewer_notes`

func validateSuggestion(s domain.Suggestion) error {
	if !domain.ValidSuggestionType(s.Type) {
		return &ValidationError{Field: "type", Reason: "must be one of " + strings.Join(domain.SuggestionTypes(), ", ")}
	}
	if !domain.ValidSuggestionStatus(s.Status) {
		return &ValidationError{Field: "status", Reason: "unknown status " + s.Status}
	}
	if s.ConfidenceScore < 0 || s.ConfidenceScore > 1 {
		return &ValidationError{Field: "confidence_score", Reason: "must be within [0,1]"}
	}
	return nil
}

// CreateSuggestionTx validates and inserts a suggestion. Out-of-range
// confidence or an unknown type/status is rejected, never clamped.
func (r Repo) CreateSuggestionTx(ctx context.Context, tx *sql.Tx, s domain.Suggestion) (domain.Suggestion, error) {
	if err := validateSuggestion(s); err != nil {
		return domain.Suggestion{}, err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO suggestions(id,claim_id,type,description,confidence_score,explanation,suggested_action_json,status,model_version,created_at,reviewed_at,reviewer_id,reviewer_notes)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ClaimID, s.Type, s.Description, s.ConfidenceScore, nullable(s.Explanation), nullable(s.SuggestedActionJSON),
		s.Status, s.ModelVersion, s.CreatedAt, nullableStringPtr(s.ReviewedAt), nullableStringPtr(s.ReviewerID), nullableStringPtr(s.ReviewerNotes))
	if err != nil {
		return domain.Suggestion{}, err
	}
	return s, nil
}

func (r Repo) CreateSuggestion(ctx context.Context, s domain.Suggestion) (domain.Suggestion, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()
	created, err := r.CreateSuggestionTx(ctx, tx, s)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suggestion{}, err
	}
	return created, nil
}

func scanSuggestion(scan func(...any) error) (domain.Suggestion, error) {
	var s domain.Suggestion
	var reviewedAt, reviewerID, reviewerNotes sql.NullString
	err := scan(&s.ID, &s.ClaimID, &s.Type, &s.Description, &s.ConfidenceScore, &s.Explanation, &s.SuggestedActionJSON,
		&s.Status, &s.ModelVersion, &s.CreatedAt, &reviewedAt, &reviewerID, &reviewerNotes)
	if err != nil {
		return s, err
	}
	if reviewedAt.Valid {
		s.ReviewedAt = &reviewedAt.String
	}
	if reviewerID.Valid {
		s.ReviewerID = &reviewerID.String
	}
	if reviewerNotes.Valid {
		s.ReviewerNotes = &reviewerNotes.String
	}
	return s, nil
}

func (r Repo) GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id=?`, id)
	s, err := scanSuggestion(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Suggestion{}, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSuggestionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Suggestion, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id=?`, id)
	s, err := scanSuggestion(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Suggestion{}, ErrNotFound
	}
	return s, err
}

// ListSuggestionsByClaim returns a claim's suggestions, newest first.
func (r Repo) ListSuggestionsByClaim(ctx context.Context, claimID string) ([]domain.Suggestion, error) {
	return r.ListSuggestions(ctx, SuggestionFilters{ClaimID: claimID})
}

func (r Repo) ListSuggestions(ctx context.Context, f SuggestionFilters) ([]domain.Suggestion, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ClaimID != "" {
		clauses = append(clauses, "claim_id=?")
		args = append(args, f.ClaimID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + suggestionColumns + ` FROM suggestions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.querySuggestions(ctx, query, args...)
}

func (r Repo) querySuggestions(ctx context.Context, query string, args ...any) ([]domain.Suggestion, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ReviewSuggestionTx applies the single pending-to-terminal transition as a
// compare-and-swap on (id, status='pending'). Of two racing reviews exactly
// one matches the guard; the loser resolves to ErrAlreadyReviewed.
func (r Repo) ReviewSuggestionTx(ctx context.Context, tx *sql.Tx, id, status, reviewerID string, notes *string, modifiedActionJSON *string, reviewedAt string) (domain.Suggestion, error) {
	if !domain.TerminalSuggestionStatus(status) {
		return domain.Suggestion{}, &ValidationError{Field: "status", Reason: "must be accepted, rejected or modified"}
	}
	res, err := tx.ExecContext(ctx, `UPDATE suggestions
SET status=?, reviewer_id=?, reviewer_notes=?, reviewed_at=?, suggested_action_json=COALESCE(?, suggested_action_json)
WHERE id=? AND status='pending'`,
		status, reviewerID, nullableStringPtr(notes), reviewedAt, nullableStringPtr(modifiedActionJSON), id)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetSuggestionTx(ctx, tx, id); err != nil {
			return domain.Suggestion{}, err
		}
		return domain.Suggestion{}, ErrAlreadyReviewed
	}
	return r.GetSuggestionTx(ctx, tx, id)
}

func (r Repo) DeleteSuggestion(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM suggestions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSuggestionsByClaimTx removes every suggestion for a claim regardless
// of status and returns the ids of the deleted rows.
func (r Repo) DeleteSuggestionsByClaimTx(ctx context.Context, tx *sql.Tx, claimID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM suggestions WHERE claim_id=?`, claimID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE claim_id=?`, claimID); err != nil {
		return nil, err
	}
	return ids, nil
}

// SuggestionStatusCounts returns counts grouped by status.
func (r Repo) SuggestionStatusCounts(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `SELECT status, COUNT(*) FROM suggestions GROUP BY status`)
}

// SuggestionTypeCounts returns counts grouped by type. Types without
// occurrences are absent from the map.
func (r Repo) SuggestionTypeCounts(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `SELECT type, COUNT(*) FROM suggestions GROUP BY type`)
}

func (r Repo) countsBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// HighConfidenceSuggestions returns suggestions at or above threshold.
func (r Repo) HighConfidenceSuggestions(ctx context.Context, threshold float64) ([]domain.Suggestion, error) {
	return r.querySuggestions(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE confidence_score >= ? ORDER BY confidence_score DESC, created_at DESC`, threshold)
}

func (r Repo) PendingSuggestions(ctx context.Context) ([]domain.Suggestion, error) {
	return r.querySuggestions(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE status='pending' ORDER BY created_at DESC, id DESC`)
}
