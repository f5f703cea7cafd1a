package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"claimline/internal/domain"
)

// ClaimFilters are conjunctive; zero values mean no filter.
type ClaimFilters struct {
	Status          string
	PolicyNumber    string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

const claimColumns = `id,claim_number,policy_number,policyholder_name,date_of_loss,COALESCE(description,''),status,total_amount,items_json,video_analysis_json,has_video,created_at,updated_at`

func (r Repo) InsertClaimTx(ctx context.Context, tx *sql.Tx, c domain.Claim) error {
	items, err := marshalItems(c.Items)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO claims(id,claim_number,policy_number,policyholder_name,date_of_loss,description,status,total_amount,items_json,video_analysis_json,has_video,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ClaimNumber, c.PolicyNumber, c.PolicyholderName, c.DateOfLoss, nullable(c.Description), c.Status,
		c.TotalAmount, items, nullableStringPtr(c.VideoAnalysisJSON), boolToInt(c.HasVideo), c.CreatedAt, c.UpdatedAt)
	return err
}

func scanClaim(scan func(...any) error) (domain.Claim, error) {
	var c domain.Claim
	var items, analysis sql.NullString
	var hasVideo int
	err := scan(&c.ID, &c.ClaimNumber, &c.PolicyNumber, &c.PolicyholderName, &c.DateOfLoss, &c.Description, &c.Status,
		&c.TotalAmount, &items, &analysis, &hasVideo, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if items.Valid && items.String != "" {
		_ = json.Unmarshal([]byte(items.String), &c.Items)
	}
	if analysis.Valid {
		c.VideoAnalysisJSON = &analysis.String
	}
	c.HasVideo = hasVideo != 0
	return c, nil
}

func (r Repo) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id=?`, id)
	c, err := scanClaim(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Claim{}, ErrNotFound
	}
	return c, err
}

func (r Repo) GetClaimTx(ctx context.Context, tx *sql.Tx, id string) (domain.Claim, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id=?`, id)
	c, err := scanClaim(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Claim{}, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClaims(ctx context.Context, f ClaimFilters) ([]domain.Claim, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.PolicyNumber != "" {
		clauses = append(clauses, "policy_number=?")
		args = append(args, f.PolicyNumber)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + claimColumns + ` FROM claims`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.queryClaims(ctx, query, args...)
}

func (r Repo) queryClaims(ctx context.Context, query string, args ...any) ([]domain.Claim, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateClaimTx(ctx context.Context, tx *sql.Tx, c domain.Claim) error {
	items, err := marshalItems(c.Items)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE claims
SET policy_number=?, policyholder_name=?, date_of_loss=?, description=?, status=?, total_amount=?, items_json=?, updated_at=?
WHERE id=?`,
		c.PolicyNumber, c.PolicyholderName, c.DateOfLoss, nullable(c.Description), c.Status, c.TotalAmount, items, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateClaimStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE claims SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVideoAnalysisTx attaches the analysis document and marks the claim as
// carrying video evidence.
func (r Repo) SetVideoAnalysisTx(ctx context.Context, tx *sql.Tx, id, analysisJSON, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE claims SET video_analysis_json=?, has_video=1, updated_at=? WHERE id=?`, analysisJSON, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteClaimTx(ctx context.Context, tx *sql.Tx, id string) error {
	// Suggestions go with the claim via ON DELETE CASCADE.
	res, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ClaimsWithVideoAnalysis(ctx context.Context) ([]domain.Claim, error) {
	return r.queryClaims(ctx, `SELECT `+claimColumns+` FROM claims WHERE video_analysis_json IS NOT NULL ORDER BY created_at DESC, id DESC`)
}

// RecentClaims returns claims created at or after the since timestamp.
func (r Repo) RecentClaims(ctx context.Context, since string) ([]domain.Claim, error) {
	return r.queryClaims(ctx, `SELECT `+claimColumns+` FROM claims WHERE created_at >= ? ORDER BY created_at DESC, id DESC`, since)
}

func (r Repo) ClaimStatusCounts(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `SELECT status, COUNT(*) FROM claims GROUP BY status`)
}

// ClaimTotals returns claim count and summed claimed amount.
func (r Repo) ClaimTotals(ctx context.Context) (int, float64, error) {
	var count int
	var total sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*), SUM(total_amount) FROM claims`).Scan(&count, &total)
	if err != nil {
		return 0, 0, err
	}
	return count, total.Float64, nil
}

func marshalItems(items []domain.ClaimItem) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
