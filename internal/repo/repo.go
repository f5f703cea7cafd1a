package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"claimline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReviewed is returned when a review targets a suggestion
	// that has already left pending.
	ErrAlreadyReviewed = errors.New("suggestion has already been reviewed")
)

// ValidationError reports a record rejected before persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// EventsAfter returns up to limit events with id greater than afterID, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,COALESCE(payload_json,'')
FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}
