package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
)

type ActivityStore struct {
	db DBTX
}

func NewActivityStore(db DBTX) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) Append(ctx context.Context, entry *models.ActivityLog) error {
	query := `
		INSERT INTO activity_logs (user_id, contact_id, action, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.QueryRow(ctx, query, entry.UserID, entry.ContactID, string(entry.Action), metadataOf(entry.Details)).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (s *ActivityStore) ListByContact(ctx context.Context, contactID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	query := `
		SELECT id, user_id, contact_id, action, details, created_at
		FROM activity_logs
		WHERE contact_id = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	entries := make([]models.ActivityLog, 0)
	for rows.Next() {
		var (
			e      models.ActivityLog
			action string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ContactID, &action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		e.Action = models.ActivityAction(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity logs: %w", err)
	}
	return entries, nil
}

func (s *ActivityStore) ReassignContact(ctx context.Context, from, to uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE activity_logs SET contact_id = $2 WHERE contact_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("reassign activity logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
