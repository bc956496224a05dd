package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type NoteStore struct {
	db DBTX
}

func NewNoteStore(db DBTX) *NoteStore {
	return &NoteStore{db: db}
}

const noteColumns = `id, contact_id, user_id, content, is_private, mentions, created_at, updated_at`

func scanNote(row pgx.Row) (*models.Note, error) {
	var n models.Note
	if err := row.Scan(&n.ID, &n.ContactID, &n.UserID, &n.Content, &n.IsPrivate, &n.Mentions, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *NoteStore) Create(ctx context.Context, n *models.Note) (*models.Note, error) {
	query := `
		INSERT INTO notes (contact_id, user_id, content, is_private, mentions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + noteColumns

	created, err := scanNote(s.db.QueryRow(ctx, query, n.ContactID, n.UserID, n.Content, n.IsPrivate, nonNil(n.Mentions)))
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	return created, nil
}

func (s *NoteStore) ListByContact(ctx context.Context, contactID, viewerID uuid.UUID) ([]models.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes
		WHERE contact_id = $1 AND (NOT is_private OR user_id = $2)
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, contactID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]models.Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}

func (s *NoteStore) Delete(ctx context.Context, noteID, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, noteID, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *NoteStore) ReassignContact(ctx context.Context, from, to uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE notes SET contact_id = $2, updated_at = now() WHERE contact_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("reassign notes: %w", err)
	}
	return tag.RowsAffected(), nil
}
