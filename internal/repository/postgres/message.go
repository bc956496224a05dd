package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/unifiedinbox/internal/db"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type MessageStore struct {
	db DBTX
}

func NewMessageStore(db DBTX) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = `id, contact_id, user_id, channel, direction, content, media_urls, status,
	external_kind, external_id, metadata, scheduled_for, sent_at, delivered_at, read_at, created_at, updated_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		m                  models.Message
		channel, direction string
		status             string
		refKind, refValue  *string
	)
	if err := row.Scan(
		&m.ID,
		&m.ContactID,
		&m.UserID,
		&channel,
		&direction,
		&m.Content,
		&m.MediaURLs,
		&status,
		&refKind,
		&refValue,
		&m.Metadata,
		&m.ScheduledFor,
		&m.SentAt,
		&m.DeliveredAt,
		&m.ReadAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Channel = models.Channel(channel)
	m.Direction = models.Direction(direction)
	m.Status = models.Status(status)
	if refKind != nil && refValue != nil {
		m.ExternalRef = &models.ExternalRef{Kind: models.ExternalRefKind(*refKind), Value: *refValue}
	}
	if m.Metadata == nil {
		m.Metadata = models.Metadata{}
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func refColumns(ref *models.ExternalRef) (kind, value *string) {
	if ref == nil || ref.IsZero() {
		return nil, nil
	}
	k := string(ref.Kind)
	return &k, &ref.Value
}

func metadataOf(m models.Metadata) models.Metadata {
	if m == nil {
		return models.Metadata{}
	}
	return m
}

// Create relies on the partial unique index over (contact_id, channel,
// external_id). DO NOTHING keeps a duplicate from aborting an enclosing
// transaction; no returned row means the ref was already stored.
func (s *MessageStore) Create(ctx context.Context, m *models.Message) (*models.Message, error) {
	refKind, refValue := refColumns(m.ExternalRef)
	query := `
		INSERT INTO messages (contact_id, user_id, channel, direction, content, media_urls, status,
			external_kind, external_id, metadata, scheduled_for, sent_at, delivered_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (contact_id, channel, external_id) WHERE external_id IS NOT NULL DO NOTHING
		RETURNING ` + messageColumns

	created, err := scanMessage(s.db.QueryRow(ctx, query,
		m.ContactID, m.UserID, string(m.Channel), string(m.Direction), m.Content, nonNil(m.MediaURLs),
		string(m.Status), refKind, refValue, metadataOf(m.Metadata), m.ScheduledFor, m.SentAt,
		m.DeliveredAt, m.ReadAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return created, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(s.db.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ExistsByExternalRef also matches the legacy metadata key so rows imported
// before the external_id column existed still dedup.
func (s *MessageStore) ExistsByExternalRef(ctx context.Context, contactID uuid.UUID, channel models.Channel, ref models.ExternalRef) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE contact_id = $1 AND channel = $2
			  AND (external_id = $3 OR metadata ->> $4 = $3)
		)`

	var exists bool
	err := s.db.QueryRow(ctx, query, contactID, string(channel), ref.Value, ref.MetadataKey()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check external ref: %w", err)
	}
	return exists, nil
}

func (s *MessageStore) FindByExternalRef(ctx context.Context, channel models.Channel, ref models.ExternalRef) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE channel = $1 AND external_id = $2
		ORDER BY id DESC
		LIMIT 1`

	m, err := scanMessage(s.db.QueryRow(ctx, query, string(channel), ref.Value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find message by external ref: %w", err)
	}
	return m, nil
}

func (s *MessageStore) List(ctx context.Context, f repository.MessageFilter) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ($1::boolean OR user_id = $2)
		  AND ($3::boolean OR contact_id = $4)
		  AND ($5 = '' OR channel = $5)
		  AND ($6 = 0 OR id < $6)
		ORDER BY id DESC
		LIMIT $7`

	rows, err := s.db.Query(ctx, query,
		f.UserID == uuid.Nil, f.UserID,
		f.ContactID == uuid.Nil, f.ContactID,
		string(f.Channel), f.Before, f.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *MessageStore) Update(ctx context.Context, messageID int64, u repository.MessageUpdate) (*models.Message, error) {
	var status *string
	if u.Status != nil {
		v := string(*u.Status)
		status = &v
	}
	refKind, refValue := refColumns(u.ExternalRef)

	query := `
		UPDATE messages SET
			status        = COALESCE($2::text, status),
			external_kind = COALESCE($3::text, external_kind),
			external_id   = COALESCE($4::text, external_id),
			metadata      = metadata || $5::jsonb,
			sent_at       = COALESCE($6, sent_at),
			delivered_at  = COALESCE($7, delivered_at),
			read_at       = COALESCE($8, read_at),
			updated_at    = now()
		WHERE id = $1
		RETURNING ` + messageColumns

	m, err := scanMessage(s.db.QueryRow(ctx, query,
		messageID, status, refKind, refValue, metadataOf(u.Metadata), u.SentAt, u.DeliveredAt, u.ReadAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if db.IsUniqueViolation(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

// ClaimDue flips due rows to PENDING in one statement. SKIP LOCKED lets a
// second dispatcher instance pick different rows instead of waiting.
func (s *MessageStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	query := `
		UPDATE messages SET status = 'PENDING', updated_at = now()
		WHERE id IN (
			SELECT id FROM messages
			WHERE status = 'SCHEDULED' AND scheduled_for <= $1
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + messageColumns

	rows, err := s.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *MessageStore) ReassignContact(ctx context.Context, from, to uuid.UUID) (moved, dropped int64, err error) {
	del, err := s.db.Exec(ctx, `
		DELETE FROM messages src
		WHERE src.contact_id = $1
		  AND src.external_id IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM messages dst
			WHERE dst.contact_id = $2 AND dst.channel = src.channel AND dst.external_id = src.external_id
		  )`, from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("drop overlapping messages: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE messages SET contact_id = $2, updated_at = now() WHERE contact_id = $1`, from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("reassign messages: %w", err)
	}
	return tag.RowsAffected(), del.RowsAffected(), nil
}
