package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type ContactStore struct {
	db DBTX
}

func NewContactStore(db DBTX) *ContactStore {
	return &ContactStore{db: db}
}

const contactColumns = `id, user_id, name, phones, emails, social_handles, tags, created_at, updated_at`

func scanContact(row pgx.Row) (*models.Contact, error) {
	var c models.Contact
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.Phones,
		&c.Emails,
		&c.Handles,
		&c.Tags,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if c.Handles == nil {
		c.Handles = map[string]string{}
	}
	return &c, nil
}

func handlesOf(c *models.Contact) map[string]string {
	if c.Handles == nil {
		return map[string]string{}
	}
	return c.Handles
}

func (s *ContactStore) Create(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	var created *models.Contact
	err := withTx(ctx, s.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO contacts (user_id, name, phones, emails, social_handles, tags)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING ` + contactColumns

		var err error
		created, err = scanContact(tx.QueryRow(ctx, query,
			c.UserID, c.Name, nonNil(c.Phones), nonNil(c.Emails), handlesOf(c), nonNil(c.Tags),
		))
		if err != nil {
			return fmt.Errorf("insert contact: %w", err)
		}
		return claimIdentities(ctx, tx, created.ID, created.Identities())
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// claimIdentities records each identity for contactID. ON CONFLICT keeps a
// lost race from aborting the surrounding transaction; the owner is then
// checked explicitly.
func claimIdentities(ctx context.Context, db DBTX, contactID uuid.UUID, ids []models.Identity) error {
	for _, id := range ids {
		tag, err := db.Exec(ctx, `
			INSERT INTO contact_identities (kind, value, contact_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (kind, value) DO NOTHING`,
			string(id.Kind), id.Value, contactID)
		if err != nil {
			return fmt.Errorf("claim identity: %w", err)
		}
		if tag.RowsAffected() == 1 {
			continue
		}

		var owner uuid.UUID
		err = db.QueryRow(ctx,
			`SELECT contact_id FROM contact_identities WHERE kind = $1 AND value = $2`,
			string(id.Kind), id.Value).Scan(&owner)
		if err != nil {
			return fmt.Errorf("check identity owner: %w", err)
		}
		if owner != contactID {
			return repository.ErrDuplicate
		}
	}
	return nil
}

func (s *ContactStore) GetByID(ctx context.Context, contactID uuid.UUID) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	c, err := scanContact(s.db.QueryRow(ctx, query, contactID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (s *ContactStore) FindByIdentity(ctx context.Context, id models.Identity) (*models.Contact, error) {
	query := `
		SELECT c.id, c.user_id, c.name, c.phones, c.emails, c.social_handles, c.tags, c.created_at, c.updated_at
		FROM contact_identities ci
		JOIN contacts c ON c.id = ci.contact_id
		WHERE ci.kind = $1 AND ci.value = $2`

	c, err := scanContact(s.db.QueryRow(ctx, query, string(id.Kind), id.Value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact by identity: %w", err)
	}
	return c, nil
}

func (s *ContactStore) List(ctx context.Context, f repository.ContactFilter) ([]models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE ($1::boolean OR user_id = $2)
		  AND ($3 = '' OR name ILIKE '%' || $3 || '%'
		       OR array_to_string(phones, ' ') ILIKE '%' || $3 || '%'
		       OR array_to_string(emails, ' ') ILIKE '%' || $3 || '%')
		ORDER BY updated_at DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.db.Query(ctx, query, f.UserID == uuid.Nil, f.UserID, f.Query, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

func (s *ContactStore) Update(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	var updated *models.Contact
	err := withTx(ctx, s.db, func(tx pgx.Tx) error {
		query := `
			UPDATE contacts
			SET name = $2, phones = $3, emails = $4, social_handles = $5, tags = $6, updated_at = now()
			WHERE id = $1
			RETURNING ` + contactColumns

		var err error
		updated, err = scanContact(tx.QueryRow(ctx, query,
			c.ID, c.Name, nonNil(c.Phones), nonNil(c.Emails), handlesOf(c), nonNil(c.Tags),
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("update contact: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM contact_identities WHERE contact_id = $1`, c.ID); err != nil {
			return fmt.Errorf("release identities: %w", err)
		}
		return claimIdentities(ctx, tx, updated.ID, updated.Identities())
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *ContactStore) Delete(ctx context.Context, contactID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, contactID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
