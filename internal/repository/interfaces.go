package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
)

// Lookups by key return nil, nil when the row does not exist. Mutations of a
// missing row return ErrNotFound.
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicate means a unique key (contact identity, message external
	// ref, user email) is already taken.
	ErrDuplicate = errors.New("duplicate")
)

// Store groups the repositories and runs multi-row writes atomically.
type Store interface {
	Users() UserRepository
	Contacts() ContactRepository
	Messages() MessageRepository
	Notes() NoteRepository
	Activity() ActivityRepository

	// WithTx runs fn against a Store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type UserRepository interface {
	// Create returns ErrDuplicate when the email is taken.
	Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// Ensure returns the user with this email, creating it without a
	// password when missing.
	Ensure(ctx context.Context, email, displayName string) (*models.User, error)
}

type ContactFilter struct {
	UserID uuid.UUID // uuid.Nil lists every owner
	Query  string    // substring of name, phone or email
	Limit  int
	Offset int
}

type ContactRepository interface {
	// Create inserts the contact and claims each of its identities. Returns
	// ErrDuplicate, with nothing written, when another contact already
	// holds one of them.
	Create(ctx context.Context, c *models.Contact) (*models.Contact, error)
	GetByID(ctx context.Context, contactID uuid.UUID) (*models.Contact, error)
	FindByIdentity(ctx context.Context, id models.Identity) (*models.Contact, error)
	List(ctx context.Context, f ContactFilter) ([]models.Contact, error)

	// Update overwrites name, phones, emails, handles and tags and re-syncs
	// the identity claims.
	Update(ctx context.Context, c *models.Contact) (*models.Contact, error)

	// Delete removes the contact and releases its identities.
	Delete(ctx context.Context, contactID uuid.UUID) error
}

type MessageFilter struct {
	UserID    uuid.UUID
	ContactID uuid.UUID
	Channel   models.Channel
	Before    int64 // cursor: only ids below this, 0 = newest
	Limit     int
}

// MessageUpdate is a partial update. Nil fields are left alone; Metadata is
// merged into the stored map.
type MessageUpdate struct {
	Status      *models.Status
	ExternalRef *models.ExternalRef
	Metadata    models.Metadata
	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

type MessageRepository interface {
	// Create inserts the message. When m.ExternalRef is set and the
	// (contact, channel, external id) triple is already stored it returns
	// ErrDuplicate.
	Create(ctx context.Context, m *models.Message) (*models.Message, error)
	GetByID(ctx context.Context, messageID int64) (*models.Message, error)

	// ExistsByExternalRef is the dedup check.
	ExistsByExternalRef(ctx context.Context, contactID uuid.UUID, channel models.Channel, ref models.ExternalRef) (bool, error)

	// FindByExternalRef locates a message by vendor id alone, for delivery
	// callbacks that carry no contact.
	FindByExternalRef(ctx context.Context, channel models.Channel, ref models.ExternalRef) (*models.Message, error)

	// List returns messages newest first.
	List(ctx context.Context, f MessageFilter) ([]models.Message, error)

	Update(ctx context.Context, messageID int64, u MessageUpdate) (*models.Message, error)

	// ClaimDue moves up to limit SCHEDULED messages due at or before now to
	// PENDING and returns them. A message is returned by at most one call.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Message, error)

	// ReassignContact moves every message of from onto to. A message of from
	// whose external ref to already holds is the same vendor event ingested
	// twice; it is deleted instead of moved and counted in dropped.
	ReassignContact(ctx context.Context, from, to uuid.UUID) (moved, dropped int64, err error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *models.Note) (*models.Note, error)

	// ListByContact returns public notes plus the viewer's private ones,
	// newest first.
	ListByContact(ctx context.Context, contactID, viewerID uuid.UUID) ([]models.Note, error)

	// Delete removes a note owned by userID.
	Delete(ctx context.Context, noteID, userID uuid.UUID) error

	ReassignContact(ctx context.Context, from, to uuid.UUID) (int64, error)
}

type ActivityRepository interface {
	Append(ctx context.Context, entry *models.ActivityLog) error
	ListByContact(ctx context.Context, contactID uuid.UUID, limit int) ([]models.ActivityLog, error)
	ReassignContact(ctx context.Context, from, to uuid.UUID) (int64, error)
}
