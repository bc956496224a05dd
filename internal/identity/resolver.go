// Package identity maps channel-specific sender identifiers onto Contacts
// and merges contacts that turn out to be the same person.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

// resolveAttempts bounds the find-or-create loop. A second attempt only
// happens when a concurrent caller created the contact first.
const resolveAttempts = 3

var ErrInvalidIdentifier = errors.New("invalid sender identifier")

type Resolver struct {
	store  repository.Store
	logger *zap.Logger
}

func NewResolver(store repository.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the contact owning identifier on ch, creating it when
// missing. Uniqueness is enforced by the store: a losing concurrent create
// gets ErrDuplicate and re-reads the winner's row. created reports whether
// this call inserted the contact.
func (r *Resolver) Resolve(ctx context.Context, ac auth.AuthContext, ch models.Channel, identifier, displayName string) (contact *models.Contact, created bool, err error) {
	id, ok := models.IdentityFor(ch, identifier)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q on %s", ErrInvalidIdentifier, identifier, ch)
	}

	for attempt := 0; attempt < resolveAttempts; attempt++ {
		existing, err := r.store.Contacts().FindByIdentity(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("find contact: %w", err)
		}
		if existing != nil {
			return r.backfillName(ctx, existing, ch, identifier, displayName), false, nil
		}

		c := &models.Contact{
			UserID: ac.UserID,
			Name:   displayName,
		}
		if c.Name == "" {
			c.Name = models.PlaceholderName(ch, identifier)
		}
		id.Apply(c)

		contact, err = r.store.Contacts().Create(ctx, c)
		if errors.Is(err, repository.ErrDuplicate) {
			r.logger.Debug("contact created concurrently, retrying lookup",
				zap.String("channel", string(ch)), zap.String("identity", id.Value))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("create contact: %w", err)
		}

		contactID := contact.ID
		if err := r.store.Activity().Append(ctx, &models.ActivityLog{
			UserID:    ac.UserID,
			ContactID: &contactID,
			Action:    models.ActivityContactCreated,
			Details:   models.Metadata{"channel": string(ch), "identifier": id.Value},
		}); err != nil {
			r.logger.Warn("append activity", zap.Error(err))
		}
		return contact, true, nil
	}
	return nil, false, fmt.Errorf("resolve contact %s/%s: gave up after %d attempts", id.Kind, id.Value, resolveAttempts)
}

// backfillName replaces a placeholder name once the vendor tells us the
// real one. Failures are logged; the contact is still usable.
func (r *Resolver) backfillName(ctx context.Context, c *models.Contact, ch models.Channel, identifier, displayName string) *models.Contact {
	if displayName == "" || c.Name == displayName || c.Name != models.PlaceholderName(ch, identifier) {
		return c
	}
	c.Name = displayName
	updated, err := r.store.Contacts().Update(ctx, c)
	if err != nil {
		r.logger.Warn("backfill contact name", zap.String("contact_id", c.ID.String()), zap.Error(err))
		return c
	}
	return updated
}
