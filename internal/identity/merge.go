package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrContactNotFound = errors.New("contact not found")
	ErrSameContact     = errors.New("cannot merge a contact into itself")
)

// MergeResult summarises what moved. MessagesDropped counts source messages
// that duplicated a target message by external id; those were deleted
// rather than moved, since the target already holds the same vendor event.
type MergeResult struct {
	Contact         *models.Contact `json:"contact"`
	MessagesMoved   int64           `json:"messages_moved"`
	MessagesDropped int64           `json:"messages_dropped"`
	NotesMoved      int64           `json:"notes_moved"`
}

// Merge folds source into target in one transaction: messages, notes and
// activity move to target, identifiers and tags are unioned with target's
// values winning, and source is deleted. Either all of it happens or none.
func (r *Resolver) Merge(ctx context.Context, ac auth.AuthContext, sourceID, targetID uuid.UUID) (*MergeResult, error) {
	if sourceID == targetID {
		return nil, ErrSameContact
	}

	var res MergeResult
	err := r.store.WithTx(ctx, func(tx repository.Store) error {
		source, err := tx.Contacts().GetByID(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("get source: %w", err)
		}
		target, err := tx.Contacts().GetByID(ctx, targetID)
		if err != nil {
			return fmt.Errorf("get target: %w", err)
		}
		if source == nil || target == nil {
			return ErrContactNotFound
		}

		if res.MessagesMoved, res.MessagesDropped, err = tx.Messages().ReassignContact(ctx, sourceID, targetID); err != nil {
			return fmt.Errorf("move messages: %w", err)
		}
		if res.NotesMoved, err = tx.Notes().ReassignContact(ctx, sourceID, targetID); err != nil {
			return fmt.Errorf("move notes: %w", err)
		}
		if _, err = tx.Activity().ReassignContact(ctx, sourceID, targetID); err != nil {
			return fmt.Errorf("move activity: %w", err)
		}

		// Deleting first releases source's identities so target can claim them.
		if err := tx.Contacts().Delete(ctx, sourceID); err != nil {
			return fmt.Errorf("delete source: %w", err)
		}
		merged, err := tx.Contacts().Update(ctx, MergeContacts(target, source))
		if err != nil {
			return fmt.Errorf("update target: %w", err)
		}
		res.Contact = merged

		return tx.Activity().Append(ctx, &models.ActivityLog{
			UserID:    ac.UserID,
			ContactID: &targetID,
			Action:    models.ActivityContactsMerged,
			Details: models.Metadata{
				"sourceId":        sourceID.String(),
				"sourceName":      source.Name,
				"messagesMoved":   res.MessagesMoved,
				"messagesDropped": res.MessagesDropped,
				"notesMoved":      res.NotesMoved,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("contacts merged",
		zap.String("source", sourceID.String()),
		zap.String("target", targetID.String()),
		zap.Int64("messages", res.MessagesMoved),
		zap.Int64("duplicates_dropped", res.MessagesDropped),
		zap.Int64("notes", res.NotesMoved))
	return &res, nil
}

// MergeContacts returns target with source's identifiers and tags folded in.
// Target's values come first and win on handle conflicts.
func MergeContacts(target, source *models.Contact) *models.Contact {
	merged := *target
	if merged.Name == "" {
		merged.Name = source.Name
	}
	merged.Phones = models.UnionStrings(target.Phones, source.Phones)
	merged.Emails = models.UnionStrings(target.Emails, source.Emails)
	merged.Tags = models.UnionStrings(target.Tags, source.Tags)

	merged.Handles = make(map[string]string, len(target.Handles)+len(source.Handles))
	for k, v := range source.Handles {
		merged.Handles[k] = v
	}
	for k, v := range target.Handles {
		if v != "" {
			merged.Handles[k] = v
		}
	}
	return &merged
}
