package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
)

type activityRepo struct{ s *Store }

func (r *activityRepo) Append(ctx context.Context, entry *models.ActivityLog) error {
	defer r.s.lock()()
	st := r.s.st
	st.nextActivityID++
	entry.ID = st.nextActivityID
	entry.CreatedAt = r.s.now()

	stored := *entry
	stored.Details = models.Metadata{}.Merge(entry.Details)
	if entry.ContactID != nil {
		id := *entry.ContactID
		stored.ContactID = &id
	}
	st.activity = append(st.activity, stored)
	return nil
}

func (r *activityRepo) ListByContact(ctx context.Context, contactID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	defer r.s.lock()()
	out := make([]models.ActivityLog, 0)
	for i := len(r.s.st.activity) - 1; i >= 0; i-- {
		e := r.s.st.activity[i]
		if e.ContactID == nil || *e.ContactID != contactID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *activityRepo) ReassignContact(ctx context.Context, from, to uuid.UUID) (int64, error) {
	defer r.s.lock()()
	var moved int64
	for i, e := range r.s.st.activity {
		if e.ContactID != nil && *e.ContactID == from {
			id := to
			r.s.st.activity[i].ContactID = &id
			moved++
		}
	}
	return moved, nil
}
