package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type messageRepo struct{ s *Store }

func keyOf(m models.Message) (refKey, bool) {
	if m.ExternalRef == nil || m.ExternalRef.IsZero() {
		return refKey{}, false
	}
	return refKey{contactID: m.ContactID, channel: m.Channel, value: m.ExternalRef.Value}, true
}

func (r *messageRepo) Create(ctx context.Context, m *models.Message) (*models.Message, error) {
	defer r.s.lock()()
	st := r.s.st

	created := copyMessage(*m)
	key, hasRef := keyOf(created)
	if hasRef {
		if _, taken := st.refs[key]; taken {
			return nil, repository.ErrDuplicate
		}
	}

	st.nextMessageID++
	created.ID = st.nextMessageID
	created.CreatedAt = r.s.now()
	created.UpdatedAt = created.CreatedAt
	st.messages[created.ID] = created
	if hasRef {
		st.refs[key] = created.ID
	}

	out := copyMessage(created)
	return &out, nil
}

func (r *messageRepo) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	defer r.s.lock()()
	m, ok := r.s.st.messages[messageID]
	if !ok {
		return nil, nil
	}
	out := copyMessage(m)
	return &out, nil
}

func (r *messageRepo) ExistsByExternalRef(ctx context.Context, contactID uuid.UUID, channel models.Channel, ref models.ExternalRef) (bool, error) {
	defer r.s.lock()()
	_, ok := r.s.st.refs[refKey{contactID: contactID, channel: channel, value: ref.Value}]
	return ok, nil
}

func (r *messageRepo) FindByExternalRef(ctx context.Context, channel models.Channel, ref models.ExternalRef) (*models.Message, error) {
	defer r.s.lock()()
	var found *models.Message
	for _, m := range r.s.st.messages {
		if m.Channel != channel || m.ExternalRef == nil || m.ExternalRef.Value != ref.Value {
			continue
		}
		if found == nil || m.ID > found.ID {
			out := copyMessage(m)
			found = &out
		}
	}
	return found, nil
}

func (r *messageRepo) List(ctx context.Context, f repository.MessageFilter) ([]models.Message, error) {
	defer r.s.lock()()

	out := make([]models.Message, 0)
	for _, m := range r.s.st.messages {
		if f.UserID != uuid.Nil && m.UserID != f.UserID {
			continue
		}
		if f.ContactID != uuid.Nil && m.ContactID != f.ContactID {
			continue
		}
		if f.Channel != "" && m.Channel != f.Channel {
			continue
		}
		if f.Before > 0 && m.ID >= f.Before {
			continue
		}
		out = append(out, copyMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *messageRepo) Update(ctx context.Context, messageID int64, u repository.MessageUpdate) (*models.Message, error) {
	defer r.s.lock()()
	st := r.s.st

	existing, ok := st.messages[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	m := copyMessage(existing)

	if u.ExternalRef != nil && !u.ExternalRef.IsZero() {
		ref := *u.ExternalRef
		m.ExternalRef = &ref
		key, _ := keyOf(m)
		if owner, taken := st.refs[key]; taken && owner != messageID {
			return nil, repository.ErrDuplicate
		}
		if oldKey, had := keyOf(existing); had {
			delete(st.refs, oldKey)
		}
		st.refs[key] = messageID
	}
	if u.Status != nil {
		m.Status = *u.Status
	}
	m.Metadata = m.Metadata.Merge(u.Metadata)
	if u.SentAt != nil {
		m.SentAt = u.SentAt
	}
	if u.DeliveredAt != nil {
		m.DeliveredAt = u.DeliveredAt
	}
	if u.ReadAt != nil {
		m.ReadAt = u.ReadAt
	}
	m.UpdatedAt = r.s.now()
	st.messages[messageID] = m

	out := copyMessage(m)
	return &out, nil
}

func (r *messageRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	defer r.s.lock()()
	st := r.s.st

	due := make([]models.Message, 0)
	for _, m := range st.messages {
		if m.Status == models.StatusScheduled && m.ScheduledFor != nil && !m.ScheduledFor.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(*due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]models.Message, 0, len(due))
	for _, m := range due {
		m = copyMessage(m)
		m.Status = models.StatusPending
		m.UpdatedAt = r.s.now()
		st.messages[m.ID] = m
		claimed = append(claimed, copyMessage(m))
	}
	return claimed, nil
}

func (r *messageRepo) ReassignContact(ctx context.Context, from, to uuid.UUID) (moved, dropped int64, err error) {
	defer r.s.lock()()
	st := r.s.st

	for id, m := range st.messages {
		if m.ContactID != from {
			continue
		}
		oldKey, hasRef := keyOf(m)
		m = copyMessage(m)
		m.ContactID = to
		if hasRef {
			delete(st.refs, oldKey)
			newKey, _ := keyOf(m)
			if _, taken := st.refs[newKey]; taken {
				delete(st.messages, id)
				dropped++
				continue
			}
			st.refs[newKey] = id
		}
		m.UpdatedAt = r.s.now()
		st.messages[id] = m
		moved++
	}
	return moved, dropped, nil
}
