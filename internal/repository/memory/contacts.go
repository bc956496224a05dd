package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type contactRepo struct{ s *Store }

func (r *contactRepo) Create(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	defer r.s.lock()()
	st := r.s.st

	created := copyContact(*c)
	created.ID = uuid.New()
	created.CreatedAt = r.s.now()
	created.UpdatedAt = created.CreatedAt

	ids := created.Identities()
	for _, id := range ids {
		if _, taken := st.identities[id]; taken {
			return nil, repository.ErrDuplicate
		}
	}
	for _, id := range ids {
		st.identities[id] = created.ID
	}
	st.contacts[created.ID] = created

	out := copyContact(created)
	return &out, nil
}

func (r *contactRepo) GetByID(ctx context.Context, contactID uuid.UUID) (*models.Contact, error) {
	defer r.s.lock()()
	c, ok := r.s.st.contacts[contactID]
	if !ok {
		return nil, nil
	}
	out := copyContact(c)
	return &out, nil
}

func (r *contactRepo) FindByIdentity(ctx context.Context, id models.Identity) (*models.Contact, error) {
	defer r.s.lock()()
	contactID, ok := r.s.st.identities[id]
	if !ok {
		return nil, nil
	}
	out := copyContact(r.s.st.contacts[contactID])
	return &out, nil
}

func (r *contactRepo) List(ctx context.Context, f repository.ContactFilter) ([]models.Contact, error) {
	defer r.s.lock()()

	q := strings.ToLower(f.Query)
	out := make([]models.Contact, 0)
	for _, c := range r.s.st.contacts {
		if f.UserID != uuid.Nil && c.UserID != f.UserID {
			continue
		}
		if q != "" && !contactMatches(c, q) {
			continue
		}
		out = append(out, copyContact(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if f.Offset >= len(out) {
		return []models.Contact{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func contactMatches(c models.Contact, q string) bool {
	if strings.Contains(strings.ToLower(c.Name), q) {
		return true
	}
	for _, v := range append(append([]string{}, c.Phones...), c.Emails...) {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func (r *contactRepo) Update(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	defer r.s.lock()()
	st := r.s.st

	existing, ok := st.contacts[c.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	updated := copyContact(*c)
	updated.UserID = existing.UserID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = r.s.now()

	ids := updated.Identities()
	for _, id := range ids {
		if owner, taken := st.identities[id]; taken && owner != c.ID {
			return nil, repository.ErrDuplicate
		}
	}
	for id, owner := range st.identities {
		if owner == c.ID {
			delete(st.identities, id)
		}
	}
	for _, id := range ids {
		st.identities[id] = c.ID
	}
	st.contacts[c.ID] = updated

	out := copyContact(updated)
	return &out, nil
}

// Delete cascades to messages and notes and releases identities, like the
// foreign keys do in Postgres.
func (r *contactRepo) Delete(ctx context.Context, contactID uuid.UUID) error {
	defer r.s.lock()()
	st := r.s.st

	if _, ok := st.contacts[contactID]; !ok {
		return repository.ErrNotFound
	}
	delete(st.contacts, contactID)
	for id, owner := range st.identities {
		if owner == contactID {
			delete(st.identities, id)
		}
	}
	for id, m := range st.messages {
		if m.ContactID == contactID {
			delete(st.messages, id)
		}
	}
	for k := range st.refs {
		if k.contactID == contactID {
			delete(st.refs, k)
		}
	}
	for id, n := range st.notes {
		if n.ContactID == contactID {
			delete(st.notes, id)
		}
	}
	for i, e := range st.activity {
		if e.ContactID != nil && *e.ContactID == contactID {
			st.activity[i].ContactID = nil
		}
	}
	return nil
}
