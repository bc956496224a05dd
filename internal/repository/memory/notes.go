package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type noteRepo struct{ s *Store }

func copyNote(n models.Note) models.Note {
	n.Mentions = copyStrings(n.Mentions)
	return n
}

func (r *noteRepo) Create(ctx context.Context, n *models.Note) (*models.Note, error) {
	defer r.s.lock()()
	created := copyNote(*n)
	created.ID = uuid.New()
	created.CreatedAt = r.s.now()
	created.UpdatedAt = created.CreatedAt
	r.s.st.notes[created.ID] = created

	out := copyNote(created)
	return &out, nil
}

func (r *noteRepo) ListByContact(ctx context.Context, contactID, viewerID uuid.UUID) ([]models.Note, error) {
	defer r.s.lock()()
	out := make([]models.Note, 0)
	for _, n := range r.s.st.notes {
		if n.ContactID != contactID {
			continue
		}
		if n.IsPrivate && n.UserID != viewerID {
			continue
		}
		out = append(out, copyNote(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *noteRepo) Delete(ctx context.Context, noteID, userID uuid.UUID) error {
	defer r.s.lock()()
	n, ok := r.s.st.notes[noteID]
	if !ok || n.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.s.st.notes, noteID)
	return nil
}

func (r *noteRepo) ReassignContact(ctx context.Context, from, to uuid.UUID) (int64, error) {
	defer r.s.lock()()
	var moved int64
	for id, n := range r.s.st.notes {
		if n.ContactID != from {
			continue
		}
		n = copyNote(n)
		n.ContactID = to
		n.UpdatedAt = r.s.now()
		r.s.st.notes[id] = n
		moved++
	}
	return moved, nil
}
