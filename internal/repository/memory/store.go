// Package memory is an in-process implementation of repository.Store with
// the same uniqueness and transaction semantics as the Postgres store. It
// backs STORE=memory dev runs and the service tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type refKey struct {
	contactID uuid.UUID
	channel   models.Channel
	value     string
}

// state holds stored values only. Stored structs are never mutated in
// place, so a shallow copy of the maps is a consistent snapshot.
type state struct {
	users      map[uuid.UUID]models.User
	contacts   map[uuid.UUID]models.Contact
	identities map[models.Identity]uuid.UUID
	messages   map[int64]models.Message
	refs       map[refKey]int64
	notes      map[uuid.UUID]models.Note
	activity   []models.ActivityLog

	nextMessageID  int64
	nextActivityID int64
}

func newState() *state {
	return &state{
		users:      map[uuid.UUID]models.User{},
		contacts:   map[uuid.UUID]models.Contact{},
		identities: map[models.Identity]uuid.UUID{},
		messages:   map[int64]models.Message{},
		refs:       map[refKey]int64{},
		notes:      map[uuid.UUID]models.Note{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:          make(map[uuid.UUID]models.User, len(s.users)),
		contacts:       make(map[uuid.UUID]models.Contact, len(s.contacts)),
		identities:     make(map[models.Identity]uuid.UUID, len(s.identities)),
		messages:       make(map[int64]models.Message, len(s.messages)),
		refs:           make(map[refKey]int64, len(s.refs)),
		notes:          make(map[uuid.UUID]models.Note, len(s.notes)),
		activity:       append([]models.ActivityLog(nil), s.activity...),
		nextMessageID:  s.nextMessageID,
		nextActivityID: s.nextActivityID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.refs {
		c.refs[k] = v
	}
	for k, v := range s.notes {
		c.notes[k] = v
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	st   *state
	now  func() time.Time
	inTx bool
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock replaces the time source used for created/updated stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Users() repository.UserRepository       { return &userRepo{s} }
func (s *Store) Contacts() repository.ContactRepository { return &contactRepo{s} }
func (s *Store) Messages() repository.MessageRepository { return &messageRepo{s} }
func (s *Store) Notes() repository.NoteRepository       { return &noteRepo{s} }
func (s *Store) Activity() repository.ActivityRepository {
	return &activityRepo{s}
}

// WithTx runs fn on a private copy of the data and swaps it in on success.
// Other callers block for the duration, which serializes transactions the
// way row locks would for the rows they touch.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{st: s.st.clone(), now: s.now, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func copyStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return append([]string(nil), v...)
}

func copyContact(c models.Contact) models.Contact {
	c.Phones = copyStrings(c.Phones)
	c.Emails = copyStrings(c.Emails)
	c.Tags = copyStrings(c.Tags)
	handles := make(map[string]string, len(c.Handles))
	for k, v := range c.Handles {
		handles[k] = v
	}
	c.Handles = handles
	return c
}

func copyMessage(m models.Message) models.Message {
	m.MediaURLs = copyStrings(m.MediaURLs)
	m.Metadata = models.Metadata{}.Merge(m.Metadata)
	if m.ExternalRef != nil {
		ref := *m.ExternalRef
		m.ExternalRef = &ref
	}
	return m
}
