package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every store works
// inside or outside a transaction. Begin on a pgx.Tx opens a savepoint.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db       DBTX
	users    *UserStore
	contacts *ContactStore
	messages *MessageStore
	notes    *NoteStore
	activity *ActivityStore
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return newStore(pool)
}

func newStore(db DBTX) *Store {
	return &Store{
		db:       db,
		users:    NewUserStore(db),
		contacts: NewContactStore(db),
		messages: NewMessageStore(db),
		notes:    NewNoteStore(db),
		activity: NewActivityStore(db),
	}
}

func (s *Store) Users() repository.UserRepository       { return s.users }
func (s *Store) Contacts() repository.ContactRepository { return s.contacts }
func (s *Store) Messages() repository.MessageRepository { return s.messages }
func (s *Store) Notes() repository.NoteRepository       { return s.notes }
func (s *Store) Activity() repository.ActivityRepository {
	return s.activity
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(newStore(tx))
	})
}

func withTx(ctx context.Context, db DBTX, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
