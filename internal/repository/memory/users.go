package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
)

type userRepo struct{ s *Store }

func (r *userRepo) Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error) {
	defer r.s.lock()()
	for _, u := range r.s.st.users {
		if u.Email == email {
			return nil, repository.ErrDuplicate
		}
	}
	u := models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    r.s.now(),
	}
	r.s.st.users[u.ID] = u
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	defer r.s.lock()()
	u, ok := r.s.st.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	defer r.s.lock()()
	for _, u := range r.s.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *userRepo) Ensure(ctx context.Context, email, displayName string) (*models.User, error) {
	u, err := r.GetByEmail(ctx, email)
	if err != nil || u != nil {
		return u, err
	}
	u, err = r.Create(ctx, email, displayName, "")
	if err == repository.ErrDuplicate {
		return r.GetByEmail(ctx, email)
	}
	return u, err
}
