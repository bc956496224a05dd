package auth

import (
	"context"

	"github.com/google/uuid"
)

// Kind says where an AuthContext came from.
type Kind string

const (
	// KindUser is a verified operator token.
	KindUser Kind = "user"
	// KindAnonymous is the dev fallback for requests without a token. It
	// acts as the configured dev user and is not a security boundary.
	KindAnonymous Kind = "anonymous"
	// KindSystem is used by webhooks, sync and the dispatcher.
	KindSystem Kind = "system"
)

// AuthContext is passed explicitly into every ingestion, send and dispatch
// call and decides who writes are attributed to.
type AuthContext struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Kind   Kind      `json:"kind"`
}

func User(userID uuid.UUID, email string) AuthContext {
	return AuthContext{UserID: userID, Email: email, Kind: KindUser}
}

func Anonymous(devUserID uuid.UUID) AuthContext {
	return AuthContext{UserID: devUserID, Kind: KindAnonymous}
}

func System(devUserID uuid.UUID) AuthContext {
	return AuthContext{UserID: devUserID, Kind: KindSystem}
}

func (a AuthContext) IsAnonymous() bool {
	return a.Kind == KindAnonymous
}

func (a AuthContext) Valid() bool {
	return a.UserID != uuid.Nil
}

type ctxKey struct{}

func WithContext(ctx context.Context, a AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	a, ok := ctx.Value(ctxKey{}).(AuthContext)
	return a, ok
}
