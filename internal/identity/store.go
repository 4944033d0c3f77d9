package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// UserStore persists local accounts. Username and Email are unique;
// Create returns ErrConflict when either is taken.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	ByID(ctx context.Context, id string) (*User, error)
	ByUsername(ctx context.Context, username string) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
}

// LinkStore persists external-identity links. (Provider, Subject) is
// unique; Create returns ErrConflict on a duplicate.
type LinkStore interface {
	Create(ctx context.Context, l *Link) error
	ByProviderSubject(ctx context.Context, provider, subject string) (*Link, error)
	ByUser(ctx context.Context, userID, provider string) (*Link, error)
	Update(ctx context.Context, l *Link) error
	Touch(ctx context.Context, provider, subject string, at time.Time) error
	Delete(ctx context.Context, provider, subject string) error
	// DeleteStale removes links whose last login predates the cutoff and
	// reports how many were removed.
	DeleteStale(ctx context.Context, before time.Time) (int, error)
}
