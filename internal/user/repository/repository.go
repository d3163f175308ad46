package repository

import (
	"context"
	"errors"

	"authgate/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when the email is already registered.
// The unique index on users.email is the authoritative guarantee; concurrent
// registrations racing past the service-level existence check land here.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
