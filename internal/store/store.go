// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/tradeflow-ai/tradeflow/internal/domain"
)

// ErrUsernameTaken is returned by CreateUser when the username is already
// registered. The insert performs no write in that case.
var ErrUsernameTaken = errors.New("username already registered")

// Repository defines the interface for persisting user accounts.
type Repository interface {
	// CreateUser inserts a new user record. Returns ErrUsernameTaken if the
	// username is already registered.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUserByUsername retrieves a user by username. Returns (nil, nil) if
	// no such user exists.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// CountUsers returns the number of registered users.
	CountUsers(ctx context.Context) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
