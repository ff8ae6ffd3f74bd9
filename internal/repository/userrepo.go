// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/streakkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to accounts.
type UserRepository interface {
	// Create inserts a new user together with an empty gamification record
	// holding startingGems.
	Create(ctx context.Context, u *model.User, startingGems int64) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}
