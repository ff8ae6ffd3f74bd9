// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFailedPrecondition indicates a business rule rejected the request.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrVersionConflict indicates optimistic concurrency failure (version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Business rule violations. All of them match ErrFailedPrecondition with errors.Is.
var (
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrFailedPrecondition)
	ErrItemDisabled      = fmt.Errorf("%w: item is disabled", ErrFailedPrecondition)
	ErrNoElixir          = fmt.Errorf("%w: no streak revival elixir", ErrFailedPrecondition)
	ErrNothingToRepair   = fmt.Errorf("%w: no lost streak to repair", ErrFailedPrecondition)
	ErrRepairExpired     = fmt.Errorf("%w: repair window expired", ErrFailedPrecondition)
)
