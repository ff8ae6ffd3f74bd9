// Package limiter throttles login attempts per (username, client address).
package limiter

import (
	"context"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
}

// Policy configures how many failures inside Window trigger a block of BlockFor.
type Policy struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Window <= 0 {
		p.Window = 15 * time.Minute
	}
	if p.MaxFails <= 0 {
		p.MaxFails = 5
	}
	if p.BlockFor <= 0 {
		p.BlockFor = 15 * time.Minute
	}
	return p
}
