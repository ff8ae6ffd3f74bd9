package limiter

import (
	"context"
	"sync"
	"time"
)

type memKey struct {
	username string
	ip       string
}

type memEntry struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is a process-local limiter used with the in-memory store.
type Memory struct {
	mu      sync.Mutex
	entries map[memKey]*memEntry
	policy  Policy
	now     func() time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{entries: make(map[memKey]*memEntry), policy: p.withDefaults(), now: time.Now}
}

// Allow reports whether the pair is currently unblocked.
func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[memKey{username, string(ipHash)}]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the pair.
func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	delete(l.entries, memKey{username, string(ipHash)})
	l.mu.Unlock()
	return nil
}

// Failure counts a failed attempt with the same window rules as PG.
func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	k := memKey{username, string(ipHash)}
	e, ok := l.entries[k]
	switch {
	case !ok:
		e = &memEntry{}
		l.entries[k] = e
		fallthrough
	case now.Sub(e.updatedAt) > l.policy.Window:
		e.fails = 0
	}
	e.fails++
	e.updatedAt = now
	if e.fails < l.policy.MaxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(l.policy.BlockFor)
	return true, l.policy.BlockFor, nil
}
