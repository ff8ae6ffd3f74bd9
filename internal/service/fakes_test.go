package service

import (
	"context"
	"time"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/limiter"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type fakeUsers struct {
	byName map[string]*model.User
	gems   map[uuid.UUID]int64

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User, startingGems int64) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if f.gems == nil {
		f.gems = map[uuid.UUID]int64{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	f.gems[u.ID] = startingGems
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeCache struct {
	data   map[bool][]model.ShopItem
	getErr error
	setErr error

	gets, sets, invalidations int
}

func (c *fakeCache) Get(_ context.Context, includeDisabled bool) ([]model.ShopItem, bool, error) {
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	items, ok := c.data[includeDisabled]
	return items, ok, nil
}

func (c *fakeCache) Set(_ context.Context, includeDisabled bool, items []model.ShopItem) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	if c.data == nil {
		c.data = map[bool][]model.ShopItem{}
	}
	c.data[includeDisabled] = items
	return nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.invalidations++
	c.data = nil
	return nil
}
