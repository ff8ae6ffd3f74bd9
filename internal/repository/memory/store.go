// Package memory contains an in-process implementation of the repository
// interfaces with optimistic, version-checked transactions. It backs the
// development server mode and service tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
)

const defaultMaxAttempts = 8

type ownedKey struct {
	user uuid.UUID
	item string
}

type ownedRec struct {
	item model.OwnedItem
	ver  int64
}

// Store keeps all records in maps guarded by a single mutex.
type Store struct {
	mu     sync.Mutex
	users  map[uuid.UUID]model.User
	byName map[string]uuid.UUID
	states map[uuid.UUID]model.GamificationState
	items  map[string]model.ShopItem
	owned  map[ownedKey]ownedRec

	now         func() time.Time
	maxAttempts int
}

var (
	_ repository.UserRepository    = (*Store)(nil)
	_ repository.GamificationStore = (*Store)(nil)
)

// New constructs an empty store.
func New() *Store {
	return &Store{
		users:       map[uuid.UUID]model.User{},
		byName:      map[string]uuid.UUID{},
		states:      map[uuid.UUID]model.GamificationState{},
		items:       map[string]model.ShopItem{},
		owned:       map[ownedKey]ownedRec{},
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
}

// SetClock overrides the time source used for PurchasedAt/UpdatedAt stamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// PutState stores a gamification record directly. Intended for seeding.
func (s *Store) PutState(st model.GamificationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Ver == 0 {
		st.Ver = 1
	}
	s.states[st.UserID] = st.Clone()
}

// --- users ---

// Create inserts a user and an empty gamification record.
func (s *Store) Create(_ context.Context, u *model.User, startingGems int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	s.users[u.ID] = cp
	s.byName[u.Username] = u.ID
	s.states[u.ID] = model.GamificationState{UserID: u.ID, GemsBalance: startingGems, Ver: 1, UpdatedAt: cp.CreatedAt}
	return nil
}

// GetByID loads a user by id.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// GetByUsername loads a user by username.
func (s *Store) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// --- gamification reads ---

// State returns a copy of a user's record.
func (s *Store) State(_ context.Context, userID uuid.UUID) (*model.GamificationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := st.Clone()
	return &c, nil
}

// OwnedItems lists a user's holdings ordered by item id.
func (s *Store) OwnedItems(_ context.Context, userID uuid.UUID) ([]model.OwnedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OwnedItem
	for k, rec := range s.owned {
		if k.user == userID {
			out = append(out, rec.item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShopItemID < out[j].ShopItemID })
	return out, nil
}

// Catalog lists items ordered by category, cost and id.
func (s *Store) Catalog(_ context.Context, includeDisabled bool) ([]model.ShopItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ShopItem, 0, len(s.items))
	for _, it := range s.items {
		if it.IsDisabled && !includeDisabled {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.CostInGems != b.CostInGems {
			return a.CostInGems < b.CostInGems
		}
		return a.ID < b.ID
	})
	return out, nil
}

// UpsertItems inserts or replaces catalog entries.
func (s *Store) UpsertItems(_ context.Context, items []model.ShopItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = it
	}
	return nil
}

// ListStates pages through records in user id order.
func (s *Store) ListStates(_ context.Context, afterID uuid.UUID, limit int) ([]model.GamificationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.states))
	after := afterID.String()
	for id := range s.states {
		if afterID == uuid.Nil || id.String() > after {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.GamificationState, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.states[id].Clone())
	}
	return out, nil
}

// ApplyReconciled stores each state whose version still matches.
func (s *Store) ApplyReconciled(_ context.Context, states []model.GamificationState) ([]model.ReconcileWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]model.ReconcileWrite, 0, len(states))
	for _, st := range states {
		cur, ok := s.states[st.UserID]
		switch {
		case !ok:
			res = append(res, model.ReconcileWrite{UserID: st.UserID, Outcome: model.WriteFailed, Err: errs.ErrNotFound})
		case cur.Ver != st.Ver:
			res = append(res, model.ReconcileWrite{UserID: st.UserID, Outcome: model.WriteConflict, Err: errs.ErrVersionConflict})
		default:
			next := st.Clone()
			next.Ver = cur.Ver + 1
			next.UpdatedAt = s.now().UTC()
			s.states[st.UserID] = next
			res = append(res, model.ReconcileWrite{UserID: st.UserID, Outcome: model.WriteApplied})
		}
	}
	return res, nil
}

// --- transactions ---

// RunInTx runs fn against a snapshot and commits if nothing it read has
// changed meanwhile; otherwise fn is retried.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := tx.commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("memory tx: %d attempts: %w", s.maxAttempts, errs.ErrVersionConflict)
}

type tx struct {
	s *Store

	stateVer map[uuid.UUID]int64
	states   map[uuid.UUID]model.GamificationState
	putState map[uuid.UUID]bool
	ownedVer map[ownedKey]int64 // 0 = absent when read
	owned    map[ownedKey]model.OwnedItem
	dirty    map[ownedKey]bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:        s,
		stateVer: map[uuid.UUID]int64{},
		states:   map[uuid.UUID]model.GamificationState{},
		putState: map[uuid.UUID]bool{},
		ownedVer: map[ownedKey]int64{},
		owned:    map[ownedKey]model.OwnedItem{},
		dirty:    map[ownedKey]bool{},
	}
}

func (t *tx) State(_ context.Context, userID uuid.UUID) (*model.GamificationState, error) {
	if st, ok := t.states[userID]; ok {
		c := st.Clone()
		return &c, nil
	}
	t.s.mu.Lock()
	st, ok := t.s.states[userID]
	t.s.mu.Unlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	t.stateVer[userID] = st.Ver
	t.states[userID] = st.Clone()
	c := st.Clone()
	return &c, nil
}

func (t *tx) PutState(_ context.Context, st *model.GamificationState) error {
	if _, ok := t.stateVer[st.UserID]; !ok {
		return fmt.Errorf("put state %s: not read in this transaction", st.UserID)
	}
	t.states[st.UserID] = st.Clone()
	t.putState[st.UserID] = true
	return nil
}

func (t *tx) Item(_ context.Context, itemID string) (*model.ShopItem, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	it, ok := t.s.items[itemID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &it, nil
}

func (t *tx) Owned(_ context.Context, userID uuid.UUID, itemID string) (model.OwnedItem, error) {
	k := ownedKey{user: userID, item: itemID}
	if it, ok := t.owned[k]; ok {
		return it, nil
	}
	t.s.mu.Lock()
	rec, ok := t.s.owned[k]
	t.s.mu.Unlock()
	if !ok {
		t.ownedVer[k] = 0
		t.owned[k] = model.OwnedItem{ShopItemID: itemID}
		return t.owned[k], nil
	}
	t.ownedVer[k] = rec.ver
	t.owned[k] = rec.item
	return rec.item, nil
}

func (t *tx) AddOwned(ctx context.Context, userID uuid.UUID, itemID string, delta int64) (model.OwnedItem, error) {
	cur, err := t.Owned(ctx, userID, itemID)
	if err != nil {
		return model.OwnedItem{}, err
	}
	k := ownedKey{user: userID, item: itemID}
	if cur.Quantity+delta < 0 {
		return model.OwnedItem{}, fmt.Errorf("%w: owned quantity of %s would go negative", errs.ErrFailedPrecondition, itemID)
	}
	if t.ownedVer[k] == 0 && cur.PurchasedAt.IsZero() {
		cur.PurchasedAt = t.s.now().UTC()
	}
	cur.Quantity += delta
	t.owned[k] = cur
	t.dirty[k] = true
	return cur, nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ver := range t.stateVer {
		if cur, ok := s.states[id]; !ok || cur.Ver != ver {
			return errs.ErrVersionConflict
		}
	}
	for k, ver := range t.ownedVer {
		if s.owned[k].ver != ver {
			return errs.ErrVersionConflict
		}
	}

	now := s.now().UTC()
	for id := range t.putState {
		st := t.states[id]
		st.Ver = t.stateVer[id] + 1
		st.UpdatedAt = now
		s.states[id] = st
	}
	for k := range t.dirty {
		s.owned[k] = ownedRec{item: t.owned[k], ver: t.ownedVer[k] + 1}
	}
	return nil
}
