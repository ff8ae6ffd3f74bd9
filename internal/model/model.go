// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access/refresh tokens (refresh optional).
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	CreatedAt time.Time
}

// GamificationState is the per-user streak, XP and currency record.
// Dates are UTC days (midnight); timestamps are UTC instants.
type GamificationState struct {
	UserID uuid.UUID

	CurrentStreak    int64
	LongestStreak    int64
	LastActivityDate *time.Time // nil until the first qualifying activity

	GemsBalance int64 // never negative
	XPTotal     int64
	XPWeekly    int64 // reset every Monday

	StreakFreezes     int64
	IsStreakProtected bool // set only on the day a freeze was consumed

	StreakFreezeUsageDates []time.Time // append-only
	StreakRepairDates      []time.Time // append-only
	StreakResetDates       []time.Time // append-only

	LostStreakValue int64
	LostStreakAt    *time.Time // snapshot taken when a streak is reset

	LastReconciledDate *time.Time
	Ver                int64 // bumped on every write
	UpdatedAt          time.Time
}

// Clone returns a deep copy so reducers never alias the caller's slices.
func (s GamificationState) Clone() GamificationState {
	out := s
	out.LastActivityDate = cloneTime(s.LastActivityDate)
	out.LostStreakAt = cloneTime(s.LostStreakAt)
	out.LastReconciledDate = cloneTime(s.LastReconciledDate)
	out.StreakFreezeUsageDates = append([]time.Time(nil), s.StreakFreezeUsageDates...)
	out.StreakRepairDates = append([]time.Time(nil), s.StreakRepairDates...)
	out.StreakResetDates = append([]time.Time(nil), s.StreakResetDates...)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ItemType classifies shop items.
type ItemType string

const (
	ItemConsumable      ItemType = "consumable"
	ItemPermanentUnlock ItemType = "permanent_unlock"
)

// ShopItem is a purchasable catalog entry.
type ShopItem struct {
	ID          string   `yaml:"id" json:"id" validate:"required,max=64"`
	Name        string   `yaml:"name" json:"name" validate:"required"`
	CostInGems  int64    `yaml:"costInGems" json:"costInGems" validate:"gt=0"`
	Category    string   `yaml:"category" json:"category"`
	Type        ItemType `yaml:"type" json:"type" validate:"oneof=consumable permanent_unlock"`
	IsDisabled  bool     `yaml:"isDisabled" json:"isDisabled"`
	Description string   `yaml:"description" json:"description"`
	ImageURL    string   `yaml:"imageUrl" json:"imageUrl" validate:"omitempty,url"`
}

// OwnedItem is a user's holding of a shop item. Quantity 0 means depleted.
type OwnedItem struct {
	ShopItemID  string
	Quantity    int64
	PurchasedAt time.Time // set on first purchase only
}

// PurchaseResult reports a committed purchase.
type PurchaseResult struct {
	Success     bool
	Message     string
	GemsBalance int64 // balance after debit
	Quantity    int64 // owned quantity after purchase
}

// RepairResult reports a committed streak repair.
type RepairResult struct {
	Success        bool
	RestoredStreak int64
}

// AuditKind names a bookkeeping transition.
type AuditKind string

const (
	AuditFreezeConsumed AuditKind = "freeze_consumed"
	AuditStreakReset    AuditKind = "streak_reset"
	AuditWeeklyXPReset  AuditKind = "weekly_xp_reset"
	AuditStreakRepaired AuditKind = "streak_repaired"
)

// AuditEvent describes a single transition applied to a user's state.
type AuditEvent struct {
	UserID uuid.UUID
	Kind   AuditKind
	Day    time.Time
	Value  int64 // streak or XP value affected
}

// WriteOutcome is the per-user result of a reconciliation write.
type WriteOutcome int

const (
	WriteApplied WriteOutcome = iota
	WriteConflict
	WriteFailed
)

// ReconcileWrite pairs a user with the outcome of its batched write.
type ReconcileWrite struct {
	UserID  uuid.UUID
	Outcome WriteOutcome
	Err     error
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Day          time.Time
	Scanned      int
	Updated      int
	Skipped      int
	Conflicts    int
	Failed       int
	FreezesUsed  int
	Resets       int
	WeeklyResets int
}
