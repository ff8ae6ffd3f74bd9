// Package api defines the streakkeeper.v1.StreakKeeper gRPC service: its
// messages, service descriptor, JSON codec and client.
package api

import "time"

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"userId"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userId"`
}

type GetProfileRequest struct{}

// Profile is the caller-visible part of a user's gamification record.
type Profile struct {
	UserID            string     `json:"userId"`
	CurrentStreak     int64      `json:"currentStreak"`
	LongestStreak     int64      `json:"longestStreak"`
	LastActivityDate  *time.Time `json:"lastActivityDate,omitempty"`
	GemsBalance       int64      `json:"gemsBalance"`
	XPTotal           int64      `json:"xpTotal"`
	XPWeekly          int64      `json:"xpWeekly"`
	StreakFreezes     int64      `json:"streakFreezes"`
	IsStreakProtected bool       `json:"isStreakProtected"`
	LostStreakValue   int64      `json:"lostStreakValue"`
	LostStreakAt      *time.Time `json:"lostStreakAt,omitempty"`
	RepairDeadline    *time.Time `json:"repairDeadline,omitempty"`
}

type GetShopCatalogRequest struct {
	IncludeDisabled bool `json:"includeDisabled"`
}

type ShopItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CostInGems  int64  `json:"costInGems"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	IsDisabled  bool   `json:"isDisabled"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type GetShopCatalogResponse struct {
	Items []ShopItem `json:"items"`
}

type GetOwnedItemsRequest struct{}

type OwnedItem struct {
	ShopItemID  string    `json:"shopItemId"`
	Quantity    int64     `json:"quantity"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

type GetOwnedItemsResponse struct {
	Items []OwnedItem `json:"items"`
}

type PurchaseItemRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int64  `json:"quantity"`
}

type PurchaseItemResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	GemsBalance int64  `json:"gemsBalance"`
	Quantity    int64  `json:"quantity"`
}

type RepairStreakRequest struct{}

type RepairStreakResponse struct {
	Success        bool  `json:"success"`
	RestoredStreak int64 `json:"restoredStreak"`
}
