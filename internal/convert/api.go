// Package convert maps domain models to API messages.
package convert

import (
	"time"

	"github.com/and161185/streakkeeper/internal/api"
	"github.com/and161185/streakkeeper/internal/model"
)

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

// ToProfile converts a gamification record. repairWindow is used to report
// until when a lost streak can still be repaired.
func ToProfile(st model.GamificationState, repairWindow time.Duration) *api.Profile {
	p := &api.Profile{
		UserID:            st.UserID.String(),
		CurrentStreak:     st.CurrentStreak,
		LongestStreak:     st.LongestStreak,
		LastActivityDate:  timePtr(st.LastActivityDate),
		GemsBalance:       st.GemsBalance,
		XPTotal:           st.XPTotal,
		XPWeekly:          st.XPWeekly,
		StreakFreezes:     st.StreakFreezes,
		IsStreakProtected: st.IsStreakProtected,
		LostStreakValue:   st.LostStreakValue,
		LostStreakAt:      timePtr(st.LostStreakAt),
	}
	if st.LostStreakAt != nil && st.LostStreakValue > 0 {
		d := st.LostStreakAt.UTC().Add(repairWindow)
		p.RepairDeadline = &d
	}
	return p
}

// ToShopItems converts catalog entries.
func ToShopItems(items []model.ShopItem) []api.ShopItem {
	out := make([]api.ShopItem, 0, len(items))
	for _, it := range items {
		out = append(out, api.ShopItem{
			ID:          it.ID,
			Name:        it.Name,
			CostInGems:  it.CostInGems,
			Category:    it.Category,
			Type:        string(it.Type),
			IsDisabled:  it.IsDisabled,
			Description: it.Description,
			ImageURL:    it.ImageURL,
		})
	}
	return out
}

// ToOwnedItems converts holdings.
func ToOwnedItems(items []model.OwnedItem) []api.OwnedItem {
	out := make([]api.OwnedItem, 0, len(items))
	for _, it := range items {
		out = append(out, api.OwnedItem{
			ShopItemID:  it.ShopItemID,
			Quantity:    it.Quantity,
			PurchasedAt: it.PurchasedAt.UTC(),
		})
	}
	return out
}

// ToPurchaseResponse converts a purchase result.
func ToPurchaseResponse(r model.PurchaseResult) *api.PurchaseItemResponse {
	return &api.PurchaseItemResponse{
		Success:     r.Success,
		Message:     r.Message,
		GemsBalance: r.GemsBalance,
		Quantity:    r.Quantity,
	}
}

// ToRepairResponse converts a repair result.
func ToRepairResponse(r model.RepairResult) *api.RepairStreakResponse {
	return &api.RepairStreakResponse{Success: r.Success, RestoredStreak: r.RestoredStreak}
}
