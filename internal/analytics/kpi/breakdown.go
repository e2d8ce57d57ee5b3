package kpi

import (
	"sort"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

const (
	defaultChannel = "direct"
	unknownPlan    = "unknown"
)

// TopCustomersByLTV ranks users by the sum of their non-refunded orders.
func TopCustomersByLTV(orders []domain.Order, limit int) []domain.CustomerValue {
	totals := make(map[string]int64)
	for _, o := range orders {
		if o.Refunded() {
			continue
		}
		totals[o.UserID] += o.AmountCents
	}
	out := make([]domain.CustomerValue, 0, len(totals))
	for user, cents := range totals {
		out = append(out, domain.CustomerValue{UserID: user, LTVCents: cents})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LTVCents != out[j].LTVCents {
			return out[i].LTVCents > out[j].LTVCents
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RevenueByPlan is MRR at at grouped by plan.
func RevenueByPlan(subs []domain.Subscription, at time.Time) []domain.RevenueSlice {
	totals := make(map[string]float64)
	for _, sub := range activeSubscriptions(subs, at) {
		plan := strings.TrimSpace(sub.PlanID)
		if plan == "" {
			plan = unknownPlan
		}
		totals[plan] += sub.MonthlyAmount()
	}
	out := make([]domain.RevenueSlice, 0, len(totals))
	for plan, amount := range totals {
		out = append(out, domain.RevenueSlice{Key: plan, AmountCents: roundCents(amount)})
	}
	sortSlices(out)
	return out
}

// RevenueByChannel sums succeeded orders per normalized channel label.
func RevenueByChannel(orders []domain.Order) []domain.RevenueSlice {
	totals := make(map[string]int64)
	for _, o := range orders {
		if o.Status != domain.OrderStatusSucceeded {
			continue
		}
		totals[channelKey(o.Channel)] += o.AmountCents
	}
	out := make([]domain.RevenueSlice, 0, len(totals))
	for key, amount := range totals {
		out = append(out, domain.RevenueSlice{Key: key, AmountCents: amount})
	}
	sortSlices(out)
	return out
}

func channelKey(raw string) string {
	key := slug.Make(strings.TrimSpace(raw))
	if key == "" {
		return defaultChannel
	}
	return key
}

func sortSlices(s []domain.RevenueSlice) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].AmountCents != s[j].AmountCents {
			return s[i].AmountCents > s[j].AmountCents
		}
		return s[i].Key < s[j].Key
	})
}
