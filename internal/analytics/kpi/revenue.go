package kpi

import (
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

// ltvFallbackMonths is the assumed lifetime when observed churn is zero.
const ltvFallbackMonths = 12

// MRR sums the normalized monthly amount of every subscription active at
// at. Rounding to whole cents happens once, after summation.
func MRR(subs []domain.Subscription, at time.Time) int64 {
	var total float64
	for _, sub := range subs {
		if IsActiveAt(sub, at) {
			total += sub.MonthlyAmount()
		}
	}
	return roundCents(total)
}

func ARR(mrr int64) int64 {
	return mrr * 12
}

// ActiveUserCount counts distinct users holding at least one subscription
// active at at.
func ActiveUserCount(subs []domain.Subscription, at time.Time) int {
	users := make(map[string]struct{})
	for _, sub := range activeSubscriptions(subs, at) {
		users[sub.UserID] = struct{}{}
	}
	return len(users)
}

// ARPU divides succeeded order revenue by activeUsers.
func ARPU(orders []domain.Order, activeUsers int) float64 {
	if activeUsers <= 0 {
		return 0
	}
	var total int64
	for _, o := range orders {
		if o.Status == domain.OrderStatusSucceeded {
			total += o.AmountCents
		}
	}
	return float64(total) / float64(activeUsers)
}

func LTV(churnRate, arpu float64) float64 {
	if churnRate == 0 {
		return arpu * ltvFallbackMonths
	}
	return arpu / churnRate
}

func CAC(spendCents int64, newCustomers int) float64 {
	if newCustomers <= 0 {
		return 0
	}
	return float64(spendCents) / float64(newCustomers)
}

// Payback is nil when cac is not positive; nil means undefined, not zero.
func Payback(ltv, cac float64) *float64 {
	if cac <= 0 {
		return nil
	}
	v := ltv / cac
	return &v
}

func MRRGrowthRate(current, previous int64) float64 {
	if previous == 0 {
		return 0
	}
	return float64(current-previous) / float64(previous)
}

// NewCustomers counts users whose first subscription started inside w.
func NewCustomers(subs []domain.Subscription, w domain.Window) int {
	first := make(map[string]time.Time)
	for _, sub := range subs {
		if t, ok := first[sub.UserID]; !ok || sub.StartedAt.Before(t) {
			first[sub.UserID] = sub.StartedAt
		}
	}
	count := 0
	for _, t := range first {
		if w.Contains(t) {
			count++
		}
	}
	return count
}
