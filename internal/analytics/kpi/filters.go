// Package kpi reduces subscription, order and refund records into revenue
// metrics. Every function is pure: the reference instant is always a
// parameter and degenerate input yields a zero or nil sentinel.
package kpi

import (
	"math"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

// IsActiveAt reports whether sub is billing at the instant at. CanceledAt
// bounds the subscription when set, otherwise CurrentPeriodEnd does. With
// neither, the subscription is open-ended.
func IsActiveAt(sub domain.Subscription, at time.Time) bool {
	switch sub.Status {
	case domain.SubscriptionStatusActive, domain.SubscriptionStatusTrialing:
	default:
		return false
	}
	if !sub.StartedAt.Before(at) {
		return false
	}
	if sub.CanceledAt != nil {
		return sub.CanceledAt.After(at)
	}
	if sub.CurrentPeriodEnd != nil {
		return sub.CurrentPeriodEnd.After(at)
	}
	return true
}

func activeSubscriptions(subs []domain.Subscription, at time.Time) []domain.Subscription {
	out := make([]domain.Subscription, 0, len(subs))
	for _, sub := range subs {
		if IsActiveAt(sub, at) {
			out = append(out, sub)
		}
	}
	return out
}

// OrdersIn keeps the orders created inside w.
func OrdersIn(orders []domain.Order, w domain.Window) []domain.Order {
	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if w.Contains(o.CreatedAt) {
			out = append(out, o)
		}
	}
	return out
}

// RefundsIn keeps the refunds created inside w.
func RefundsIn(refunds []domain.Refund, w domain.Window) []domain.Refund {
	out := make([]domain.Refund, 0, len(refunds))
	for _, r := range refunds {
		if w.Contains(r.CreatedAt) {
			out = append(out, r)
		}
	}
	return out
}

// roundCents rounds half away from zero.
func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
