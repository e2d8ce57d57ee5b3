package kpi

import (
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

// estimatedRetries stands in for retry tracking, which the payment source
// does not expose.
const estimatedRetries = 2.5

func refundedOrderIDs(refunds []domain.Refund) map[string]struct{} {
	ids := make(map[string]struct{}, len(refunds))
	for _, r := range refunds {
		ids[r.OrderID] = struct{}{}
	}
	return ids
}

func failedOrders(orders []domain.Order, refundedIDs map[string]struct{}) []domain.Order {
	out := make([]domain.Order, 0)
	for _, o := range orders {
		if _, ok := refundedIDs[o.ID]; ok || o.Refunded() {
			out = append(out, o)
		}
	}
	return out
}

// FailedPaymentsRate is the share of orders that were refunded or are
// referenced by a refund.
func FailedPaymentsRate(orders []domain.Order, refunds []domain.Refund) float64 {
	if len(orders) == 0 {
		return 0
	}
	failed := failedOrders(orders, refundedOrderIDs(refunds))
	return float64(len(failed)) / float64(len(orders))
}

// RefundRate divides refunded value by ordered value.
func RefundRate(orders []domain.Order, refunds []domain.Refund) float64 {
	var total int64
	for _, o := range orders {
		total += o.AmountCents
	}
	if total == 0 {
		return 0
	}
	var refunded int64
	for _, r := range refunds {
		refunded += r.AmountCents
	}
	return float64(refunded) / float64(total)
}

// Dunning summarizes failed payments over [now-days, now) and compares the
// failure rate with the preceding window of the same length.
//
// A failed order with no refund created inside the window counts as
// recovered. That is an approximation: a retry is never confirmed directly.
func Dunning(orders []domain.Order, refunds []domain.Refund, now time.Time, days int) domain.DunningMetrics {
	window := domain.TrailingWindow(now, days)
	allRefunded := refundedOrderIDs(refunds)

	current := OrdersIn(orders, window)
	failed := failedOrders(current, allRefunded)

	var out domain.DunningMetrics
	if len(current) > 0 {
		out.FailedPaymentsRate = float64(len(failed)) / float64(len(current))
	}

	if len(failed) > 0 {
		refundedInWindow := refundedOrderIDs(RefundsIn(refunds, window))
		recovered := 0
		for _, o := range failed {
			out.AmountAtRisk += o.AmountCents
			if _, ok := refundedInWindow[o.ID]; !ok {
				recovered++
			}
		}
		out.RecoveryRate = float64(recovered) / float64(len(failed))
		out.AvgRetries = estimatedRetries
	}

	var previousRate float64
	previous := OrdersIn(orders, window.Previous())
	if len(previous) > 0 {
		previousRate = float64(len(failedOrders(previous, allRefunded))) / float64(len(previous))
	}
	out.FailedPaymentsRateDelta = out.FailedPaymentsRate - previousRate
	return out
}
