// Package alert evaluates threshold rules over computed revenue metrics.
package alert

import (
	"fmt"
	"math"
	"time"

	"github.com/smallbiznis/revlens/internal/alert/domain"
	"github.com/smallbiznis/revlens/internal/config"
)

// Evaluate returns the alerts raised by snapshot, in rule order.
func Evaluate(snapshot domain.Snapshot, cfg config.AlertConfig, at time.Time) []domain.Alert {
	alerts := make([]domain.Alert, 0, 4)

	if snapshot.RefundRate > cfg.RefundRateHigh {
		alerts = append(alerts, domain.Alert{
			Rule:        domain.RuleRefundRateHigh,
			Name:        "High Refund Rate",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("Refund rate exceeds %s", percent(cfg.RefundRateHigh)),
			Value:       snapshot.RefundRate,
			Threshold:   cfg.RefundRateHigh,
			TriggeredAt: at,
		})
	}

	if snapshot.FailedPaymentsRate > cfg.FailedPaymentsHigh {
		alerts = append(alerts, domain.Alert{
			Rule:        domain.RuleFailedPaymentsHigh,
			Name:        "High Failed Payments",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("Failed payments rate exceeds %s", percent(cfg.FailedPaymentsHigh)),
			Value:       snapshot.FailedPaymentsRate,
			Threshold:   cfg.FailedPaymentsHigh,
			TriggeredAt: at,
		})
	}

	if streak := NegativeStreak(snapshot.NetNewSeries); streak >= cfg.NetNewNegativePeriods {
		alerts = append(alerts, domain.Alert{
			Rule:        domain.RuleNetNewMRRNegative,
			Name:        "Negative Net New MRR",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("Net New MRR negative for %d+ consecutive periods", cfg.NetNewNegativePeriods),
			Value:       float64(streak),
			Threshold:   float64(cfg.NetNewNegativePeriods),
			TriggeredAt: at,
		})
	}

	if snapshot.NRR > 0 && snapshot.NRR < cfg.NRRFloor {
		alerts = append(alerts, domain.Alert{
			Rule:        domain.RuleNRRBelow100,
			Name:        "NRR Below 100%",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("Net Revenue Retention below %s month-to-date", percent(cfg.NRRFloor)),
			Value:       snapshot.NRR,
			Threshold:   cfg.NRRFloor,
			TriggeredAt: at,
		})
	}

	return alerts
}

// NegativeStreak counts trailing negative values in series.
func NegativeStreak(series []int64) int {
	streak := 0
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] >= 0 {
			break
		}
		streak++
	}
	return streak
}

func percent(v float64) string {
	return fmt.Sprintf("%g%%", math.Round(v*10000)/100)
}
