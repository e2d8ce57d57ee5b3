package kpi

import (
	"math"
	"sort"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

// NetNewMRR splits MRR movement inside w into new, expansion, contraction
// and churn buckets.
//
// New counts the first in-window subscription of each user once. Expansion
// and contraction compare each user's subscriptions pairwise in StartedAt
// order; only the pairs whose later record started inside w count. Each
// bucket is rounded to whole cents once and NetNew is derived from the
// rounded buckets, so the identity holds exactly.
func NetNewMRR(subs []domain.Subscription, w domain.Window) domain.NetNewMRRBreakdown {
	var newMRR, expansion, contraction, churn float64

	seen := make(map[string]struct{})
	byUser := make(map[string][]domain.Subscription)
	users := make([]string, 0)
	for _, sub := range subs {
		if w.Contains(sub.StartedAt) {
			if _, ok := seen[sub.UserID]; !ok {
				seen[sub.UserID] = struct{}{}
				newMRR += sub.MonthlyAmount()
			}
		}
		if sub.CanceledAt != nil && w.Contains(*sub.CanceledAt) {
			churn += sub.MonthlyAmount()
		}
		if _, ok := byUser[sub.UserID]; !ok {
			users = append(users, sub.UserID)
		}
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}

	for _, user := range users {
		history := byUser[user]
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].StartedAt.Before(history[j].StartedAt)
		})
		for i := 1; i < len(history); i++ {
			curr := history[i]
			if !w.Contains(curr.StartedAt) {
				continue
			}
			delta := curr.MonthlyAmount() - history[i-1].MonthlyAmount()
			switch {
			case delta > 0:
				expansion += delta
			case delta < 0:
				contraction += math.Abs(delta)
			}
		}
	}

	out := domain.NetNewMRRBreakdown{
		New:         roundCents(newMRR),
		Expansion:   roundCents(expansion),
		Contraction: roundCents(contraction),
		Churn:       roundCents(churn),
	}
	out.NetNew = out.New + out.Expansion - out.Contraction - out.Churn
	return out
}

// MonthlyNetNewMRR returns one breakdown per UTC calendar month for the
// months ending with now's month, oldest first.
func MonthlyNetNewMRR(subs []domain.Subscription, now time.Time, months int) []domain.MonthlyNetNew {
	if months <= 0 {
		return []domain.MonthlyNetNew{}
	}
	current := domain.MonthStart(now)
	out := make([]domain.MonthlyNetNew, 0, months)
	for i := months - 1; i >= 0; i-- {
		start := current.AddDate(0, -i, 0)
		out = append(out, domain.MonthlyNetNew{
			Month:              start.Format(cohortMonthLayout),
			NetNewMRRBreakdown: NetNewMRR(subs, domain.MonthWindow(start)),
		})
	}
	return out
}
