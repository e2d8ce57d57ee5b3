package kpi

import (
	"sort"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

const cohortMonthLayout = "2006-01"

// ChurnRate divides subscriptions canceled inside w by the base active at
// w.Start. The base is every subscription started before w.Start and not
// canceled before it.
func ChurnRate(subs []domain.Subscription, w domain.Window) float64 {
	base := 0
	canceled := 0
	for _, sub := range subs {
		if sub.StartedAt.Before(w.Start) && (sub.CanceledAt == nil || !sub.CanceledAt.Before(w.Start)) {
			base++
		}
		if sub.CanceledAt != nil && w.Contains(*sub.CanceledAt) {
			canceled++
		}
	}
	if base == 0 {
		return 0
	}
	return float64(canceled) / float64(base)
}

// MonthlyChurnRate is ChurnRate over the UTC calendar month containing month.
func MonthlyChurnRate(subs []domain.Subscription, month time.Time) float64 {
	return ChurnRate(subs, domain.MonthWindow(month))
}

// NRR returns 0 when currentMRR is 0. Callers treat that as "no baseline".
func NRR(currentMRR, expansion, churned int64) float64 {
	if currentMRR == 0 {
		return 0
	}
	return float64(currentMRR+expansion-churned) / float64(currentMRR)
}

// BuildRetentionCohorts groups users by the UTC month of their first order
// and returns a fixed 6x6 retention matrix, oldest cohort first. The six most
// recent observed cohorts are used. When fewer than six exist, the remaining
// rows are zero-retention months counted back from the latest cohort (or
// from ref's month when orders is empty).
func BuildRetentionCohorts(orders []domain.Order, ref time.Time) []domain.CohortRow {
	firstMonth := make(map[string]int)
	activity := make(map[string]map[int]struct{})
	for _, o := range orders {
		m := monthIndex(o.CreatedAt)
		if cur, ok := firstMonth[o.UserID]; !ok || m < cur {
			firstMonth[o.UserID] = m
		}
		if activity[o.UserID] == nil {
			activity[o.UserID] = make(map[int]struct{})
		}
		activity[o.UserID][m] = struct{}{}
	}

	members := make(map[int][]string)
	for user, m := range firstMonth {
		members[m] = append(members[m], user)
	}

	observed := make([]int, 0, len(members))
	for m := range members {
		observed = append(observed, m)
	}
	sort.Ints(observed)
	if len(observed) > domain.CohortWidth {
		observed = observed[len(observed)-domain.CohortWidth:]
	}

	months := make(map[int]struct{}, domain.CohortWidth)
	for _, m := range observed {
		months[m] = struct{}{}
	}
	latest := monthIndex(ref)
	if len(observed) > 0 {
		latest = observed[len(observed)-1]
	}
	for m := latest; len(months) < domain.CohortWidth; m-- {
		months[m] = struct{}{}
	}

	keys := make([]int, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Ints(keys)

	rows := make([]domain.CohortRow, 0, len(keys))
	for _, m := range keys {
		rows = append(rows, cohortRow(m, members[m], activity))
	}
	return rows
}

func cohortRow(month int, users []string, activity map[string]map[int]struct{}) domain.CohortRow {
	cells := make([]domain.CohortCell, domain.CohortWidth)
	for k := range cells {
		cells[k].MonthIndex = k
		if len(users) == 0 {
			continue
		}
		retained := 0
		for _, u := range users {
			if _, ok := activity[u][month+k]; ok {
				retained++
			}
		}
		cells[k].Retention = float64(retained) / float64(len(users))
	}
	return domain.CohortRow{
		CohortMonth: monthFromIndex(month).Format(cohortMonthLayout),
		Cells:       cells,
	}
}

func monthIndex(t time.Time) int {
	u := t.UTC()
	return u.Year()*12 + int(u.Month()) - 1
}

func monthFromIndex(idx int) time.Time {
	return time.Date(idx/12, time.Month(idx%12+1), 1, 0, 0, 0, 0, time.UTC)
}
