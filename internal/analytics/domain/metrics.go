package domain

import "time"

const CohortWidth = 6

type CohortCell struct {
	MonthIndex int     `json:"monthIndex"`
	Retention  float64 `json:"retention"`
}

type CohortRow struct {
	CohortMonth string       `json:"cohortMonth"`
	Cells       []CohortCell `json:"cells"`
}

// NetNewMRRBreakdown holds integer cents. NetNew always equals
// New + Expansion - Contraction - Churn.
type NetNewMRRBreakdown struct {
	New         int64 `json:"new"`
	Expansion   int64 `json:"expansion"`
	Contraction int64 `json:"contraction"`
	Churn       int64 `json:"churn"`
	NetNew      int64 `json:"netNew"`
}

type DunningMetrics struct {
	FailedPaymentsRate      float64 `json:"failedPaymentsRate"`
	FailedPaymentsRateDelta float64 `json:"failedPaymentsRateDelta"`
	AmountAtRisk            int64   `json:"amountAtRisk"`
	RecoveryRate            float64 `json:"recoveryRate"`
	AvgRetries              float64 `json:"avgRetries"`
}

type CustomerValue struct {
	UserID   string `json:"userId"`
	LTVCents int64  `json:"ltvCents"`
}

type RevenueSlice struct {
	Key         string `json:"key"`
	AmountCents int64  `json:"amountCents"`
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// TrailingWindow returns [now - days, now).
func TrailingWindow(now time.Time, days int) Window {
	return Window{
		Start: now.Add(-time.Duration(days) * 24 * time.Hour),
		End:   now,
	}
}

// MonthWindow returns the UTC calendar month containing t.
func MonthWindow(t time.Time) Window {
	start := MonthStart(t)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// MonthStart truncates t to the first instant of its UTC calendar month.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Previous returns the equal-length window ending where w starts.
func (w Window) Previous() Window {
	length := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-length), End: w.Start}
}
