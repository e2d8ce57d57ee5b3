package kpi

import (
	"math"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

const (
	anomalyZThreshold = 2.0
	minAnomalySamples = 3
)

// ZScores returns the population z-score of every sample. It returns nil
// when the series is shorter than three samples or flat.
func ZScores(samples []float64) []float64 {
	if len(samples) < minAnomalySamples {
		return nil
	}
	n := float64(len(samples))
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / n
	var variance float64
	for _, v := range samples {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / n)
	if std == 0 {
		return nil
	}
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = (v - mean) / std
	}
	return out
}

// DetectMRRAnomalies returns the indexes whose absolute z-score exceeds 2.
// Mean and deviation are computed over the whole series.
func DetectMRRAnomalies(samples []float64) []int {
	out := []int{}
	for i, z := range ZScores(samples) {
		if math.Abs(z) > anomalyZThreshold {
			out = append(out, i)
		}
	}
	return out
}

// MRRSeries samples MRR at each instant in points.
func MRRSeries(subs []domain.Subscription, points []time.Time) []int64 {
	out := make([]int64, len(points))
	for i, at := range points {
		out[i] = MRR(subs, at)
	}
	return out
}

// DailyPoints returns the end-of-day instants of the days UTC days ending
// with now's day, oldest first. The last point is now itself.
func DailyPoints(now time.Time, days int) []time.Time {
	if days <= 0 {
		return []time.Time{}
	}
	u := now.UTC()
	dayStart := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, 0, days)
	for i := days - 1; i > 0; i-- {
		out = append(out, dayStart.AddDate(0, 0, -i+1).Add(-time.Nanosecond))
	}
	return append(out, u)
}
