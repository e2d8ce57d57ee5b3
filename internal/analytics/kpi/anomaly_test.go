package kpi

import (
	"testing"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMRRAnomalies(t *testing.T) {
	cases := []struct {
		name    string
		samples []float64
		want    []int
	}{
		{name: "flat", samples: []float64{5, 5, 5, 5}, want: []int{}},
		{name: "too short", samples: []float64{1, 2}, want: []int{}},
		{name: "empty", samples: nil, want: []int{}},
		{name: "spike", samples: []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 500}, want: []int{9}},
		{name: "dip", samples: []float64{500, 500, 500, 500, 500, 500, 500, 500, 500, 100}, want: []int{9}},
		{name: "noise", samples: []float64{100, 102, 98, 101, 99}, want: []int{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectMRRAnomalies(tc.samples))
		})
	}
}

func TestZScores(t *testing.T) {
	z := ZScores([]float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 500})
	require.Len(t, z, 10)
	assert.InDelta(t, 3.0, z[9], 1e-9)
	assert.InDelta(t, -1.0/3.0, z[0], 1e-9)

	assert.Nil(t, ZScores([]float64{3, 3, 3}))
}

func TestMRRSeriesAndDailyPoints(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	points := DailyPoints(now, 5)
	require.Len(t, points, 5)
	assert.Equal(t, now, points[4])
	assert.Equal(t, time.Date(2024, 6, 29, 23, 59, 59, 999999999, time.UTC), points[3])
	assert.Equal(t, time.Date(2024, 6, 26, 23, 59, 59, 999999999, time.UTC), points[0])

	subs := []domain.Subscription{
		monthly("s1", "u1", 1000, date(2024, 1, 1)),
		monthly("s2", "u2", 500, date(2024, 6, 28)),
	}
	assert.Equal(t, []int64{1000, 1000, 1500, 1500, 1500}, MRRSeries(subs, points))
	assert.Empty(t, DailyPoints(now, 0))
}
