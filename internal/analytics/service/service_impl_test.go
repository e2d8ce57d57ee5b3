package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/revlens/internal/alert/domain"
	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/analytics/repository"
	"github.com/smallbiznis/revlens/internal/cache"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var now = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	svc   domain.Service
	repo  domain.Repository
	conn  *gorm.DB
	cache *cache.AnalyticsCache
}

func newFixture(t *testing.T, withCache bool) fixture {
	t.Helper()

	conn := db.NewTest(t, repository.Models()...)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	var analyticsCache *cache.AnalyticsCache
	if withCache {
		analyticsCache = cache.NewAnalyticsCache(cache.NewMemoryStore(), time.Minute, log, nil)
	}

	repo := repository.Provide()
	svc := NewService(Params{
		DB:     conn,
		Log:    log,
		GenID:  node,
		Repo:   repo,
		Clock:  clock.NewFakeClock(now),
		Alerts: config.NewStaticAlertConfigHolder(config.DefaultAlertConfig()),
		Cache:  analyticsCache,
	})
	return fixture{svc: svc, repo: repo, conn: conn, cache: analyticsCache}
}

func seedSubscriptions(t *testing.T, f fixture) {
	t.Helper()
	canceledAt := day(2024, 6, 15)
	require.NoError(t, f.repo.UpsertSubscriptions(context.Background(), f.conn, []domain.Subscription{
		{ID: "s1", UserID: "u1", CompanyID: "acme", PlanID: "basic", AmountCents: 1000, Interval: domain.IntervalMonth, Status: domain.SubscriptionStatusActive, StartedAt: day(2024, 1, 1)},
		{ID: "s2", UserID: "u2", CompanyID: "acme", PlanID: "annual", AmountCents: 12000, Interval: domain.IntervalYear, Status: domain.SubscriptionStatusActive, StartedAt: day(2024, 6, 10)},
		{ID: "s3", UserID: "u3", CompanyID: "acme", PlanID: "basic", AmountCents: 500, Interval: domain.IntervalMonth, Status: domain.SubscriptionStatusCanceled, StartedAt: day(2024, 1, 1), CanceledAt: &canceledAt},
	}))
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.GetKPIs(ctx, domain.Request{CompanyID: "ab"})
	assert.ErrorIs(t, err, domain.ErrInvalidCompany)

	_, err = f.svc.GetKPIs(ctx, domain.Request{CompanyID: "acme corp"})
	assert.ErrorIs(t, err, domain.ErrInvalidCompany)

	_, err = f.svc.GetMRRTrends(ctx, domain.Request{CompanyID: "acme", Days: 400})
	assert.ErrorIs(t, err, domain.ErrInvalidDays)

	_, err = f.svc.GetDunning(ctx, domain.Request{CompanyID: "acme", Days: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidDays)

	_, err = f.svc.GetTopCustomers(ctx, domain.Request{CompanyID: "acme", Limit: 101})
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)

	assert.True(t, ValidateCompanyID("biz_123-x"))
	assert.False(t, ValidateCompanyID(""))
}

func TestGetKPIs(t *testing.T) {
	f := newFixture(t, false)
	seedSubscriptions(t, f)

	got, err := f.svc.GetKPIs(context.Background(), domain.Request{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", got.CompanyID)
	assert.Equal(t, int64(2000), got.MRR)
	assert.Equal(t, int64(24000), got.ARR)
	assert.Equal(t, 2, got.ActiveUsers)
	assert.Nil(t, got.Payback)
	assert.True(t, got.AsOf.Equal(now))
}

func TestGetKPIsServesFromCacheUntilInvalidated(t *testing.T) {
	f := newFixture(t, true)
	seedSubscriptions(t, f)
	ctx := context.Background()
	req := domain.Request{CompanyID: "acme"}

	first, err := f.svc.GetKPIs(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), first.MRR)

	require.NoError(t, f.repo.UpsertSubscriptions(ctx, f.conn, []domain.Subscription{
		{ID: "s4", UserID: "u4", CompanyID: "acme", AmountCents: 700, Interval: domain.IntervalMonth, Status: domain.SubscriptionStatusActive, StartedAt: day(2024, 6, 20)},
	}))

	cached, err := f.svc.GetKPIs(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cached.MRR)

	require.NoError(t, f.cache.Invalidate(ctx, "acme"))

	fresh, err := f.svc.GetKPIs(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2700), fresh.MRR)
}

func TestGetMRRTrendsCacheIgnoresDays(t *testing.T) {
	f := newFixture(t, true)
	seedSubscriptions(t, f)
	ctx := context.Background()

	first, err := f.svc.GetMRRTrends(ctx, domain.Request{CompanyID: "acme", Days: 30})
	require.NoError(t, err)

	require.NoError(t, f.repo.UpsertSubscriptions(ctx, f.conn, []domain.Subscription{
		{ID: "s4", UserID: "u4", CompanyID: "acme", AmountCents: 700, Interval: domain.IntervalMonth, Status: domain.SubscriptionStatusActive, StartedAt: day(2024, 6, 20)},
	}))

	other, err := f.svc.GetMRRTrends(ctx, domain.Request{CompanyID: "acme", Days: 90})
	require.NoError(t, err)
	assert.Equal(t, first, other)

	require.NoError(t, f.cache.Invalidate(ctx, "acme"))
	fresh, err := f.svc.GetMRRTrends(ctx, domain.Request{CompanyID: "acme", Days: 90})
	require.NoError(t, err)
	assert.NotEqual(t, first.Current, fresh.Current)
}

func TestGetDunningDefaultsToThirtyDays(t *testing.T) {
	f := newFixture(t, false)

	got, err := f.svc.GetDunning(context.Background(), domain.Request{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 30, got.Days)
	assert.Equal(t, domain.DunningMetrics{}, got.DunningMetrics)
}

func TestGetTopCustomersAppliesLimit(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.repo.UpsertOrders(context.Background(), f.conn, []domain.Order{
		{ID: "o1", UserID: "u1", CompanyID: "acme", AmountCents: 3000, Status: domain.OrderStatusSucceeded, CreatedAt: day(2024, 6, 1)},
		{ID: "o2", UserID: "u2", CompanyID: "acme", AmountCents: 2000, Status: domain.OrderStatusSucceeded, CreatedAt: day(2024, 6, 2)},
		{ID: "o3", UserID: "u3", CompanyID: "acme", AmountCents: 1000, Status: domain.OrderStatusSucceeded, CreatedAt: day(2024, 6, 3)},
	}))

	got, err := f.svc.GetTopCustomers(context.Background(), domain.Request{CompanyID: "acme", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []domain.CustomerValue{
		{UserID: "u1", LTVCents: 3000},
		{UserID: "u2", LTVCents: 2000},
	}, got.Customers)
}

func TestGetAnomaliesSource(t *testing.T) {
	f := newFixture(t, false)
	seedSubscriptions(t, f)
	ctx := context.Background()

	sampled, err := f.svc.GetAnomalies(ctx, domain.Request{CompanyID: "acme", Days: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.AnomalySourceSampled, sampled.Source)
	require.Len(t, sampled.Points, 5)
	assert.Equal(t, "2024-06-30", sampled.Points[4].Date)
	assert.Equal(t, int64(2000), sampled.Points[4].MRRCents)
	assert.Empty(t, sampled.Anomalies)

	for i, d := range []int{27, 28, 29} {
		require.NoError(t, f.repo.UpsertMRRSnapshot(ctx, f.conn, domain.MRRSnapshot{
			ID: int64(i + 1), CompanyID: "acme", Day: day(2024, 6, d), MRRCents: 1500,
		}))
	}

	stored, err := f.svc.GetAnomalies(ctx, domain.Request{CompanyID: "acme", Days: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.AnomalySourceSnapshots, stored.Source)
	require.Len(t, stored.Points, 3)
	assert.Equal(t, "2024-06-27", stored.Points[0].Date)
	assert.Equal(t, 0.0, stored.Points[0].ZScore)
}

func TestGetAlerts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.repo.UpsertOrders(ctx, f.conn, []domain.Order{
		{ID: "o1", UserID: "u1", CompanyID: "acme", AmountCents: 1000, Status: domain.OrderStatusSucceeded, CreatedAt: day(2024, 6, 10)},
		{ID: "o2", UserID: "u2", CompanyID: "acme", AmountCents: 1000, Status: domain.OrderStatusRefunded, CreatedAt: day(2024, 6, 11)},
	}))
	require.NoError(t, f.repo.UpsertRefunds(ctx, f.conn, []domain.Refund{
		{ID: "r1", OrderID: "o2", CompanyID: "acme", AmountCents: 500, CreatedAt: day(2024, 6, 12)},
	}))

	got, err := f.svc.GetAlerts(ctx, domain.Request{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", got.CompanyID)
	require.Len(t, got.Alerts, 2)
	assert.Equal(t, alertdomain.RuleRefundRateHigh, got.Alerts[0].Rule)
	assert.Equal(t, 0.25, got.Alerts[0].Value)
	assert.Equal(t, alertdomain.RuleFailedPaymentsHigh, got.Alerts[1].Rule)
	assert.Equal(t, 0.5, got.Alerts[1].Value)
}

func TestRecordMRRSnapshotsIsIdempotentPerDay(t *testing.T) {
	f := newFixture(t, false)
	seedSubscriptions(t, f)
	ctx := context.Background()
	require.NoError(t, f.repo.EnsureCompany(ctx, f.conn, "acme"))
	require.NoError(t, f.repo.EnsureCompany(ctx, f.conn, "globex"))

	n, err := f.svc.RecordMRRSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.svc.RecordMRRSnapshots(ctx)
	require.NoError(t, err)

	snaps, err := f.repo.ListMRRSnapshots(ctx, f.conn, "acme", day(2024, 6, 1))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(2000), snaps[0].MRRCents)
	assert.True(t, snaps[0].Day.Equal(day(2024, 6, 30)))
}
