package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/revlens/internal/alert"
	alertdomain "github.com/smallbiznis/revlens/internal/alert/domain"
	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/analytics/kpi"
	"github.com/smallbiznis/revlens/internal/cache"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/observability/logger"
	"github.com/smallbiznis/revlens/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var companyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

const minSnapshotPoints = 3

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Clock   clock.Clock
	Config  config.Config
	Alerts  *config.AlertConfigHolder
	Cache   *cache.AnalyticsCache `optional:"true"`
	Metrics *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	cacSpend int64
	alerts   *config.AlertConfigHolder
	cache    *cache.AnalyticsCache
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("analytics.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    p.Clock,
		cacSpend: p.Config.CACSpendCents,
		alerts:   p.Alerts,
		cache:    p.Cache,
		metrics:  p.Metrics,
	}
}

// ValidateCompanyID reports whether id is an acceptable tenant identifier.
func ValidateCompanyID(id string) bool {
	return companyIDPattern.MatchString(id)
}

func normalize(req domain.Request, defaultDays int) (domain.Request, error) {
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	if !ValidateCompanyID(req.CompanyID) {
		return req, domain.ErrInvalidCompany
	}
	if req.Days == 0 {
		req.Days = defaultDays
	}
	if req.Days < 1 || req.Days > domain.MaxDays {
		return req, domain.ErrInvalidDays
	}
	if req.Limit == 0 {
		req.Limit = domain.DefaultTopLimit
	}
	if req.Limit < 1 || req.Limit > domain.MaxTopLimit {
		return req, domain.ErrInvalidLimit
	}
	return req, nil
}

func cacheParams(req domain.Request) string {
	return "days=" + strconv.Itoa(req.Days) + "&limit=" + strconv.Itoa(req.Limit)
}

type fetchSpec struct {
	subs        bool
	orders      bool
	refunds     bool
	ordersSince *time.Time
}

type rows struct {
	subs    []domain.Subscription
	orders  []domain.Order
	refunds []domain.Refund
}

func (s *Service) fetch(ctx context.Context, companyID string, spec fetchSpec) (rows, error) {
	var out rows
	g, gctx := errgroup.WithContext(ctx)
	if spec.subs {
		g.Go(func() error {
			subs, err := s.repo.ListSubscriptions(gctx, s.db, companyID)
			if err != nil {
				return fmt.Errorf("list subscriptions: %w", err)
			}
			out.subs = subs
			return nil
		})
	}
	if spec.orders {
		g.Go(func() error {
			orders, err := s.repo.ListOrders(gctx, s.db, companyID, spec.ordersSince)
			if err != nil {
				return fmt.Errorf("list orders: %w", err)
			}
			out.orders = orders
			return nil
		})
	}
	if spec.refunds {
		g.Go(func() error {
			refunds, err := s.repo.ListRefunds(gctx, s.db, companyID, spec.ordersSince)
			if err != nil {
				return fmt.Errorf("list refunds: %w", err)
			}
			out.refunds = refunds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rows{}, err
	}
	return out, nil
}

// cached serves endpoint from the cache or computes and stores it.
func cached[T any](ctx context.Context, s *Service, endpoint string, req domain.Request, compute func() (*T, error)) (*T, error) {
	return cachedWith(ctx, s, endpoint, req, cacheParams(req), compute)
}

// cachedWith is cached with explicit key params. The entry is resolved before
// computing so an invalidation during compute orphans the result.
func cachedWith[T any](ctx context.Context, s *Service, endpoint string, req domain.Request, params string, compute func() (*T, error)) (*T, error) {
	entry := s.cache.Entry(ctx, req.CompanyID, endpoint, params)
	var hit T
	if entry.Load(ctx, &hit) {
		return &hit, nil
	}

	start := time.Now()
	out, err := compute()
	if err != nil {
		logger.WithContext(ctx, s.log).Error("analytics computation failed",
			zap.String("endpoint", endpoint),
			zap.String("company_id", req.CompanyID),
			zap.Error(err),
		)
		return nil, err
	}
	s.metrics.RecordKPIComputation(ctx, endpoint, time.Since(start))
	entry.Save(ctx, out)
	return out, nil
}

func (s *Service) GetKPIs(ctx context.Context, req domain.Request) (*domain.KPIResponse, error) {
	req, err := normalize(req, domain.DefaultDays)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "kpis", req, func() (*domain.KPIResponse, error) {
		now := s.clock.Now()
		window := domain.TrailingWindow(now, req.Days)
		data, err := s.fetch(ctx, req.CompanyID, fetchSpec{
			subs: true, orders: true, refunds: true, ordersSince: &window.Start,
		})
		if err != nil {
			return nil, err
		}
		resp := computeKPIs(req.CompanyID, data, now, window, s.cacSpend)
		return &resp, nil
	})
}

// computeKPIs derives the headline metrics. Rates use the trailing window;
// NRR is month to date.
func computeKPIs(companyID string, data rows, now time.Time, window domain.Window, cacSpend int64) domain.KPIResponse {
	mrr := kpi.MRR(data.subs, now)
	churn := kpi.ChurnRate(data.subs, window)
	orders := kpi.OrdersIn(data.orders, window)
	refunds := kpi.RefundsIn(data.refunds, window)
	active := kpi.ActiveUserCount(data.subs, now)
	arpu := kpi.ARPU(orders, active)
	ltv := kpi.LTV(churn, arpu)
	cac := kpi.CAC(cacSpend, kpi.NewCustomers(data.subs, window))
	mtd := kpi.NetNewMRR(data.subs, domain.Window{Start: domain.MonthStart(now), End: now})

	return domain.KPIResponse{
		CompanyID:      companyID,
		MRR:            mrr,
		ARR:            kpi.ARR(mrr),
		Churn:          churn,
		FailedPayments: kpi.FailedPaymentsRate(orders, refunds),
		RefundRate:     kpi.RefundRate(orders, refunds),
		LTV:            ltv,
		ARPU:           arpu,
		CAC:            cac,
		Payback:        kpi.Payback(ltv, cac),
		NRR:            kpi.NRR(mrr, mtd.Expansion, mtd.Churn+mtd.Contraction),
		MRRGrowth:      kpi.MRRGrowthRate(mrr, kpi.MRR(data.subs, window.Start)),
		ActiveUsers:    active,
		AsOf:           now,
	}
}

func (s *Service) GetMRRTrends(ctx context.Context, req domain.Request) (*domain.MRRTrendsResponse, error) {
	req, err := normalize(req, domain.DefaultDays)
	if err != nil {
		return nil, err
	}
	// The trend is month based; days does not change the response.
	return cachedWith(ctx, s, "mrr", req, "", func() (*domain.MRRTrendsResponse, error) {
		now := s.clock.Now()
		data, err := s.fetch(ctx, req.CompanyID, fetchSpec{subs: true})
		if err != nil {
			return nil, err
		}
		return &domain.MRRTrendsResponse{
			Current: kpi.NetNewMRR(data.subs, domain.MonthWindow(now)),
			Monthly: kpi.MonthlyNetNewMRR(data.subs, now, domain.TrendMonths),
		}, nil
	})
}

func (s *Service) GetCohorts(ctx context.Context, req domain.Request) (*domain.CohortsResponse, error) {
	req, err := normalize(req, domain.DefaultDays)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "cohorts", req, func() (*domain.CohortsResponse, error) {
		data, err := s.fetch(ctx, req.CompanyID, fetchSpec{orders: true})
		if err != nil {
			return nil, err
		}
		return &domain.CohortsResponse{Cohorts: kpi.BuildRetentionCohorts(data.orders, s.clock.Now())}, nil
	})
}

func (s *Service) GetDunning(ctx context.Context, req domain.Request) (*domain.DunningResponse, error) {
	req, err := normalize(req, domain.DefaultDunningDays)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "failures", req, func() (*domain.DunningResponse, error) {
		now := s.clock.Now()
		since := domain.TrailingWindow(now, req.Days).Previous().Start
		data, err := s.fetch(ctx, req.CompanyID, fetchSpec{orders: true, refunds: true, ordersSince: &since})
		if err != nil {
			return nil, err
		}
		return &domain.DunningResponse{
			Days:           req.Days,
			DunningMetrics: kpi.Dunning(data.orders, data.refunds, now, req.Days),
		}, nil
	})
}

func (s *Service) GetRevenueBreakdown(ctx context.Context, req domain.Request) (*domain.RevenueBreakdownResponse, error) {
	req, err := normalize(req, domain.DefaultDays)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "revenue", req, func() (*domain.RevenueBreakdownResponse, error) {
		now := s.clock.Now()
		window := domain.TrailingWindow(now, req.Days)
		data, err := s.fetch(ctx, req.CompanyID, fetchSpec{subs: true, orders: true, ordersSince: &window.Start})
		if err != nil {
			return nil, err
		}
		return &domain.RevenueBreakdownResponse{
			Plan:    kpi.RevenueByPlan(data.subs, now),
			Channel: kpi.RevenueByChannel(kpi.OrdersIn(data.orders, window)),
		}, nil
	})
}

func (s *Service) GetTopCustomers(ctx context.Context, req domain.Request) (*domain.TopCustomersResponse, error) {
	req, err := normalize(req, domain.DefaultDays)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "top-customers", req, func() (*domain.TopCustomersResponse, error) {
		data, err := s.fetch(ctx, req.CompanyID, fetchSpec{orders: true})
		if err != nil {
			return nil, err
		}
		return &domain.TopCustomersResponse{Customers: kpi.TopCustomersByLTV(data.orders, req.Limit)}, nil
	})
}

// GetAnomalies prefers stored daily snapshots and falls back to sampling MRR
// from subscriptions when fewer than three are stored.
func (s *Service) GetAnomalies(ctx context.Context, req domain.Request) (*domain.AnomaliesResponse, error) {
	req, err := normalize(req, domain.DefaultDays)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "anomalies", req, func() (*domain.AnomaliesResponse, error) {
		now := s.clock.Now()
		since := domain.TrailingWindow(now, req.Days).Start
		snapshots, err := s.repo.ListMRRSnapshots(ctx, s.db, req.CompanyID, since)
		if err != nil {
			return nil, fmt.Errorf("list mrr snapshots: %w", err)
		}

		source := domain.AnomalySourceSnapshots
		var dates []time.Time
		var values []int64
		if len(snapshots) >= minSnapshotPoints {
			for _, snap := range snapshots {
				dates = append(dates, snap.Day)
				values = append(values, snap.MRRCents)
			}
		} else {
			data, err := s.fetch(ctx, req.CompanyID, fetchSpec{subs: true})
			if err != nil {
				return nil, err
			}
			source = domain.AnomalySourceSampled
			dates = kpi.DailyPoints(now, req.Days)
			values = kpi.MRRSeries(data.subs, dates)
		}
		return buildAnomalies(source, dates, values), nil
	})
}

func buildAnomalies(source string, dates []time.Time, values []int64) *domain.AnomaliesResponse {
	samples := make([]float64, len(values))
	for i, v := range values {
		samples[i] = float64(v)
	}
	zscores := kpi.ZScores(samples)
	anomalies := kpi.DetectMRRAnomalies(samples)
	flagged := make(map[int]struct{}, len(anomalies))
	for _, idx := range anomalies {
		flagged[idx] = struct{}{}
	}

	points := make([]domain.AnomalyPoint, len(values))
	for i := range values {
		_, anomalous := flagged[i]
		point := domain.AnomalyPoint{
			Date:      dates[i].UTC().Format("2006-01-02"),
			MRRCents:  values[i],
			Anomalous: anomalous,
		}
		if zscores != nil {
			point.ZScore = zscores[i]
		}
		points[i] = point
	}
	return &domain.AnomaliesResponse{Source: source, Points: points, Anomalies: anomalies}
}

func (s *Service) GetAlerts(ctx context.Context, req domain.Request) (*alertdomain.Response, error) {
	req, err := normalize(req, domain.DefaultDays)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, "alerts", req, func() (*alertdomain.Response, error) {
		now := s.clock.Now()
		window := domain.TrailingWindow(now, req.Days)
		data, err := s.fetch(ctx, req.CompanyID, fetchSpec{
			subs: true, orders: true, refunds: true, ordersSince: &window.Start,
		})
		if err != nil {
			return nil, err
		}

		kpis := computeKPIs(req.CompanyID, data, now, window, s.cacSpend)
		monthly := kpi.MonthlyNetNewMRR(data.subs, now, domain.TrendMonths)
		series := make([]int64, len(monthly))
		for i, m := range monthly {
			series[i] = m.NetNew
		}

		return &alertdomain.Response{
			CompanyID: req.CompanyID,
			Alerts: alert.Evaluate(alertdomain.Snapshot{
				RefundRate:         kpis.RefundRate,
				FailedPaymentsRate: kpis.FailedPayments,
				NRR:                kpis.NRR,
				NetNewSeries:       series,
			}, s.alerts.Get(), now),
			EvaluatedAt: now,
		}, nil
	})
}

// RecordMRRSnapshots stores today's MRR for every known company.
func (s *Service) RecordMRRSnapshots(ctx context.Context) (int, error) {
	companies, err := s.repo.ListCompanies(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("list companies: %w", err)
	}

	now := s.clock.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	recorded := 0
	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			return recorded, err
		}
		subs, err := s.repo.ListSubscriptions(ctx, s.db, company.ID)
		if err != nil {
			return recorded, fmt.Errorf("list subscriptions for %s: %w", company.ID, err)
		}
		snapshot := domain.MRRSnapshot{
			ID:        s.genID.Generate().Int64(),
			CompanyID: company.ID,
			Day:       day,
			MRRCents:  kpi.MRR(subs, now),
		}
		if err := s.repo.UpsertMRRSnapshot(ctx, s.db, snapshot); err != nil {
			return recorded, fmt.Errorf("store snapshot for %s: %w", company.ID, err)
		}
		recorded++
	}

	s.log.Info("mrr snapshots recorded", zap.Int("companies", recorded), zap.Time("day", day))
	return recorded, nil
}
