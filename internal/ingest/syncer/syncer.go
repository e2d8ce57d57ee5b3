package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/analytics/service"
	"github.com/smallbiznis/revlens/internal/cache"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/lock"
	"github.com/smallbiznis/revlens/internal/observability/logger"
	"github.com/smallbiznis/revlens/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrSyncInProgress = errors.New("sync_in_progress")
	ErrNoUpstream     = errors.New("sync_upstream_not_configured")
)

const (
	lockTTL     = 10 * time.Minute
	DefaultDays = 90
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	Clock    clock.Clock
	Locker   lock.Locker
	Upstream Upstream              `optional:"true"`
	Cache    *cache.AnalyticsCache `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

// Syncer pulls a company's records from the upstream platform and upserts
// them. Runs for the same company never overlap.
type Syncer struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	clock    clock.Clock
	locker   lock.Locker
	upstream Upstream
	cache    *cache.AnalyticsCache
	metrics  *metrics.Metrics
}

// Report summarizes one company sync.
type Report struct {
	CompanyID     string    `json:"companyId"`
	Subscriptions int       `json:"subscriptions"`
	Orders        int       `json:"orders"`
	Refunds       int       `json:"refunds"`
	SyncedAt      time.Time `json:"syncedAt"`
}

func (r Report) Total() int {
	return r.Subscriptions + r.Orders + r.Refunds
}

func New(p Params) *Syncer {
	return &Syncer{
		db:       p.DB,
		log:      p.Log.Named("ingest.sync"),
		repo:     p.Repo,
		clock:    p.Clock,
		locker:   p.Locker,
		upstream: p.Upstream,
		cache:    p.Cache,
		metrics:  p.Metrics,
	}
}

func (s *Syncer) Enabled() bool {
	return s != nil && s.upstream != nil
}

func lockKey(companyID string) string {
	return "revlens:sync:" + companyID
}

// SyncCompany imports subscriptions and the last days of orders and refunds
// for companyID.
func (s *Syncer) SyncCompany(ctx context.Context, companyID string, days int) (*Report, error) {
	if !s.Enabled() {
		return nil, ErrNoUpstream
	}
	companyID = strings.TrimSpace(companyID)
	if !service.ValidateCompanyID(companyID) {
		return nil, domain.ErrInvalidCompany
	}
	if days == 0 {
		days = DefaultDays
	}
	if days < 1 || days > domain.MaxDays {
		return nil, domain.ErrInvalidDays
	}

	token, ok, err := s.locker.TryLock(ctx, lockKey(companyID), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey(companyID), token); err != nil {
			s.log.Warn("release sync lock failed", zap.String("company_id", companyID), zap.Error(err))
		}
	}()

	log := logger.WithCompany(logger.WithContext(ctx, s.log), companyID)
	report, err := s.run(ctx, companyID, days)
	if err != nil {
		s.metrics.RecordSyncRun(ctx, s.upstream.Name(), "error", 0)
		log.Error("company sync failed", zap.Error(err))
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, companyID); err != nil {
		log.Warn("cache invalidation failed", zap.Error(err))
	}
	s.metrics.RecordSyncRun(ctx, s.upstream.Name(), "success", report.Total())
	log.Info("company synced",
		zap.Int("subscriptions", report.Subscriptions),
		zap.Int("orders", report.Orders),
		zap.Int("refunds", report.Refunds),
	)
	return report, nil
}

func (s *Syncer) run(ctx context.Context, companyID string, days int) (*Report, error) {
	now := s.clock.Now()
	since := domain.TrailingWindow(now, days).Start

	var (
		subs    []domain.Subscription
		orders  []domain.Order
		refunds []domain.Refund
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		subs, err = s.upstream.Subscriptions(gctx, companyID)
		return wrap("fetch subscriptions", err)
	})
	g.Go(func() (err error) {
		orders, err = s.upstream.Orders(gctx, companyID, since)
		return wrap("fetch orders", err)
	})
	g.Go(func() (err error) {
		refunds, err = s.upstream.Refunds(gctx, companyID, since)
		return wrap("fetch refunds", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range subs {
		subs[i].CompanyID = companyID
	}
	orderUsers := make(map[string]string, len(orders))
	for i := range orders {
		orders[i].CompanyID = companyID
		orderUsers[orders[i].ID] = orders[i].UserID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.EnsureCompany(ctx, tx, companyID); err != nil {
			return err
		}
		if err := s.repo.UpsertSubscriptions(ctx, tx, subs); err != nil {
			return wrap("upsert subscriptions", err)
		}
		if err := s.repo.UpsertOrders(ctx, tx, orders); err != nil {
			return wrap("upsert orders", err)
		}
		for i := range refunds {
			refunds[i].CompanyID = companyID
			if refunds[i].UserID != "" {
				continue
			}
			if user, ok := orderUsers[refunds[i].OrderID]; ok {
				refunds[i].UserID = user
				continue
			}
			order, err := s.repo.FindOrder(ctx, tx, companyID, refunds[i].OrderID)
			if err == nil {
				refunds[i].UserID = order.UserID
			} else if !errors.Is(err, domain.ErrOrderNotFound) {
				return err
			}
		}
		if err := s.repo.UpsertRefunds(ctx, tx, refunds); err != nil {
			return wrap("upsert refunds", err)
		}
		return s.repo.TouchCompany(ctx, tx, companyID, now)
	})
	if err != nil {
		return nil, err
	}

	return &Report{
		CompanyID:     companyID,
		Subscriptions: len(subs),
		Orders:        len(orders),
		Refunds:       len(refunds),
		SyncedAt:      now,
	}, nil
}

// SyncAll syncs every known company. A company whose sync is already running
// is skipped.
func (s *Syncer) SyncAll(ctx context.Context, days int) (int, error) {
	if !s.Enabled() {
		return 0, ErrNoUpstream
	}
	companies, err := s.repo.ListCompanies(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("list companies: %w", err)
	}

	var errs []error
	synced := 0
	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := s.SyncCompany(ctx, company.ID, days)
		switch {
		case err == nil:
			synced++
		case errors.Is(err, ErrSyncInProgress):
			s.log.Info("sync already running", zap.String("company_id", company.ID))
		default:
			errs = append(errs, fmt.Errorf("%s: %w", company.ID, err))
		}
	}
	return synced, errors.Join(errs...)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
