package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/cache"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/observability/logger"
	"github.com/smallbiznis/revlens/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeProcessed = "processed"
	outcomeIgnored   = "ignored"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock
	Registry *Registry
	Cache    *cache.AnalyticsCache `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	registry *Registry
	cache    *cache.AnalyticsCache
	metrics  *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ingest.webhook"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    p.Clock,
		registry: p.Registry,
		cache:    p.Cache,
		metrics:  p.Metrics,
	}
}

// Ingest verifies a delivery, applies it and records it in webhook_logs.
// Unrecognized event types are acknowledged without changes.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (*Result, error) {
	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return nil, err
	}
	if !json.Valid(payload) {
		s.metrics.RecordWebhookEvent(ctx, adapter.Provider(), "unknown", outcomeRejected)
		return nil, ErrInvalidPayload
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("provider", adapter.Provider()))
	entry := WebhookLog{
		Provider:  adapter.Provider(),
		EventType: adapter.EventType(payload),
		Payload:   datatypes.JSON(payload),
		Signature: truncateSignature(adapter.Signature(headers)),
	}

	if err := adapter.Verify(payload, headers); err != nil {
		entry.ErrorMessage = "Invalid signature"
		s.record(ctx, log, entry)
		s.metrics.RecordWebhookEvent(ctx, entry.Provider, entry.EventType, outcomeRejected)
		log.Warn("webhook signature rejected", zap.String("event_type", entry.EventType))
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload, s.clock.Now())
	if err != nil {
		entry.ErrorMessage = err.Error()
		s.record(ctx, log, entry)
		s.metrics.RecordWebhookEvent(ctx, entry.Provider, entry.EventType, outcomeRejected)
		if errors.Is(err, ErrInvalidPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	entry.EventID = event.ID
	if err := s.resolveCompany(ctx, event); err != nil {
		entry.ErrorMessage = err.Error()
		s.record(ctx, log, entry)
		s.metrics.RecordWebhookEvent(ctx, entry.Provider, event.Type, outcomeFailed)
		return nil, err
	}
	entry.CompanyID = event.CompanyID

	handled, err := s.apply(ctx, event)
	if err != nil {
		entry.ErrorMessage = err.Error()
		s.record(ctx, log, entry)
		s.metrics.RecordWebhookEvent(ctx, entry.Provider, event.Type, outcomeFailed)
		log.Error("webhook processing failed", zap.String("event_type", event.RawType), zap.Error(err))
		return nil, err
	}

	entry.Processed = true
	s.record(ctx, log, entry)

	outcome := outcomeProcessed
	if !handled {
		outcome = outcomeIgnored
		log.Info("webhook event not handled", zap.String("event_type", event.RawType))
	} else if err := s.cache.Invalidate(ctx, event.CompanyID); err != nil {
		log.Warn("cache invalidation failed", zap.String("company_id", event.CompanyID), zap.Error(err))
	}
	s.metrics.RecordWebhookEvent(ctx, entry.Provider, event.Type, outcome)

	return &Result{Received: true, Event: event.RawType}, nil
}

// apply writes the event's rows and reports whether the type was recognized.
func (s *Service) apply(ctx context.Context, event *Event) (bool, error) {
	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventSubscriptionCreated,
		EventSubscriptionCanceled, EventRefundCreated:
	default:
		return false, nil
	}
	if event.Order == nil && event.Subscription == nil && len(event.Refunds) == 0 {
		return true, nil
	}
	if event.CompanyID == "" {
		return false, ErrMissingCompany
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.EnsureCompany(ctx, tx, event.CompanyID); err != nil {
			return err
		}
		switch event.Type {
		case EventPaymentSucceeded, EventPaymentFailed:
			return s.repo.UpsertOrders(ctx, tx, []domain.Order{*event.Order})
		case EventSubscriptionCreated:
			return s.repo.UpsertSubscriptions(ctx, tx, []domain.Subscription{*event.Subscription})
		case EventSubscriptionCanceled:
			err := s.repo.CancelSubscription(ctx, tx, event.CompanyID, event.Subscription.ID, event.CanceledAt)
			if errors.Is(err, domain.ErrSubscriptionNotFound) {
				s.log.Warn("cancel for unknown subscription", zap.String("subscription_id", event.Subscription.ID))
				return nil
			}
			return err
		case EventRefundCreated:
			return s.applyRefunds(ctx, tx, event)
		}
		return nil
	})
	return true, err
}

// resolveCompany fills in the company of a refund that only names its order.
func (s *Service) resolveCompany(ctx context.Context, event *Event) error {
	if event.CompanyID != "" || event.Type != EventRefundCreated {
		return nil
	}
	for _, refund := range event.Refunds {
		if refund.OrderID == "" {
			continue
		}
		order, err := s.repo.FindOrder(ctx, s.db, "", refund.OrderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		event.CompanyID = order.CompanyID
		break
	}
	for i := range event.Refunds {
		if event.Refunds[i].CompanyID == "" {
			event.Refunds[i].CompanyID = event.CompanyID
		}
	}
	return nil
}

func (s *Service) applyRefunds(ctx context.Context, tx *gorm.DB, event *Event) error {
	if event.Order != nil {
		if err := s.repo.UpsertOrders(ctx, tx, []domain.Order{*event.Order}); err != nil {
			return err
		}
	}
	for _, refund := range event.Refunds {
		if err := s.applyRefund(ctx, tx, event.CompanyID, refund); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, companyID string, refund domain.Refund) error {
	if refund.OrderID != "" {
		order, err := s.repo.FindOrder(ctx, tx, companyID, refund.OrderID)
		switch {
		case err == nil:
			if order.UserID != "" {
				refund.UserID = order.UserID
			}
		case !errors.Is(err, domain.ErrOrderNotFound):
			return err
		}
	}
	if err := s.repo.UpsertRefunds(ctx, tx, []domain.Refund{refund}); err != nil {
		return err
	}
	if refund.OrderID == "" {
		return nil
	}
	if err := s.repo.MarkOrderRefunded(ctx, tx, companyID, refund.OrderID); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		return err
	}
	return nil
}

func (s *Service) record(ctx context.Context, log *zap.Logger, entry WebhookLog) {
	entry.ID = s.genID.Generate().Int64()
	entry.CreatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Error("failed to record webhook", zap.Error(err))
	}
}
