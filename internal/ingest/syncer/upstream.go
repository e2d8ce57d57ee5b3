package syncer

import (
	"context"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

//go:generate mockgen -source=upstream.go -destination=./mocks/mock_upstream.go -package=mocks

// Upstream is a payment platform the poller reads a company's records from.
type Upstream interface {
	Name() string
	Subscriptions(ctx context.Context, companyID string) ([]domain.Subscription, error)
	Orders(ctx context.Context, companyID string, since time.Time) ([]domain.Order, error)
	Refunds(ctx context.Context, companyID string, since time.Time) ([]domain.Refund, error)
}
