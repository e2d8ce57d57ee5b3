package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/ingest/syncer"
	"github.com/smallbiznis/revlens/internal/ingest/webhook"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/fx"
)

const pageSize = 100

var Module = fx.Module("providers.stripe",
	fx.Provide(NewFromConfig),
)

// Upstream lists a company's records from Stripe. Objects are attributed to
// a company through their company_id metadata.
type Upstream struct {
	api   *client.API
	clock clock.Clock
}

// NewFromConfig returns nil when no API key is configured, which disables
// polling sync.
func NewFromConfig(cfg config.Config, clk clock.Clock) syncer.Upstream {
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		return nil
	}
	return New(cfg.StripeAPIKey, nil, clk)
}

// New builds an Upstream. backends may be nil for the default Stripe endpoints.
func New(apiKey string, backends *stripelib.Backends, clk clock.Clock) *Upstream {
	api := &client.API{}
	api.Init(apiKey, backends)
	return &Upstream{api: api, clock: clk}
}

func (u *Upstream) Name() string {
	return webhook.ProviderStripe
}

func (u *Upstream) Subscriptions(ctx context.Context, companyID string) ([]domain.Subscription, error) {
	params := &stripelib.SubscriptionListParams{Status: stripelib.String("all")}
	params.Context = ctx
	params.Limit = stripelib.Int64(pageSize)

	now := u.clock.Now()
	out := make([]domain.Subscription, 0)
	it := u.api.Subscriptions.List(params)
	for it.Next() {
		sub := webhook.SubscriptionFromStripe(it.Subscription(), now)
		if sub.CompanyID == companyID {
			out = append(out, *sub)
		}
	}
	return out, it.Err()
}

func (u *Upstream) Orders(ctx context.Context, companyID string, since time.Time) ([]domain.Order, error) {
	params := &stripelib.ChargeListParams{
		CreatedRange: &stripelib.RangeQueryParams{GreaterThanOrEqual: since.Unix()},
	}
	params.Context = ctx
	params.Limit = stripelib.Int64(pageSize)

	now := u.clock.Now()
	out := make([]domain.Order, 0)
	it := u.api.Charges.List(params)
	for it.Next() {
		order := webhook.OrderFromCharge(it.Charge(), now)
		if order.CompanyID == companyID {
			out = append(out, *order)
		}
	}
	return out, it.Err()
}

func (u *Upstream) Refunds(ctx context.Context, companyID string, since time.Time) ([]domain.Refund, error) {
	params := &stripelib.RefundListParams{
		CreatedRange: &stripelib.RangeQueryParams{GreaterThanOrEqual: since.Unix()},
	}
	params.Context = ctx
	params.Limit = stripelib.Int64(pageSize)
	params.AddExpand("data.charge")

	now := u.clock.Now()
	out := make([]domain.Refund, 0)
	it := u.api.Refunds.List(params)
	for it.Next() {
		refund := webhook.RefundFromStripe(it.Refund(), now)
		if refund.CompanyID == companyID {
			out = append(out, *refund)
		}
	}
	return out, it.Err()
}
