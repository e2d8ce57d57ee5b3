package webhook

import (
	"context"

	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("ingest.webhook",
	fx.Provide(provideRegistry),
	fx.Provide(NewService),
	fx.Invoke(func(conn *gorm.DB, cfg db.Config) error {
		return db.AutoMigrate(context.Background(), conn, cfg, &WebhookLog{})
	}),
)

// The Stripe endpoint is only served when its signing secret is configured.
func provideRegistry(cfg config.Config) *Registry {
	adapters := []Adapter{NewGenericAdapter(cfg.WebhookSecret)}
	if cfg.StripeWebhookSecret != "" {
		adapters = append(adapters, NewStripeAdapter(cfg.StripeWebhookSecret))
	}
	return NewRegistry(adapters...)
}
