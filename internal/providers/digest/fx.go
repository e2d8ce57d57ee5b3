package digest

import (
	"github.com/smallbiznis/revlens/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.digest",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.DigestWebhookURL == "" {
		return &NoOpProvider{}
	}
	return NewWebhook(Config{URL: cfg.DigestWebhookURL}, log)
}
