package analytics

import (
	"context"

	"github.com/smallbiznis/revlens/internal/analytics/repository"
	"github.com/smallbiznis/revlens/internal/analytics/service"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("analytics.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(func(conn *gorm.DB, cfg db.Config) error {
		return db.AutoMigrate(context.Background(), conn, cfg, repository.Models()...)
	}),
)
