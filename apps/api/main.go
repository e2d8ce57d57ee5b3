package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/revlens/internal/analytics"
	"github.com/smallbiznis/revlens/internal/cache"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/ingest/syncer"
	"github.com/smallbiznis/revlens/internal/ingest/webhook"
	"github.com/smallbiznis/revlens/internal/lock"
	"github.com/smallbiznis/revlens/internal/observability"
	"github.com/smallbiznis/revlens/internal/providers"
	"github.com/smallbiznis/revlens/internal/server"
	"github.com/smallbiznis/revlens/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		lock.Module,

		// Everything the HTTP surface needs; the scheduler runs in its own process.
		analytics.Module,
		webhook.Module,
		syncer.Module,
		providers.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
