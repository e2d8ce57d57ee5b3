package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	analyticsdomain "github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/ingest/syncer"
	"github.com/smallbiznis/revlens/internal/ingest/webhook"
	"github.com/smallbiznis/revlens/internal/observability"
	obsmiddleware "github.com/smallbiznis/revlens/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/revlens/internal/observability/metrics"
	obstracing "github.com/smallbiznis/revlens/internal/observability/tracing"
	"github.com/smallbiznis/revlens/internal/providers/digest"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	db        *gorm.DB
	log       *zap.Logger
	analytics analyticsdomain.Service
	webhooks  *webhook.Service
	syncer    *syncer.Syncer
	digest    digest.Provider
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Analytics analyticsdomain.Service
	Webhooks  *webhook.Service
	Syncer    *syncer.Syncer  `optional:"true"`
	Digest    digest.Provider `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	provider := p.Digest
	if provider == nil {
		provider = &digest.NoOpProvider{}
	}
	return &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		db:        p.DB,
		log:       p.Log.Named("http"),
		analytics: p.Analytics,
		webhooks:  p.Webhooks,
		syncer:    p.Syncer,
		digest:    provider,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.RegisterAnalyticsRoutes()
	s.RegisterIngestRoutes()
	s.RegisterOpsRoutes()
	s.registerFallback()
}

func (s *Server) RegisterAnalyticsRoutes() {
	api := s.engine.Group("/api")

	api.GET("/metrics", s.GetKPIs)

	analytics := api.Group("/analytics")
	{
		analytics.GET("/mrr", s.GetMRRTrends)
		analytics.GET("/cohorts", s.GetCohorts)
		analytics.GET("/failures", s.GetDunning)
		analytics.GET("/revenue", s.GetRevenueBreakdown)
		analytics.GET("/top-customers", s.GetTopCustomers)
		analytics.GET("/anomalies", s.GetAnomalies)
		analytics.GET("/alerts", s.GetAlerts)
	}
}

func (s *Server) RegisterIngestRoutes() {
	api := s.engine.Group("/api")

	// -------- Webhooks --------
	api.POST("/webhooks/:provider", s.HandleWebhook)

	// -------- Sync --------
	api.POST("/sync/company/:companyId", s.SyncCompany)
}

func (s *Server) RegisterOpsRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.GetHealthReport)
	api.GET("/digest", s.GetDigest)
	api.POST("/digest", s.SendDigest)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
