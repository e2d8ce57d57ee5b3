package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/revlens/internal/analytics/domain"
	"go.uber.org/zap"
)

// GetHealthReport reports which optional integrations are configured and
// whether the database answers. Secret values are never echoed.
func (s *Server) GetHealthReport(c *gin.Context) {
	env := map[string]bool{
		"WEBHOOK_SECRET":        s.cfg.WebhookSecret != "",
		"STRIPE_API_KEY":        s.cfg.StripeAPIKey != "",
		"STRIPE_WEBHOOK_SECRET": s.cfg.StripeWebhookSecret != "",
		"REDIS_ADDR":            s.cfg.RedisAddr != "",
		"DIGEST_WEBHOOK_URL":    s.cfg.DigestWebhookURL != "",
		"ALERT_CONFIG_PATH":     s.cfg.AlertConfigPath != "",
	}

	database := "ok"
	if err := s.pingDB(c.Request.Context()); err != nil {
		s.log.Warn("health database ping failed", zap.Error(err))
		database = "unavailable"
	}
	ok := database == "ok"

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ok":        ok,
		"database":  database,
		"env":       env,
		"scheduler": s.cfg.SchedulerEnabled,
		"sync":      s.syncer.Enabled(),
		"notes":     "ok indicates the database is reachable; env flags report optional integrations",
	})
}

func (s *Server) pingDB(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (s *Server) GetDigest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"webhookFound": s.digest.Configured(),
		"webhook":      s.digest.Target(),
	})
}

type sendDigestRequest struct {
	CompanyID string `json:"companyId"`
	Days      int    `json:"days"`
	Send      *bool  `json:"send"`
}

// SendDigest computes a company's KPIs and posts them to the digest webhook.
// send=false previews the KPIs without posting.
func (s *Server) SendDigest(c *gin.Context) {
	var req sendDigestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if strings.TrimSpace(req.CompanyID) == "" {
		req.CompanyID = c.Query("companyId")
	}

	kpis, err := s.analytics.GetKPIs(c.Request.Context(), analyticsdomain.Request{
		CompanyID: req.CompanyID,
		Days:      req.Days,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	send := req.Send == nil || *req.Send
	if !send || !s.digest.Configured() {
		c.JSON(http.StatusOK, gin.H{"sent": false, "kpis": kpis})
		return
	}

	if err := s.digest.Send(c.Request.Context(), *kpis); err != nil {
		s.log.Warn("digest delivery failed",
			zap.String("company_id", kpis.CompanyID),
			zap.String("webhook", s.digest.Target()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"sent": false, "error": "digest delivery failed", "kpis": kpis})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": true, "kpis": kpis})
}
