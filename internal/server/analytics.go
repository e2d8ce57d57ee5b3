package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/revlens/internal/analytics/domain"
)

func (s *Server) GetKPIs(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetKPIs)
}

func (s *Server) GetMRRTrends(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetMRRTrends)
}

func (s *Server) GetCohorts(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetCohorts)
}

func (s *Server) GetDunning(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetDunning)
}

func (s *Server) GetRevenueBreakdown(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetRevenueBreakdown)
}

func (s *Server) GetTopCustomers(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetTopCustomers)
}

func (s *Server) GetAnomalies(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetAnomalies)
}

func (s *Server) GetAlerts(c *gin.Context) {
	serveAnalytics(c, s.analytics.GetAlerts)
}

func serveAnalytics[T any](c *gin.Context, fetch func(context.Context, analyticsdomain.Request) (*T, error)) {
	req, err := analyticsRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := fetch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
