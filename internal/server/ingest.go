package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/ingest/syncer"
)

const maxWebhookBody = 1 << 20

func (s *Server) HandleWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(payload) > maxWebhookBody {
		AbortWithError(c, ErrPayloadTooLarge)
		return
	}

	result, err := s.webhooks.Ingest(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("event_type", result.Event)
	c.JSON(http.StatusOK, result)
}

type syncCompanyRequest struct {
	Days int `json:"days"`
}

// SyncCompany runs a synchronous pull for one company. Overlapping requests
// for the same company get 409.
func (s *Server) SyncCompany(c *gin.Context) {
	if !s.syncer.Enabled() {
		AbortWithError(c, syncer.ErrNoUpstream)
		return
	}

	var req syncCompanyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.Days == 0 {
		days, err := parseOptionalInt(c.Query("days"), analyticsdomain.ErrInvalidDays)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Days = days
	}

	report, err := s.syncer.SyncCompany(c.Request.Context(), c.Param("companyId"), req.Days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"report": report,
	})
}
