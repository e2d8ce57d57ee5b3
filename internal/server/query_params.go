package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/revlens/internal/analytics/domain"
)

// parseOptionalInt returns 0 for an absent value so the service applies its
// default.
func parseOptionalInt(value string, invalid error) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed <= 0 {
		return 0, invalid
	}
	return parsed, nil
}

func analyticsRequest(c *gin.Context) (analyticsdomain.Request, error) {
	days, err := parseOptionalInt(c.Query("days"), analyticsdomain.ErrInvalidDays)
	if err != nil {
		return analyticsdomain.Request{}, err
	}
	limit, err := parseOptionalInt(c.Query("limit"), analyticsdomain.ErrInvalidLimit)
	if err != nil {
		return analyticsdomain.Request{}, err
	}
	return analyticsdomain.Request{
		CompanyID: strings.TrimSpace(c.Query("companyId")),
		Days:      days,
		Limit:     limit,
	}, nil
}
