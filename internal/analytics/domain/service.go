package domain

import (
	"context"
	"errors"
	"time"

	alertdomain "github.com/smallbiznis/revlens/internal/alert/domain"
)

var (
	ErrInvalidCompany = errors.New("invalid_company")
	ErrInvalidDays    = errors.New("invalid_days")
	ErrInvalidLimit   = errors.New("invalid_limit")
)

const (
	DefaultDays        = 90
	DefaultDunningDays = 30
	MaxDays            = 365
	DefaultTopLimit    = 10
	MaxTopLimit        = 100
	TrendMonths        = 12
)

type Request struct {
	CompanyID string
	Days      int
	Limit     int
}

type KPIResponse struct {
	CompanyID      string    `json:"companyId"`
	MRR            int64     `json:"mrr"`
	ARR            int64     `json:"arr"`
	Churn          float64   `json:"churn"`
	FailedPayments float64   `json:"failedPayments"`
	RefundRate     float64   `json:"refundRate"`
	LTV            float64   `json:"ltv"`
	ARPU           float64   `json:"arpu"`
	CAC            float64   `json:"cac"`
	Payback        *float64  `json:"payback"`
	NRR            float64   `json:"nrr"`
	MRRGrowth      float64   `json:"mrrGrowth"`
	ActiveUsers    int       `json:"activeUsers"`
	AsOf           time.Time `json:"asOf"`
}

type MonthlyNetNew struct {
	Month string `json:"month"`
	NetNewMRRBreakdown
}

type MRRTrendsResponse struct {
	Current NetNewMRRBreakdown `json:"current"`
	Monthly []MonthlyNetNew    `json:"monthly"`
}

type CohortsResponse struct {
	Cohorts []CohortRow `json:"cohorts"`
}

type DunningResponse struct {
	Days int `json:"days"`
	DunningMetrics
}

type RevenueBreakdownResponse struct {
	Plan    []RevenueSlice `json:"plan"`
	Channel []RevenueSlice `json:"channel"`
}

type TopCustomersResponse struct {
	Customers []CustomerValue `json:"customers"`
}

type AnomalyPoint struct {
	Date      string  `json:"date"`
	MRRCents  int64   `json:"mrrCents"`
	ZScore    float64 `json:"zScore"`
	Anomalous bool    `json:"anomalous"`
}

const (
	AnomalySourceSnapshots = "snapshots"
	AnomalySourceSampled   = "sampled"
)

type AnomaliesResponse struct {
	Source    string         `json:"source"`
	Points    []AnomalyPoint `json:"points"`
	Anomalies []int          `json:"anomalies"`
}

type Service interface {
	GetKPIs(ctx context.Context, req Request) (*KPIResponse, error)
	GetMRRTrends(ctx context.Context, req Request) (*MRRTrendsResponse, error)
	GetCohorts(ctx context.Context, req Request) (*CohortsResponse, error)
	GetDunning(ctx context.Context, req Request) (*DunningResponse, error)
	GetRevenueBreakdown(ctx context.Context, req Request) (*RevenueBreakdownResponse, error)
	GetTopCustomers(ctx context.Context, req Request) (*TopCustomersResponse, error)
	GetAnomalies(ctx context.Context, req Request) (*AnomaliesResponse, error)
	GetAlerts(ctx context.Context, req Request) (*alertdomain.Response, error)
	RecordMRRSnapshots(ctx context.Context) (int, error)
}
