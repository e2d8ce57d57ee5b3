package domain

import "time"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	RuleRefundRateHigh     = "refund-rate-high"
	RuleFailedPaymentsHigh = "failed-payments-high"
	RuleNetNewMRRNegative  = "net-new-mrr-negative"
	RuleNRRBelow100        = "nrr-below-100"
)

// Snapshot is the metric set alert rules are evaluated against.
type Snapshot struct {
	RefundRate         float64
	FailedPaymentsRate float64
	// NRR is zero when undefined.
	NRR float64
	// NetNewSeries is ordered oldest first.
	NetNewSeries []int64
}

type Alert struct {
	Rule        string    `json:"id"`
	Name        string    `json:"name"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	TriggeredAt time.Time `json:"timestamp"`
}

type Response struct {
	CompanyID   string    `json:"companyId"`
	Alerts      []Alert   `json:"alerts"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}
