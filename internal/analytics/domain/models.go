package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type OrderStatus string

const (
	OrderStatusSucceeded OrderStatus = "succeeded"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Subscription is a recurring charge for one user of a company.
// AmountCents is billed per Interval.
type Subscription struct {
	ID               string             `gorm:"primaryKey;size:64" json:"id"`
	UserID           string             `gorm:"not null;size:64;index" json:"userId"`
	CompanyID        string             `gorm:"not null;size:64;index" json:"companyId"`
	PlanID           string             `gorm:"size:64" json:"planId"`
	AmountCents      int64              `gorm:"not null" json:"amountCents"`
	Currency         string             `gorm:"size:8" json:"currency"`
	Interval         Interval           `gorm:"not null;size:16" json:"interval"`
	Status           SubscriptionStatus `gorm:"not null;size:16;index" json:"status"`
	StartedAt        time.Time          `gorm:"not null" json:"startedAt"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd,omitempty"`
	CanceledAt       *time.Time         `json:"canceledAt,omitempty"`
	UpdatedAt        time.Time          `gorm:"autoUpdateTime" json:"-"`
}

// MonthlyAmount normalizes the charge to a monthly figure without rounding.
func (s Subscription) MonthlyAmount() float64 {
	if s.Interval == IntervalYear {
		return float64(s.AmountCents) / 12
	}
	return float64(s.AmountCents)
}

// Order is a single payment attempt.
type Order struct {
	ID          string            `gorm:"primaryKey;size:64" json:"id"`
	UserID      string            `gorm:"not null;size:64;index" json:"userId"`
	CompanyID   string            `gorm:"not null;size:64;index" json:"companyId"`
	AmountCents int64             `gorm:"not null" json:"amountCents"`
	Currency    string            `gorm:"size:8" json:"currency"`
	Status      OrderStatus       `gorm:"not null;size:16" json:"status"`
	Channel     string            `gorm:"size:64" json:"channel,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;index" json:"createdAt"`
}

func (o Order) Refunded() bool {
	return o.Status == OrderStatusRefunded
}

// Refund always references an Order by id.
type Refund struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	OrderID     string    `gorm:"not null;size:64;index" json:"orderId"`
	UserID      string    `gorm:"size:64" json:"userId,omitempty"`
	CompanyID   string    `gorm:"not null;size:64;index" json:"companyId"`
	AmountCents int64     `gorm:"not null" json:"amountCents"`
	Reason      string    `gorm:"size:128" json:"reason,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index" json:"createdAt"`
}

type Company struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	Name         string     `gorm:"size:255" json:"name"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// MRRSnapshot is the MRR recorded for a company on one UTC day.
type MRRSnapshot struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	CompanyID string    `gorm:"not null;size:64;uniqueIndex:ux_mrr_snapshots_company_day" json:"companyId"`
	Day       time.Time `gorm:"not null;uniqueIndex:ux_mrr_snapshots_company_day" json:"day"`
	MRRCents  int64     `gorm:"not null" json:"mrrCents"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
