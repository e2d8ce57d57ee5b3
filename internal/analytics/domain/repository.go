package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)

type Repository interface {
	ListSubscriptions(ctx context.Context, db *gorm.DB, companyID string) ([]Subscription, error)
	ListOrders(ctx context.Context, db *gorm.DB, companyID string, since *time.Time) ([]Order, error)
	ListRefunds(ctx context.Context, db *gorm.DB, companyID string, since *time.Time) ([]Refund, error)
	FindOrder(ctx context.Context, db *gorm.DB, companyID, id string) (*Order, error)

	UpsertSubscriptions(ctx context.Context, db *gorm.DB, subs []Subscription) error
	UpsertOrders(ctx context.Context, db *gorm.DB, orders []Order) error
	UpsertRefunds(ctx context.Context, db *gorm.DB, refunds []Refund) error
	CancelSubscription(ctx context.Context, db *gorm.DB, companyID, id string, at time.Time) error
	MarkOrderRefunded(ctx context.Context, db *gorm.DB, companyID, id string) error

	ListCompanies(ctx context.Context, db *gorm.DB) ([]Company, error)
	EnsureCompany(ctx context.Context, db *gorm.DB, companyID string) error
	TouchCompany(ctx context.Context, db *gorm.DB, companyID string, at time.Time) error

	UpsertMRRSnapshot(ctx context.Context, db *gorm.DB, snapshot MRRSnapshot) error
	ListMRRSnapshots(ctx context.Context, db *gorm.DB, companyID string, since time.Time) ([]MRRSnapshot, error)
}
