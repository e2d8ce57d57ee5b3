package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Models lists the tables owned by the analytics repository.
func Models() []interface{} {
	return []interface{}{
		&domain.Company{},
		&domain.Subscription{},
		&domain.Order{},
		&domain.Refund{},
		&domain.MRRSnapshot{},
	}
}

func (r *repo) ListSubscriptions(ctx context.Context, db *gorm.DB, companyID string) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("started_at ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *repo) ListOrders(ctx context.Context, db *gorm.DB, companyID string, since *time.Time) ([]domain.Order, error) {
	var orders []domain.Order
	q := db.WithContext(ctx).Where("company_id = ?", companyID)
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	err := q.Order("created_at ASC, id ASC").Find(&orders).Error
	return orders, err
}

func (r *repo) ListRefunds(ctx context.Context, db *gorm.DB, companyID string, since *time.Time) ([]domain.Refund, error) {
	var refunds []domain.Refund
	q := db.WithContext(ctx).Where("company_id = ?", companyID)
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	err := q.Order("created_at ASC, id ASC").Find(&refunds).Error
	return refunds, err
}

func (r *repo) FindOrder(ctx context.Context, db *gorm.DB, companyID, id string) (*domain.Order, error) {
	var order domain.Order
	q := db.WithContext(ctx).Where("id = ?", id)
	if companyID != "" {
		q = q.Where("company_id = ?", companyID)
	}
	err := q.First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) UpsertSubscriptions(ctx context.Context, db *gorm.DB, subs []domain.Subscription) error {
	if len(subs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "company_id", "plan_id", "amount_cents", "currency", "interval",
			"status", "started_at", "current_period_end", "canceled_at", "updated_at",
		}),
	}).CreateInBatches(subs, upsertBatchSize).Error
}

func (r *repo) UpsertOrders(ctx context.Context, db *gorm.DB, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "company_id", "amount_cents", "currency", "status", "channel", "metadata", "created_at",
		}),
	}).CreateInBatches(orders, upsertBatchSize).Error
}

func (r *repo) UpsertRefunds(ctx context.Context, db *gorm.DB, refunds []domain.Refund) error {
	if len(refunds) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"order_id", "user_id", "company_id", "amount_cents", "reason", "created_at",
		}),
	}).CreateInBatches(refunds, upsertBatchSize).Error
}

func (r *repo) CancelSubscription(ctx context.Context, db *gorm.DB, companyID, id string, at time.Time) error {
	q := db.WithContext(ctx).Model(&domain.Subscription{}).Where("id = ?", id)
	if companyID != "" {
		q = q.Where("company_id = ?", companyID)
	}
	res := q.Updates(map[string]interface{}{
		"status":      domain.SubscriptionStatusCanceled,
		"canceled_at": at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *repo) MarkOrderRefunded(ctx context.Context, db *gorm.DB, companyID, id string) error {
	q := db.WithContext(ctx).Model(&domain.Order{}).Where("id = ?", id)
	if companyID != "" {
		q = q.Where("company_id = ?", companyID)
	}
	res := q.Update("status", domain.OrderStatusRefunded)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *repo) ListCompanies(ctx context.Context, db *gorm.DB) ([]domain.Company, error) {
	var companies []domain.Company
	err := db.WithContext(ctx).Order("id ASC").Find(&companies).Error
	return companies, err
}

func (r *repo) EnsureCompany(ctx context.Context, db *gorm.DB, companyID string) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.Company{ID: companyID, Name: companyID}).Error
}

func (r *repo) TouchCompany(ctx context.Context, db *gorm.DB, companyID string, at time.Time) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_synced_at", "updated_at"}),
	}).Create(&domain.Company{ID: companyID, Name: companyID, LastSyncedAt: &at}).Error
}

func (r *repo) UpsertMRRSnapshot(ctx context.Context, db *gorm.DB, snapshot domain.MRRSnapshot) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"mrr_cents"}),
	}).Create(&snapshot).Error
}

func (r *repo) ListMRRSnapshots(ctx context.Context, db *gorm.DB, companyID string, since time.Time) ([]domain.MRRSnapshot, error) {
	var snapshots []domain.MRRSnapshot
	err := db.WithContext(ctx).
		Where("company_id = ? AND day >= ?", companyID, since).
		Order("day ASC").
		Find(&snapshots).Error
	return snapshots, err
}
