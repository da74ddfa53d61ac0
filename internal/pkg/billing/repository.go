package billing

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LeadVault/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CustomerIDsByUser(ctx context.Context, userID string) ([]string, error)
	CustomerIDsByEmail(ctx context.Context, email string) ([]string, error)
	CreateCustomerLinkIfNotExists(ctx context.Context, link *models.CustomerLink) (bool, error)
	RecentTransactions(ctx context.Context, customerIDs []string, limit int) ([]models.Transaction, error)
	TransactionsByID(ctx context.Context, id string, customerIDs []string) ([]models.Transaction, error)
	TransactionOwner(ctx context.Context, id string) (customerID string, found bool, err error)
	UpsertTransaction(ctx context.Context, txn *models.Transaction) error
	FulfilledTransactionIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	RecentWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CustomerIDsByUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.CustomerLink{}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Pluck("processor_customer_id", &ids).Error
	return ids, err
}

func (r *gormRepository) CustomerIDsByEmail(ctx context.Context, email string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.CustomerLink{}).
		Where("email = ?", email).
		Order("id ASC").
		Pluck("processor_customer_id", &ids).Error
	return ids, err
}

func (r *gormRepository) CreateCustomerLinkIfNotExists(ctx context.Context, link *models.CustomerLink) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "processor_customer_id"}},
		DoNothing: true,
	}).Create(link)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) RecentTransactions(ctx context.Context, customerIDs []string, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("customer_id IN ?", customerIDs).
		Order("updated_at DESC").
		Order("id ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *gormRepository) TransactionsByID(ctx context.Context, id string, customerIDs []string) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("id = ? AND customer_id IN ?", id, customerIDs).
		Find(&txns).Error
	return txns, err
}

// TransactionOwner returns the customer the ledger records for id, whoever
// that customer belongs to.
func (r *gormRepository) TransactionOwner(ctx context.Context, id string) (string, bool, error) {
	var owners []string
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("customer_id", &owners).Error
	if err != nil || len(owners) == 0 {
		return "", false, err
	}
	return owners[0], true, nil
}

// UpsertTransaction inserts txn or refreshes the stored row. A completed
// status is terminal and is never replaced by a later non-terminal one, and
// timestamps only move forward.
func (r *gormRepository) UpsertTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Transaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", txn.ID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(txn).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if txn.CustomerID != "" && txn.CustomerID != existing.CustomerID {
			updates["customer_id"] = txn.CustomerID
		}
		if txn.Status != "" && txn.Status != existing.Status &&
			!(IsCompletedStatus(existing.Status) && !IsCompletedStatus(txn.Status)) {
			updates["status"] = txn.Status
		}
		if txn.UpdatedAt.After(existing.UpdatedAt) {
			updates["updated_at"] = txn.UpdatedAt
		}
		if len(updates) == 0 {
			return nil
		}
		if _, ok := updates["updated_at"]; !ok {
			updates["updated_at"] = existing.UpdatedAt
		}
		return tx.Model(&models.Transaction{}).Where("id = ?", txn.ID).UpdateColumns(updates).Error
	})
}

func (r *gormRepository) FulfilledTransactionIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := r.db.WithContext(ctx).Model(&models.Fulfillment{}).
		Where("transaction_id IN ?", ids).
		Pluck("transaction_id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *gormRepository) RecentWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Order("processed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}
