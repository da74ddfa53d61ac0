// Package inventory hands out leads from the shared pool. Every function that
// mutates the pool takes the caller's transaction handle; the caller owns
// commit and rollback.
package inventory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LeadVault/app/models"
)

const maxAttempts = 3

var (
	// ErrInsufficientInventory means fewer leads are available than were
	// requested. Nothing was assigned.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrContention means a concurrent transaction assigned one of the
	// selected leads between selection and update.
	ErrContention = errors.New("inventory contention")
)

// Assign moves exactly n available leads to userID and copies them into the
// user's collection. Leads are taken in creation order. The update re-checks
// availability, so a lead claimed by a concurrent transaction surfaces as
// ErrContention and the caller's transaction must be rolled back.
func Assign(tx *gorm.DB, userID string, n int, now time.Time) ([]models.Lead, error) {
	if n <= 0 {
		return nil, nil
	}

	var leads []models.Lead
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND assigned_to IS NULL", models.LeadStatusAvailable).
		Order("id ASC").
		Limit(n).
		Find(&leads).Error
	if err != nil {
		return nil, err
	}
	if len(leads) < n {
		return nil, ErrInsufficientInventory
	}

	ids := make([]uint, len(leads))
	for i := range leads {
		ids[i] = leads[i].ID
	}

	res := tx.Model(&models.Lead{}).
		Where("id IN ? AND status = ? AND assigned_to IS NULL", ids, models.LeadStatusAvailable).
		Updates(map[string]any{
			"status":      models.LeadStatusAssigned,
			"assigned_to": userID,
			"assigned_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != int64(len(leads)) {
		return nil, ErrContention
	}

	copies := make([]models.UserLead, len(leads))
	for i := range leads {
		assignee := userID
		at := now
		leads[i].Status = models.LeadStatusAssigned
		leads[i].AssignedTo = &assignee
		leads[i].AssignedAt = &at
		copies[i] = leads[i].CopyFor(userID)
	}
	if err := tx.Create(&copies).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

// Transaction runs fn in a database transaction, retrying from scratch when
// fn fails with ErrContention.
func Transaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, ErrContention) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// CountAvailable returns the number of leads that can still be assigned.
func CountAvailable(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&models.Lead{}).
		Where("status = ? AND assigned_to IS NULL", models.LeadStatusAvailable).
		Count(&n).Error
	return n, err
}

// CountOwned returns the size of the user's lead collection.
func CountOwned(db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.Model(&models.UserLead{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// Stats summarizes the pool.
type Stats struct {
	Available int64 `json:"available"`
	Assigned  int64 `json:"assigned"`
}

func PoolStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := db.WithContext(ctx).Model(&models.Lead{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, r := range rows {
		switch r.Status {
		case models.LeadStatusAvailable:
			s.Available = r.Total
		case models.LeadStatusAssigned:
			s.Assigned = r.Total
		}
	}
	return s, nil
}
