package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/app/models"
	"github.com/ManuelReschke/LeadVault/internal/pkg/testdb"
)

func seedLeads(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&models.Lead{
			Name:    fmt.Sprintf("Lead %d", i),
			Email:   fmt.Sprintf("lead%d@example.com", i),
			Company: "Acme",
			Status:  models.LeadStatusAvailable,
		}).Error)
	}
}

func TestAssignTakesLeadsInCreationOrder(t *testing.T) {
	db := testdb.New(t)
	seedLeads(t, db, 5)
	now := time.Now().UTC()

	var leads []models.Lead
	err := Transaction(context.Background(), db, func(tx *gorm.DB) error {
		var err error
		leads, err = Assign(tx, "user-1", 3, now)
		return err
	})
	require.NoError(t, err)
	require.Len(t, leads, 3)
	assert.Equal(t, []uint{1, 2, 3}, []uint{leads[0].ID, leads[1].ID, leads[2].ID})

	available, err := CountAvailable(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), available)

	owned, err := CountOwned(db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), owned)

	var stored models.Lead
	require.NoError(t, db.First(&stored, 1).Error)
	assert.Equal(t, models.LeadStatusAssigned, stored.Status)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, "user-1", *stored.AssignedTo)
	assert.NotNil(t, stored.AssignedAt)

	var copies []models.UserLead
	require.NoError(t, db.Where("user_id = ?", "user-1").Order("source_lead_id").Find(&copies).Error)
	require.Len(t, copies, 3)
	assert.Equal(t, "Lead 0", copies[0].Name)
	assert.Equal(t, models.UserLeadStatusNew, copies[0].Status)
}

func TestAssignAllOrNothing(t *testing.T) {
	db := testdb.New(t)
	seedLeads(t, db, 2)

	err := Transaction(context.Background(), db, func(tx *gorm.DB) error {
		_, err := Assign(tx, "user-1", 3, time.Now())
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientInventory)

	available, err := CountAvailable(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), available)

	owned, err := CountOwned(db, "user-1")
	require.NoError(t, err)
	assert.Zero(t, owned)
}

func TestAssignSkipsAssignedLeads(t *testing.T) {
	db := testdb.New(t)
	seedLeads(t, db, 3)
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", 1).
		Updates(map[string]any{"status": models.LeadStatusAssigned, "assigned_to": "someone"}).Error)

	var leads []models.Lead
	require.NoError(t, Transaction(context.Background(), db, func(tx *gorm.DB) error {
		var err error
		leads, err = Assign(tx, "user-1", 2, time.Now())
		return err
	}))
	assert.Equal(t, uint(2), leads[0].ID)
	assert.Equal(t, uint(3), leads[1].ID)
}

func TestTransactionRetriesContention(t *testing.T) {
	db := testdb.New(t)

	attempts := 0
	err := Transaction(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		if attempts < 2 {
			return ErrContention
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = Transaction(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return fmt.Errorf("wrapped: %w", ErrContention)
	})
	assert.ErrorIs(t, err, ErrContention)
	assert.Equal(t, maxAttempts, attempts)

	attempts = 0
	boom := errors.New("boom")
	err = Transaction(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestPoolStats(t *testing.T) {
	db := testdb.New(t)
	seedLeads(t, db, 4)
	require.NoError(t, Transaction(context.Background(), db, func(tx *gorm.DB) error {
		_, err := Assign(tx, "user-1", 1, time.Now())
		return err
	}))

	stats, err := PoolStats(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, Stats{Available: 3, Assigned: 1}, stats)
}
