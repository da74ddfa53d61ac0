package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/app/models"
	"github.com/ManuelReschke/LeadVault/internal/pkg/testdb"
)

var testReconcileConfig = ReconcileConfig{
	Lookback:   72 * time.Hour,
	LedgerPage: 50,
	MirrorScan: 200,
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testdb.New(t)
	return NewServiceFromDB(db, testReconcileConfig, zap.NewNop()), db
}

func seedLink(t *testing.T, db *gorm.DB, userID, customerID, email string) {
	t.Helper()
	require.NoError(t, db.Create(&models.CustomerLink{
		UserID:              userID,
		ProcessorCustomerID: customerID,
		Email:               email,
	}).Error)
}

func seedTransaction(t *testing.T, db *gorm.DB, id, customerID, status string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.Transaction{
		ID:         id,
		CustomerID: customerID,
		Status:     status,
		CreatedAt:  at,
		UpdatedAt:  at,
	}).Error)
}

func seedFulfillment(t *testing.T, db *gorm.DB, txnID, userID string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Fulfillment{
		ID:            uuid.NewString(),
		TransactionID: txnID,
		UserID:        userID,
		LeadCount:     1,
	}).Error)
}

func seedEvent(t *testing.T, db *gorm.DB, eventID, eventType, raw string, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.WebhookEvent{
		EventID:     eventID,
		EventType:   eventType,
		RawPayload:  datatypes.JSON(raw),
		ProcessedAt: at,
	}).Error)
}

func TestResolveCustomerIDsUnionsUserAndEmail(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedLink(t, db, "user-1", "ctm_a", "old@example.com")
	seedLink(t, db, "", "ctm_b", "buyer@example.com")
	seedLink(t, db, "user-1", "ctm_c", "buyer@example.com")

	ids, err := svc.ResolveCustomerIDs(ctx, "user-1", "Buyer@Example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ctm_a", "ctm_c", "ctm_b"}, ids)

	_, err = svc.ResolveCustomerIDs(ctx, "user-2", "")
	assert.ErrorIs(t, err, ErrCustomerNotMapped)
}

type failingUserLookup struct {
	Repository
}

func (failingUserLookup) CustomerIDsByUser(context.Context, string) ([]string, error) {
	return nil, errors.New("no such column: user_id")
}

func TestResolveCustomerIDsFallsBackToEmail(t *testing.T) {
	db := testdb.New(t)
	seedLink(t, db, "", "ctm_email", "buyer@example.com")
	svc := NewService(failingUserLookup{NewRepository(db)}, testReconcileConfig, zap.NewNop())

	ids, err := svc.ResolveCustomerIDs(context.Background(), "user-1", "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ctm_email"}, ids)

	_, err = svc.ResolveCustomerIDs(context.Background(), "user-1", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCustomerNotMapped)
}

func TestFindCompletedTransactionPrefersNewestUnfulfilled(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedLink(t, db, "user-1", "ctm_1", "")
	seedTransaction(t, db, "txn_old", "ctm_1", "completed", now.Add(-3*time.Hour))
	seedTransaction(t, db, "txn_new", "ctm_1", "transaction.closed", now.Add(-1*time.Hour))
	seedTransaction(t, db, "txn_pending", "ctm_1", "billed", now)
	seedTransaction(t, db, "txn_other", "ctm_2", "completed", now)

	got, err := svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "txn_new", got.Transaction.ID)
	assert.Equal(t, SourceLedger, got.Source)
	assert.False(t, got.AlreadyFulfilled)

	seedFulfillment(t, db, "txn_new", "user-1")
	got, err = svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "txn_old", got.Transaction.ID)

	seedFulfillment(t, db, "txn_old", "user-1")
	got, err = svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "txn_new", got.Transaction.ID)
	assert.True(t, got.AlreadyFulfilled)
}

func TestFindCompletedTransactionLookback(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedLink(t, db, "user-1", "ctm_1", "")
	seedTransaction(t, db, "txn_stale", "ctm_1", "completed", time.Now().UTC().Add(-100*time.Hour))

	_, err := svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, ErrNoTransaction)

	got, err := svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-1", TransactionID: "txn_stale"})
	require.NoError(t, err)
	assert.Equal(t, "txn_stale", got.Transaction.ID)
}

func TestFindCompletedTransactionExplicitIDMustBelongToCaller(t *testing.T) {
	svc, db := newTestService(t)
	seedLink(t, db, "user-1", "ctm_1", "")
	seedTransaction(t, db, "txn_foreign", "ctm_9", "completed", time.Now().UTC())

	_, err := svc.FindCompletedTransaction(context.Background(), ReconcileRequest{UserID: "user-1", TransactionID: "txn_foreign"})
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestFindCompletedTransactionMirrorFallbackBackfillsLedger(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedLink(t, db, "user-1", "ctm_1", "")
	seedEvent(t, db, "evt_other", "transaction.completed", `{"data":{"id":"txn_foreign","customer_id":"ctm_2"}}`, now)
	seedEvent(t, db, "evt_updated", "transaction.updated", `{"data":{"id":"txn_upd","customer_id":"ctm_1"}}`, now)
	seedEvent(t, db, "evt_1", "transaction.completed", `{"payload":{"data":{"id":"txn_mirror","customer_id":"ctm_1"}}}`, now.Add(-time.Minute))

	got, err := svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "txn_mirror", got.Transaction.ID)
	assert.Equal(t, SourceMirror, got.Source)

	var stored models.Transaction
	require.NoError(t, db.First(&stored, "id = ?", "txn_mirror").Error)
	assert.Equal(t, "ctm_1", stored.CustomerID)
	assert.Equal(t, models.TransactionStatusCompleted, stored.Status)

	// The next lookup is served by the ledger.
	got, err = svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, SourceLedger, got.Source)
}

func TestFindCompletedTransactionMirrorAcceptsMissingCustomer(t *testing.T) {
	svc, db := newTestService(t)
	seedLink(t, db, "user-1", "ctm_1", "")
	seedEvent(t, db, "evt_1", "transaction_closed", `{"transaction_id":"txn_anon"}`, time.Now().UTC())

	got, err := svc.FindCompletedTransaction(context.Background(), ReconcileRequest{UserID: "user-1", TransactionID: "txn_anon"})
	require.NoError(t, err)
	assert.Equal(t, "txn_anon", got.Transaction.ID)
}

func TestFindCompletedTransactionMirrorSkipsTransactionOwnedByOtherCustomer(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedLink(t, db, "user-a", "ctm_a", "")
	seedLink(t, db, "user-b", "ctm_b", "")
	seedTransaction(t, db, "txn_b", "ctm_b", "billed", now)
	seedEvent(t, db, "evt_b", "transaction.completed", `{"transaction_id":"txn_b"}`, now)

	_, err := svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-a", TransactionID: "txn_b"})
	assert.ErrorIs(t, err, ErrNoTransaction)
	_, err = svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-a"})
	assert.ErrorIs(t, err, ErrNoTransaction)

	got, err := svc.FindCompletedTransaction(ctx, ReconcileRequest{UserID: "user-b", TransactionID: "txn_b"})
	require.NoError(t, err)
	assert.Equal(t, "txn_b", got.Transaction.ID)
	assert.Equal(t, "ctm_b", got.Transaction.CustomerID)
	assert.Equal(t, SourceMirror, got.Source)
	assert.False(t, got.AlreadyFulfilled)
}

func TestFindCompletedTransactionMirrorRespectsLookback(t *testing.T) {
	svc, db := newTestService(t)
	seedLink(t, db, "user-1", "ctm_1", "")
	seedEvent(t, db, "evt_1", "transaction.completed", `{"data":{"id":"txn_1","customer_id":"ctm_1"}}`, time.Now().UTC().Add(-80*time.Hour))

	_, err := svc.FindCompletedTransaction(context.Background(), ReconcileRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, ErrNoTransaction)
}

type brokenMirror struct {
	Repository
}

func (brokenMirror) RecentWebhookEvents(context.Context, int) ([]models.WebhookEvent, error) {
	return nil, errors.New("mirror table missing")
}

type brokenLedger struct {
	Repository
}

func (brokenLedger) RecentTransactions(context.Context, []string, int) ([]models.Transaction, error) {
	return nil, errors.New("ledger down")
}

func TestFindCompletedTransactionDegradesOnMirrorFailure(t *testing.T) {
	db := testdb.New(t)
	seedLink(t, db, "user-1", "ctm_1", "")

	svc := NewService(brokenMirror{NewRepository(db)}, testReconcileConfig, zap.NewNop())
	_, err := svc.FindCompletedTransaction(context.Background(), ReconcileRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, ErrNoTransaction)

	svc = NewService(brokenLedger{NewRepository(db)}, testReconcileConfig, zap.NewNop())
	_, err = svc.FindCompletedTransaction(context.Background(), ReconcileRequest{UserID: "user-1"})
	assert.ErrorContains(t, err, "ledger down")
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	raw := []byte(`{"event_id":"evt_1","event_type":"transaction.completed","data":{"id":"txn_1"}}`)

	created, event, err := svc.RecordWebhookEvent(ctx, raw)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "evt_1", event.EventID)
	assert.Equal(t, "transaction.completed", event.EventType)

	created, again, err := svc.RecordWebhookEvent(ctx, raw)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, event.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordWebhookEventHashFallback(t *testing.T) {
	svc, _ := newTestService(t)
	_, event, err := svc.RecordWebhookEvent(context.Background(), []byte(`{"type":"transaction.completed"}`))
	require.NoError(t, err)
	assert.Regexp(t, `^hash:[0-9a-f]{64}$`, event.EventID)
}

func TestRecordWebhookEventRejectsNonJSON(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.RecordWebhookEvent(context.Background(), []byte(`nope`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRecordWebhookEventMirrorsNonObjectJSON(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	created, event, err := svc.RecordWebhookEvent(ctx, []byte(`[{"event_id":"e1"}]`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Regexp(t, `^hash:[0-9a-f]{64}$`, event.EventID)
	assert.Empty(t, event.EventType)
	require.NoError(t, svc.ProjectEvent(ctx, event))

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestProjectEventNeverDowngradesCompleted(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	record := func(raw string) {
		_, event, err := svc.RecordWebhookEvent(ctx, []byte(raw))
		require.NoError(t, err)
		require.NoError(t, svc.ProjectEvent(ctx, event))
	}

	record(`{"event_id":"e1","event_type":"transaction.created","data":{"id":"txn_1","customer_id":"ctm_1","status":"ready","updated_at":"2025-01-01T00:00:00Z"}}`)
	record(`{"event_id":"e2","event_type":"transaction.completed","data":{"id":"txn_1","customer_id":"ctm_1","status":"completed","updated_at":"2025-01-01T00:05:00Z"}}`)
	record(`{"event_id":"e3","event_type":"transaction.updated","data":{"id":"txn_1","customer_id":"ctm_1","status":"past_due","updated_at":"2025-01-01T00:10:00Z"}}`)

	var stored models.Transaction
	require.NoError(t, db.First(&stored, "id = ?", "txn_1").Error)
	assert.Equal(t, models.TransactionStatusCompleted, stored.Status)
	assert.Equal(t, "ctm_1", stored.CustomerID)
	assert.True(t, stored.UpdatedAt.Equal(time.Date(2025, 1, 1, 0, 10, 0, 0, time.UTC)))
}

func TestProjectEventLinksCustomer(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	raw := `{"event_id":"e1","event_type":"customer.created","data":{"id":"ctm_7","email":"New@Example.com","custom_data":{"user_id":"user-7"}}}`

	for i := 0; i < 2; i++ {
		_, event, err := svc.RecordWebhookEvent(ctx, []byte(raw))
		require.NoError(t, err)
		require.NoError(t, svc.ProjectEvent(ctx, event))
	}

	var links []models.CustomerLink
	require.NoError(t, db.Find(&links).Error)
	require.Len(t, links, 1)
	assert.Equal(t, "user-7", links[0].UserID)
	assert.Equal(t, "ctm_7", links[0].ProcessorCustomerID)
	assert.Equal(t, "new@example.com", links[0].Email)
}
