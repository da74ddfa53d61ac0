package billing

import (
	"errors"
	"time"

	"github.com/ManuelReschke/LeadVault/app/models"
)

var (
	// ErrCustomerNotMapped means no processor customer id could be resolved
	// for the caller.
	ErrCustomerNotMapped = errors.New("no processor customer linked to user")
	// ErrNoTransaction means neither evidence source holds a completed
	// transaction for the caller.
	ErrNoTransaction = errors.New("no completed transaction found")
)

// Evidence source names, reported with each reconciled transaction.
const (
	SourceLedger = "ledger"
	SourceMirror = "mirror"
)

// ReconcileConfig bounds the reconciliation queries.
type ReconcileConfig struct {
	Lookback   time.Duration
	LedgerPage int
	MirrorScan int
}

// ReconcileRequest identifies the caller and, optionally, the transaction
// they are claiming.
type ReconcileRequest struct {
	UserID        string
	Email         string
	TransactionID string
}

// Reconciled is the transaction chosen for fulfillment. AlreadyFulfilled is
// set when every completed candidate already has a fulfillment row.
type Reconciled struct {
	Transaction      models.Transaction
	Source           string
	AlreadyFulfilled bool
}
