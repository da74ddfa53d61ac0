// Package fulfillment turns a completed payment into leads owned by the
// payer, exactly once per transaction.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/app/models"
	"github.com/ManuelReschke/LeadVault/internal/pkg/billing"
	"github.com/ManuelReschke/LeadVault/internal/pkg/inventory"
	"github.com/ManuelReschke/LeadVault/internal/pkg/lock"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/metrics/counter"
)

const ReasonAlreadyFulfilled = "already_fulfilled"

const (
	minLeads        = 1
	defaultMaxLeads = 1000
	defaultLockTTL  = 30 * time.Second
)

var (
	ErrInvalidLeadCount = errors.New("requested lead count out of range")
	// ErrFulfillmentInProgress means another request is fulfilling the same
	// transaction right now.
	ErrFulfillmentInProgress = errors.New("fulfillment already in progress")
	ErrMissingUser           = errors.New("user id is required")

	errAlreadyFulfilled = errors.New("transaction already fulfilled")
)

// Reconciler finds the completed transaction a caller may claim.
type Reconciler interface {
	FindCompletedTransaction(ctx context.Context, req billing.ReconcileRequest) (*billing.Reconciled, error)
}

type Config struct {
	MaxLeads int
	LockTTL  time.Duration
}

type Request struct {
	UserID         string
	Email          string
	TransactionID  string
	PackageID      string
	RequestedLeads int
}

type Result struct {
	Granted       bool
	LeadCount     int
	TransactionID string
	Reason        string
}

type Service struct {
	db         *gorm.DB
	reconciler Reconciler
	locker     lock.Locker
	counters   counter.Recorder
	log        *zap.Logger
	cfg        Config
	now        func() time.Time
}

func NewService(db *gorm.DB, reconciler Reconciler, locker lock.Locker, counters counter.Recorder, cfg Config, log *zap.Logger) *Service {
	if cfg.MaxLeads <= 0 {
		cfg.MaxLeads = defaultMaxLeads
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if locker == nil {
		locker = lock.NopLocker{}
	}
	if counters == nil {
		counters = counter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:         db,
		reconciler: reconciler,
		locker:     locker,
		counters:   counters,
		log:        log.Named("fulfillment"),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Fulfill allocates req.RequestedLeads leads for the caller's completed
// transaction. A transaction that was already fulfilled yields a result with
// Reason set, not an error.
func (s *Service) Fulfill(ctx context.Context, req Request) (*Result, error) {
	if req.RequestedLeads < minLeads || req.RequestedLeads > s.cfg.MaxLeads {
		return nil, ErrInvalidLeadCount
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	log := logger.FromContext(ctx, s.log).With(zap.String("user_id", req.UserID))

	rec, err := s.reconciler.FindCompletedTransaction(ctx, billing.ReconcileRequest{
		UserID:        req.UserID,
		Email:         req.Email,
		TransactionID: strings.TrimSpace(req.TransactionID),
	})
	if err != nil {
		return nil, err
	}
	txnID := rec.Transaction.ID
	log = log.With(zap.String("transaction_id", txnID), zap.String("source", rec.Source))

	if rec.AlreadyFulfilled {
		s.counters.Add(ctx, counter.FulfillmentAlreadyFulfilled, 1)
		return alreadyFulfilled(txnID), nil
	}

	release, err := s.locker.Acquire(ctx, txnID, s.cfg.LockTTL)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return nil, ErrFulfillmentInProgress
	case err != nil:
		log.Warn("in-flight lock unavailable, continuing without it", zap.Error(err))
	default:
		defer release()
	}

	var granted int
	err = inventory.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		// Checked first so a retry after a partial failure never re-grants.
		var existing int64
		if err := tx.Model(&models.Fulfillment{}).Where("transaction_id = ?", txnID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errAlreadyFulfilled
		}

		leads, err := inventory.Assign(tx, req.UserID, req.RequestedLeads, s.now())
		if err != nil {
			return err
		}

		f := &models.Fulfillment{
			ID:            uuid.NewString(),
			TransactionID: txnID,
			UserID:        req.UserID,
			LeadCount:     len(leads),
			PackageID:     strings.TrimSpace(req.PackageID),
		}
		if err := tx.Create(f).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errAlreadyFulfilled
			}
			return err
		}
		granted = len(leads)
		return nil
	})

	switch {
	case errors.Is(err, errAlreadyFulfilled):
		s.counters.Add(ctx, counter.FulfillmentAlreadyFulfilled, 1)
		return alreadyFulfilled(txnID), nil
	case errors.Is(err, inventory.ErrInsufficientInventory):
		s.counters.Add(ctx, counter.FulfillmentInsufficient, 1)
		log.Warn("not enough inventory to fulfill", zap.Int("requested", req.RequestedLeads))
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("fulfill transaction %s: %w", txnID, err)
	}

	s.counters.Add(ctx, counter.FulfillmentGranted, 1)
	s.counters.Add(ctx, counter.FulfillmentLeads, int64(granted))
	log.Info("fulfilled transaction", zap.Int("lead_count", granted))

	return &Result{
		Granted:       true,
		LeadCount:     granted,
		TransactionID: txnID,
	}, nil
}

func alreadyFulfilled(txnID string) *Result {
	return &Result{
		Granted:       false,
		TransactionID: txnID,
		Reason:        ReasonAlreadyFulfilled,
	}
}
