package billing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/LeadVault/app/models"
)

// reconcileQuery is what every evidence source is asked for.
type reconcileQuery struct {
	customerIDs   []string
	customerSet   map[string]struct{}
	transactionID string
	notBefore     time.Time // zero when an explicit transaction id was given
}

func (q reconcileQuery) ownsCustomer(customerID string) bool {
	_, ok := q.customerSet[customerID]
	return ok
}

func (q reconcileQuery) recentEnough(t time.Time) bool {
	return q.notBefore.IsZero() || !t.Before(q.notBefore)
}

// evidenceSource yields completed transactions in ranking order. A source
// that is not authoritative degrades to "no evidence" when it fails.
type evidenceSource interface {
	name() string
	authoritative() bool
	completed(ctx context.Context, q reconcileQuery) ([]models.Transaction, error)
}

type ledgerSource struct {
	repo Repository
	page int
}

func (ledgerSource) name() string        { return SourceLedger }
func (ledgerSource) authoritative() bool { return true }

func (s ledgerSource) completed(ctx context.Context, q reconcileQuery) ([]models.Transaction, error) {
	var (
		rows []models.Transaction
		err  error
	)
	if q.transactionID != "" {
		rows, err = s.repo.TransactionsByID(ctx, q.transactionID, q.customerIDs)
	} else {
		rows, err = s.repo.RecentTransactions(ctx, q.customerIDs, s.page)
	}
	if err != nil {
		return nil, err
	}

	out := make([]models.Transaction, 0, len(rows))
	for _, row := range rows {
		if !IsCompletedStatus(row.Status) || !q.recentEnough(row.LastActivity()) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// mirrorSource synthesizes completed transactions from raw deliveries and
// writes them back to the ledger so the next lookup finds them there.
type mirrorSource struct {
	repo Repository
	scan int
	log  *zap.Logger
}

func (mirrorSource) name() string        { return SourceMirror }
func (mirrorSource) authoritative() bool { return false }

func (s mirrorSource) completed(ctx context.Context, q reconcileQuery) ([]models.Transaction, error) {
	if s.scan <= 0 {
		return nil, nil
	}
	events, err := s.repo.RecentWebhookEvents(ctx, s.scan)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []models.Transaction
	for _, event := range events {
		payload, perr := ParsePayload(event.RawPayload)
		if perr != nil {
			continue
		}
		eventType := event.EventType
		if eventType == "" {
			eventType = payload.EventType()
		}
		if !IsCompletedEventType(eventType) {
			continue
		}

		txnID := payload.TransactionID()
		if txnID == "" {
			continue
		}
		if q.transactionID != "" && txnID != q.transactionID {
			continue
		}
		customerID := payload.CustomerID()
		if customerID != "" && !q.ownsCustomer(customerID) {
			continue
		}
		if customerID == "" {
			owner, ok := s.ledgerOwner(ctx, txnID, q)
			if !ok {
				continue
			}
			customerID = owner
		}

		occurred := payload.UpdatedAt()
		if occurred.IsZero() {
			occurred = event.ProcessedAt
		}
		if !q.recentEnough(occurred) {
			continue
		}
		if _, dup := seen[txnID]; dup {
			continue
		}
		seen[txnID] = struct{}{}

		created := payload.CreatedAt()
		if created.IsZero() {
			created = occurred
		}
		txn := models.Transaction{
			ID:         txnID,
			CustomerID: customerID,
			Status:     models.TransactionStatusCompleted,
			CreatedAt:  created,
			UpdatedAt:  occurred,
		}
		out = append(out, txn)

		backfill := txn
		if err := s.repo.UpsertTransaction(ctx, &backfill); err != nil {
			s.log.Warn("failed to backfill transaction from webhook mirror",
				zap.String("transaction_id", txnID),
				zap.Error(err),
			)
		}
	}
	return out, nil
}

// ledgerOwner settles the owner of a mirror event that names no customer.
// A ledger row owned by another customer wins over the anonymous event; a
// failed lookup skips the event.
func (s mirrorSource) ledgerOwner(ctx context.Context, txnID string, q reconcileQuery) (string, bool) {
	owner, found, err := s.repo.TransactionOwner(ctx, txnID)
	if err != nil {
		s.log.Warn("failed to look up ledger owner of mirrored transaction",
			zap.String("transaction_id", txnID),
			zap.Error(err),
		)
		return "", false
	}
	if !found || owner == "" {
		return "", true
	}
	return owner, q.ownsCustomer(owner)
}

// FindCompletedTransaction runs the evidence sources in priority order and
// picks the first completed candidate that has not been fulfilled yet. When
// every candidate is fulfilled the first one is returned with
// AlreadyFulfilled set, so the caller can answer idempotently.
func (s *Service) FindCompletedTransaction(ctx context.Context, req ReconcileRequest) (*Reconciled, error) {
	customerIDs, err := s.ResolveCustomerIDs(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}

	q := reconcileQuery{
		customerIDs:   customerIDs,
		customerSet:   make(map[string]struct{}, len(customerIDs)),
		transactionID: req.TransactionID,
	}
	for _, id := range customerIDs {
		q.customerSet[id] = struct{}{}
	}
	if q.transactionID == "" && s.cfg.Lookback > 0 {
		q.notBefore = s.now().Add(-s.cfg.Lookback)
	}

	for _, src := range s.sources() {
		candidates, err := src.completed(ctx, q)
		if err != nil {
			if src.authoritative() {
				return nil, err
			}
			s.log.Warn("evidence source unavailable, treating as empty",
				zap.String("source", src.name()),
				zap.Error(err),
			)
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		return s.choose(ctx, src.name(), candidates)
	}
	return nil, ErrNoTransaction
}

func (s *Service) sources() []evidenceSource {
	return []evidenceSource{
		ledgerSource{repo: s.repo, page: s.cfg.LedgerPage},
		mirrorSource{repo: s.repo, scan: s.cfg.MirrorScan, log: s.log},
	}
}

func (s *Service) choose(ctx context.Context, source string, candidates []models.Transaction) (*Reconciled, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	fulfilled, err := s.repo.FulfilledTransactionIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if _, done := fulfilled[c.ID]; !done {
			return &Reconciled{Transaction: c, Source: source}, nil
		}
	}
	return &Reconciled{Transaction: candidates[0], Source: source, AlreadyFulfilled: true}, nil
}
