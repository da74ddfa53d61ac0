package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadVault/app/models"
)

// Service records processor deliveries and reconciles them, together with
// the transaction ledger, into fulfillable transactions.
type Service struct {
	repo Repository
	cfg  ReconcileConfig
	log  *zap.Logger
	now  func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, cfg ReconcileConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo: repo,
		cfg:  cfg,
		log:  log.Named("billing"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, cfg ReconcileConfig, log *zap.Logger) *Service {
	return NewService(NewRepository(db), cfg, log)
}

// RecordWebhookEvent appends a verified delivery to the mirror. Redeliveries
// of the same event are stored once; created reports whether this call
// inserted the row.
func (s *Service) RecordWebhookEvent(ctx context.Context, raw []byte) (bool, *models.WebhookEvent, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		return false, nil, err
	}

	eventID := payload.EventID()
	if eventID == "" {
		sum := sha256.Sum256(raw)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		EventID:     eventID,
		EventType:   payload.EventType(),
		RawPayload:  datatypes.JSON(raw),
		ProcessedAt: s.now(),
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// ProjectEvent applies a mirrored delivery to the ledgers it describes:
// transaction events refresh the transaction ledger, customer events carrying
// a local user id create a customer link. Other events are ignored.
func (s *Service) ProjectEvent(ctx context.Context, event *models.WebhookEvent) error {
	payload, err := ParsePayload(event.RawPayload)
	if err != nil {
		return err
	}

	switch {
	case isTransactionEvent(event.EventType):
		return s.projectTransaction(ctx, event, payload)
	case isCustomerLinkEvent(event.EventType):
		return s.projectCustomer(ctx, payload)
	}
	return nil
}

func (s *Service) projectTransaction(ctx context.Context, event *models.WebhookEvent, payload *Payload) error {
	txnID := payload.TransactionID()
	if txnID == "" {
		return nil
	}

	status := payload.Status()
	if IsCompletedEventType(event.EventType) {
		status = models.TransactionStatusCompleted
	}
	updated := payload.UpdatedAt()
	if updated.IsZero() {
		updated = event.ProcessedAt
	}
	created := payload.CreatedAt()
	if created.IsZero() {
		created = updated
	}

	return s.repo.UpsertTransaction(ctx, &models.Transaction{
		ID:         txnID,
		CustomerID: payload.CustomerID(),
		Status:     NormalizeStatus(status),
		CreatedAt:  created,
		UpdatedAt:  updated,
	})
}

func (s *Service) projectCustomer(ctx context.Context, payload *Payload) error {
	userID := payload.UserID()
	customerID := payload.LinkedCustomerID()
	if userID == "" || customerID == "" {
		return nil
	}
	created, err := s.repo.CreateCustomerLinkIfNotExists(ctx, &models.CustomerLink{
		UserID:              userID,
		ProcessorCustomerID: customerID,
		Email:               payload.Email(),
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Info("linked processor customer",
			zap.String("user_id", userID),
			zap.String("customer_id", customerID),
		)
	}
	return nil
}

// ResolveCustomerIDs returns every processor customer linked to the user,
// by user id and by verified email. The email lookup also covers a failing
// user id lookup.
func (s *Service) ResolveCustomerIDs(ctx context.Context, userID, email string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	email = strings.ToLower(strings.TrimSpace(email))

	var ids []string
	byUser, userErr := s.repo.CustomerIDsByUser(ctx, userID)
	if userErr != nil {
		s.log.Warn("customer lookup by user id failed, falling back to email",
			zap.String("user_id", userID),
			zap.Error(userErr),
		)
	} else {
		ids = append(ids, byUser...)
	}

	if email != "" {
		byEmail, err := s.repo.CustomerIDsByEmail(ctx, email)
		if err != nil {
			if userErr != nil {
				return nil, errors.Join(userErr, err)
			}
			s.log.Warn("customer lookup by email failed", zap.Error(err))
		} else {
			ids = append(ids, byEmail...)
		}
	} else if userErr != nil {
		return nil, userErr
	}

	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, ErrCustomerNotMapped
	}
	return ids, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
