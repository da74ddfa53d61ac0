package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/LeadVault/app/models"
	"github.com/ManuelReschke/LeadVault/internal/pkg/billing"
	"github.com/ManuelReschke/LeadVault/internal/pkg/logger"
	"github.com/ManuelReschke/LeadVault/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/LeadVault/internal/pkg/s3archive"
)

// WebhookRecorder mirrors and projects processor deliveries.
type WebhookRecorder interface {
	RecordWebhookEvent(ctx context.Context, raw []byte) (bool, *models.WebhookEvent, error)
	ProjectEvent(ctx context.Context, event *models.WebhookEvent) error
}

// SignatureVerifier checks the processor signature header.
type SignatureVerifier interface {
	Verify(payload []byte, header string) bool
}

// WebhookController receives payment processor deliveries.
type WebhookController struct {
	recorder WebhookRecorder
	verifier SignatureVerifier
	archive  s3archive.Archiver
	counters counter.Recorder
	log      *zap.Logger
}

func NewWebhookController(recorder WebhookRecorder, verifier SignatureVerifier, archive s3archive.Archiver, counters counter.Recorder, log *zap.Logger) *WebhookController {
	if archive == nil {
		archive = s3archive.Nop{}
	}
	if counters == nil {
		counters = counter.Nop{}
	}
	return &WebhookController{
		recorder: recorder,
		verifier: verifier,
		archive:  archive,
		counters: counters,
		log:      log.Named("webhook"),
	}
}

// HandlePaymentWebhook verifies and mirrors a delivery. Any verified
// delivery is acknowledged with 200 whatever its event type; projecting it
// into the ledgers and archiving it are best-effort.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()
	log := logger.FromContext(ctx, wc.log)
	rawBody := append([]byte(nil), c.BodyRaw()...)

	if !wc.verifier.Verify(rawBody, c.Get(billing.SignatureHeader)) {
		wc.counters.Add(ctx, counter.WebhookRejected, 1)
		return errorResponse(c, fiber.StatusUnauthorized, "invalid_signature")
	}

	created, stored, err := wc.recorder.RecordWebhookEvent(ctx, rawBody)
	if errors.Is(err, billing.ErrInvalidPayload) {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_payload")
	}
	if err != nil {
		log.Error("failed to mirror webhook delivery", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "webhook_persist_failed")
	}
	if !created {
		wc.counters.Add(ctx, counter.WebhookDuplicate, 1)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	wc.counters.Add(ctx, counter.WebhookReceived, 1)

	log = log.With(zap.String("event_id", stored.EventID), zap.String("event_type", stored.EventType))
	if err := wc.recorder.ProjectEvent(ctx, stored); err != nil {
		log.Warn("failed to project webhook event", zap.Error(err))
	}
	if err := wc.archive.Archive(ctx, stored.EventID, stored.ProcessedAt, rawBody); err != nil {
		log.Warn("failed to archive webhook payload", zap.Error(err))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
