package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ManuelReschke/LeadVault/internal/pkg/auth"
	"github.com/ManuelReschke/LeadVault/internal/pkg/billing"
	"github.com/ManuelReschke/LeadVault/internal/pkg/config"
	"github.com/ManuelReschke/LeadVault/internal/pkg/fulfillment"
	"github.com/ManuelReschke/LeadVault/internal/pkg/iphash"
	"github.com/ManuelReschke/LeadVault/internal/pkg/lock"
	"github.com/ManuelReschke/LeadVault/internal/pkg/middleware"
	"github.com/ManuelReschke/LeadVault/internal/pkg/signupgrant"
	"github.com/ManuelReschke/LeadVault/internal/pkg/testdb"
)

const testJWTSecret = "router-test-secret"

func newTestApp(t *testing.T, adminSecret string, signupLimit int) *fiber.App {
	t.Helper()
	db := testdb.New(t)
	log := zap.NewNop()

	cfg := &config.Config{
		Auth:        config.AuthConfig{JWTSecret: testJWTSecret},
		Admin:       config.AdminConfig{Secret: adminSecret},
		Fulfillment: config.FulfillmentConfig{RateLimit: 20, RateWindow: time.Minute},
		Signup:      config.SignupConfig{RateLimit: signupLimit, RateWindow: time.Minute},
	}
	billingSvc := billing.NewServiceFromDB(db, billing.ReconcileConfig{Lookback: time.Hour, LedgerPage: 10, MirrorScan: 10}, log)

	app := fiber.New()
	InstallRouter(app, &Dependencies{
		Config:      cfg,
		DB:          db,
		Billing:     billingSvc,
		Verifier:    billing.NewSignatureVerifier([]string{"whsec"}, 0),
		Fulfillment: fulfillment.NewService(db, billingSvc, lock.NopLocker{}, nil, fulfillment.Config{}, log),
		SignupGrant: signupgrant.NewService(db, iphash.New("salt"), nil, signupgrant.Config{FreeLeads: 5, IPWindow: time.Hour, BackfillPage: 10}, log),
		Tokens:      auth.NewTokenVerifier(cfg.Auth),
		Log:         log,
	})
	return app
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.NewTokenVerifier(config.AuthConfig{JWTSecret: testJWTSecret}).
		Sign(auth.Identity{UserID: userID, Email: userID + "@example.com"}, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, "", 10)
	assert.Equal(t, fiber.StatusOK, status(t, app, httptest.NewRequest(http.MethodGet, "/health", nil)))
}

func TestAuthenticatedRoutesRequireBearer(t *testing.T) {
	app := newTestApp(t, "", 10)
	for _, path := range []string{"/fulfillment", "/signup-grant"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		assert.Equal(t, fiber.StatusUnauthorized, status(t, app, req), path)
	}
}

func TestSignupGrantCreatesProfile(t *testing.T) {
	app := newTestApp(t, "", 10)
	req := httptest.NewRequest(http.MethodPost, "/signup-grant", nil)
	req.Header.Set(fiber.HeaderAuthorization, bearer(t, "user-1"))
	assert.Equal(t, fiber.StatusOK, status(t, app, req))
}

func TestSignupGrantRateLimited(t *testing.T) {
	app := newTestApp(t, "", 2)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/signup-grant", nil)
		req.Header.Set(fiber.HeaderAuthorization, bearer(t, "user-1"))
		codes = append(codes, status(t, app, req))
	}
	assert.Equal(t, []int{fiber.StatusOK, fiber.StatusOK, fiber.StatusTooManyRequests}, codes)
}

func TestAdminRoutes(t *testing.T) {
	disabled := newTestApp(t, "", 10)
	req := httptest.NewRequest(http.MethodPost, "/admin/backfill-starter", nil)
	req.Header.Set(middleware.AdminSecretHeader, "anything")
	assert.Equal(t, fiber.StatusServiceUnavailable, status(t, disabled, req))

	app := newTestApp(t, "s3cret", 10)
	req = httptest.NewRequest(http.MethodPost, "/admin/backfill-starter", nil)
	req.Header.Set(middleware.AdminSecretHeader, "wrong")
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/admin/allocation-stats", nil)
	req.Header.Set(middleware.AdminSecretHeader, "s3cret")
	assert.Equal(t, fiber.StatusOK, status(t, app, req))
}

func TestWebhookRouteIsPublic(t *testing.T) {
	app := newTestApp(t, "", 10)
	body := `{"event_id":"evt_1","event_type":"transaction.created","data":{"id":"txn_1"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", strings.NewReader(body))
	req.Header.Set(billing.SignatureHeader, billing.SignWebhookPayload([]byte(body), time.Now(), "whsec"))
	assert.Equal(t, fiber.StatusOK, status(t, app, req))
}
