package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"elvlicense/internal/activity"
	"elvlicense/internal/config"
	"elvlicense/internal/license"
	"elvlicense/internal/middleware"
	"elvlicense/internal/services"
	"elvlicense/internal/storage"
	"elvlicense/pkg/contracts/domain"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testAdminSecret   = "admin-test-secret"
)

// stubNotifier counts deliveries without touching SMTP
type stubNotifier struct {
	sent []string
	fail bool
}

func (n *stubNotifier) Enabled() bool { return true }

func (n *stubNotifier) SendLicenseEmail(ctx context.Context, lic *domain.License) error {
	if n.fail {
		return fmt.Errorf("smtp unavailable")
	}
	n.sent = append(n.sent, lic.LicenseKey)
	return nil
}

func (n *stubNotifier) SendTestEmail(ctx context.Context, to string) error {
	if n.fail {
		return fmt.Errorf("smtp unavailable")
	}
	n.sent = append(n.sent, to)
	return nil
}

// stubLineItems serves a fixed line item list
type stubLineItems struct {
	items []services.CheckoutItem
	err   error
}

func (s stubLineItems) ListLineItems(ctx context.Context, sessionID string) ([]services.CheckoutItem, error) {
	return s.items, s.err
}

type serverFixture struct {
	router   chi.Router
	store    *storage.FileStore
	notifier *stubNotifier
	dataDir  string
	logsDir  string
}

func newServerFixture(t *testing.T, items []services.CheckoutItem) *serverFixture {
	t.Helper()
	dataDir := t.TempDir()
	logsDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewFileStore(dataDir, logger)
	require.NoError(t, err)
	activityLog, err := activity.NewLogger(logsDir, logger)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	svc := services.NewLicenseService(
		store,
		license.NewGenerator("test-salt", "ELV"),
		license.DefaultCatalog(),
		notifier,
		activityLog,
		logger,
		nil,
	)

	guard, err := middleware.NewAdminGuard(testAdminSecret, logger)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Security.RateLimit.Enabled = false
	cfg.Security.EnableCORS = false

	webhookHandler := NewWebhookHandler(svc, activityLog, stubLineItems{items: items}, testWebhookSecret, logger, nil)
	licenseHandler := NewLicenseHandler(svc, activityLog, guard,
		func(ctx context.Context) (int, error) { return activityLog.Rotate(ctx, filepath.Join(logsDir, "archive")) },
		logger)

	router := NewRouter(RouterDeps{
		Config:  cfg,
		Logger:  logger,
		Webhook: webhookHandler,
		License: licenseHandler,
		Guard:   guard,
	})

	return &serverFixture{
		router:   router,
		store:    store,
		notifier: notifier,
		dataDir:  dataDir,
		logsDir:  logsDir,
	}
}

// signedWebhookRequest builds a checkout.session.completed event with a valid
// Stripe signature
func signedWebhookRequest(t *testing.T, secret string) *http.Request {
	t.Helper()
	payload := []byte(`{
		"id": "evt_test_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_123",
				"customer_email": "test@example.com",
				"customer_details": {"email": "test@example.com", "name": "Test Buyer"}
			}
		}
	}`)

	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), fmt.Sprintf("%x", sig))

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	return req
}

func (f *serverFixture) persistedLicenseCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.dataDir, "licenses"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

func (f *serverFixture) licenseActivity(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.logsDir, activity.LicenseStream))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func (f *serverFixture) securityLog(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.logsDir, activity.SecurityStream))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestWebhook_TwoItemCheckout(t *testing.T) {
	f := newServerFixture(t, []services.CheckoutItem{
		{ItemID: "li_1", PriceID: "price_course_builder", Quantity: 1},
		{ItemID: "li_2", PriceID: "price_enrollment_suite", Quantity: 1},
	})

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.Equal(t, 2, resp.Licenses)

	assert.Equal(t, 2, f.persistedLicenseCount(t))
	assert.Len(t, f.notifier.sent, 2)
	assert.NotEqual(t, f.notifier.sent[0], f.notifier.sent[1], "distinct keys per item")

	activityLog := f.licenseActivity(t)
	assert.Equal(t, 1, strings.Count(activityLog, activity.ActionDeliveryCompleted))
	assert.Contains(t, activityLog, `"licenseCount":2`)
}

func TestWebhook_RetryDoesNotDoubleIssue(t *testing.T) {
	f := newServerFixture(t, []services.CheckoutItem{
		{ItemID: "li_1", PriceID: "price_course_builder", Quantity: 1},
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, f.persistedLicenseCount(t))
	assert.Len(t, f.notifier.sent, 1)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, signedWebhookRequest(t, "whsec_wrong_secret"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.persistedLicenseCount(t))

	security := f.securityLog(t)
	assert.Contains(t, security, "invalid_webhook_signature")
	assert.Contains(t, security, activity.SeverityHigh)
}

func TestWebhook_IgnoredEventType(t *testing.T) {
	f := newServerFixture(t, nil)

	payload := []byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{}}}`)
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%x", now.Unix(), sig))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Zero(t, f.persistedLicenseCount(t))
}

func TestWebhook_EmailFailureAnswers500(t *testing.T) {
	f := newServerFixture(t, []services.CheckoutItem{
		{ItemID: "li_1", PriceID: "price_course_builder", Quantity: 1},
	})
	f.notifier.fail = true

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// No rollback of the already-persisted license
	assert.Equal(t, 1, f.persistedLicenseCount(t))
}

func TestValidate_UnknownKeyAnswers404(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/validate/UNKNOWN-KEY", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var result domain.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonNotFound, result.Reason)

	security := f.securityLog(t)
	assert.Contains(t, security, "license_validation_failed")
	assert.Contains(t, security, domain.ReasonNotFound)
}

func TestValidate_ActiveKeyBumpsUsage(t *testing.T) {
	f := newServerFixture(t, nil)

	lic := &domain.License{
		LicenseKey:    "ELV-TEST-KEY-1",
		ProductID:     "elv-course-builder",
		ProductName:   "ELV Course Builder",
		LicenseType:   domain.LicenseTypeCommercial,
		CustomerEmail: "a@b.com",
	}
	_, err := f.store.SaveLicense(context.Background(), lic)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/validate/ELV-TEST-KEY-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	assert.EqualValues(t, 1, result.UsageCount)

	// The response never re-exposes storage internals
	assert.NotContains(t, rec.Body.String(), "stripe_session_id")
	assert.NotContains(t, rec.Body.String(), "customer_email")
}

func TestRevoke_WrongAdminSecret(t *testing.T) {
	f := newServerFixture(t, nil)

	lic := &domain.License{
		LicenseKey:    "ELV-REVOKE-ME",
		ProductID:     "elv-course-builder",
		LicenseType:   domain.LicenseTypeCommercial,
		CustomerEmail: "a@b.com",
	}
	_, err := f.store.SaveLicense(context.Background(), lic)
	require.NoError(t, err)

	body := `{"admin_secret":"wrong","reason":"fraud"}`
	req := httptest.NewRequest(http.MethodPost, "/revoke/ELV-REVOKE-ME", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, f.securityLog(t), "unauthorized_revocation_attempt")

	// Status is unchanged
	got, err := f.store.GetLicense(context.Background(), "ELV-REVOKE-ME")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.LicenseStatusActive, got.Status)
}

func TestRevoke_CorrectSecret(t *testing.T) {
	f := newServerFixture(t, nil)

	lic := &domain.License{
		LicenseKey:    "ELV-REVOKE-ME",
		ProductID:     "elv-course-builder",
		LicenseType:   domain.LicenseTypeCommercial,
		CustomerEmail: "a@b.com",
	}
	_, err := f.store.SaveLicense(context.Background(), lic)
	require.NoError(t, err)

	body := fmt.Sprintf(`{"admin_secret":%q,"reason":"chargeback"}`, testAdminSecret)
	req := httptest.NewRequest(http.MethodPost, "/revoke/ELV-REVOKE-ME", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.GetLicense(context.Background(), "ELV-REVOKE-ME")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.LicenseStatusRevoked, got.Status)
	assert.Equal(t, "chargeback", got.RevocationReason)
	assert.Contains(t, f.licenseActivity(t), activity.ActionRevoked)
}

func TestRevoke_UnknownKeyAnswers404(t *testing.T) {
	f := newServerFixture(t, nil)

	body := fmt.Sprintf(`{"admin_secret":%q}`, testAdminSecret)
	req := httptest.NewRequest(http.MethodPost, "/revoke/ELV-MISSING", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"storage_mode":"file"`)
}

func TestAnalytics(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var combined domain.CombinedAnalytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &combined))
	require.NotNil(t, combined.Sales)
	require.NotNil(t, combined.Activity)
	assert.Equal(t, "file", combined.Sales.StorageMode)
}

func TestAnalyticsExport_RequiresAdminHeader(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/export", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/analytics/export", nil)
	req.Header.Set(middleware.AdminKeyHeader, testAdminSecret)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, rec.Body.Len())
}

func TestTestEmail(t *testing.T) {
	f := newServerFixture(t, nil)

	body := fmt.Sprintf(`{"admin_secret":%q,"to":"ops@example.com"}`, testAdminSecret)
	req := httptest.NewRequest(http.MethodPost, "/test-email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ops@example.com"}, f.notifier.sent)
}

func TestRotateLogs(t *testing.T) {
	f := newServerFixture(t, nil)

	body := fmt.Sprintf(`{"admin_secret":%q}`, testAdminSecret)
	req := httptest.NewRequest(http.MethodPost, "/rotate-logs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rotated":0`)
}
