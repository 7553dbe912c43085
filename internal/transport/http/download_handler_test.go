package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elvlicense/internal/activity"
	"elvlicense/internal/config"
	"elvlicense/internal/middleware"
	"elvlicense/internal/services"
	"elvlicense/internal/storage"
	"elvlicense/pkg/contracts/domain"
)

type downloadServerFixture struct {
	router  chi.Router
	store   *storage.FileStore
	logsDir string
}

func newDownloadServerFixture(t *testing.T) *downloadServerFixture {
	t.Helper()
	logsDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	activityLog, err := activity.NewLogger(logsDir, logger)
	require.NoError(t, err)

	guard, err := middleware.NewAdminGuard(testAdminSecret, logger)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Security.RateLimit.Enabled = false

	svc := services.NewDownloadService(store, activityLog, logger)
	router := NewDownloadRouter(DownloadRouterDeps{
		Config:   cfg,
		Logger:   logger,
		Download: NewDownloadHandler(svc, logger),
		Guard:    guard,
	})

	return &downloadServerFixture{router: router, store: store, logsDir: logsDir}
}

func (f *downloadServerFixture) downloadStream(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.logsDir, activity.DownloadStream))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func (f *downloadServerFixture) securityStream(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.logsDir, activity.SecurityStream))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func postJSON(router chi.Router, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLogDownload_InvalidKeyStillRecorded(t *testing.T) {
	f := newDownloadServerFixture(t)

	rec := postJSON(f.router, "/log-download",
		`{"license_key":"ELV-NOPE","product_id":"elv-course-builder","file":"builder.zip"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"logged":true`)
	assert.Contains(t, f.downloadStream(t), "builder.zip")
	assert.Contains(t, f.securityStream(t), "download_with_invalid_license")
}

func TestLogDownloadComplete_BumpsUsage(t *testing.T) {
	f := newDownloadServerFixture(t)

	lic := &domain.License{
		LicenseKey:    "ELV-DL-KEY",
		ProductID:     "elv-course-builder",
		LicenseType:   domain.LicenseTypeCommercial,
		CustomerEmail: "a@b.com",
	}
	_, err := f.store.SaveLicense(context.Background(), lic)
	require.NoError(t, err)

	rec := postJSON(f.router, "/log-download-complete",
		`{"license_key":"ELV-DL-KEY","product_id":"elv-course-builder","file":"builder.zip"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.GetLicense(context.Background(), "ELV-DL-KEY")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got.UsageCount)
	assert.Empty(t, f.securityStream(t))
}

func TestLogPageView_NoLicenseCheck(t *testing.T) {
	f := newDownloadServerFixture(t)

	rec := postJSON(f.router, "/log-page-view", `{"file":"downloads.html"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.downloadStream(t), "page_view")
	assert.Empty(t, f.securityStream(t))
}

func TestLogDownload_RejectsBadEmail(t *testing.T) {
	f := newDownloadServerFixture(t)

	rec := postJSON(f.router, "/log-download", `{"email":"not-an-email","file":"builder.zip"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateLicense_UnknownKeyAnswers404(t *testing.T) {
	f := newDownloadServerFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/validate-license/UNKNOWN", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)
}

func TestDownloadAnalytics_RequiresAdminHeader(t *testing.T) {
	f := newDownloadServerFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download-analytics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/download-analytics?days=7", nil)
	req.Header.Set(middleware.AdminKeyHeader, testAdminSecret)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"window_days":7`)
}

func TestDownloadAnalytics_RejectsBadWindow(t *testing.T) {
	f := newDownloadServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/download-analytics?days=zero", nil)
	req.Header.Set(middleware.AdminKeyHeader, testAdminSecret)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
