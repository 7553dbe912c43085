package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"elvlicense/internal/activity"
	apierrors "elvlicense/internal/errors"
	"elvlicense/internal/exporter"
	"elvlicense/internal/middleware"
	"elvlicense/internal/services"
	"elvlicense/internal/storage"
	"elvlicense/pkg/contracts/domain"
)

var validate = validator.New()

// RotateFunc forces a log rotation pass; wired from the app
type RotateFunc func(ctx context.Context) (int, error)

// LicenseHandler serves validation, revocation, analytics and admin endpoints
type LicenseHandler struct {
	service  *services.LicenseService
	activity *activity.Logger
	guard    *middleware.AdminGuard
	rotate   RotateFunc
	logger   *slog.Logger
}

// NewLicenseHandler creates the license handler
func NewLicenseHandler(
	service *services.LicenseService,
	activityLog *activity.Logger,
	guard *middleware.AdminGuard,
	rotate RotateFunc,
	logger *slog.Logger,
) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		activity: activityLog,
		guard:    guard,
		rotate:   rotate,
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// RevokeRequest carries the admin secret and revocation reason
type RevokeRequest struct {
	AdminSecret string `json:"admin_secret" validate:"required"`
	Reason      string `json:"reason"`
}

// Bind implements render.Binder
func (req *RevokeRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// TestEmailRequest carries the admin secret and recipient
type TestEmailRequest struct {
	AdminSecret string `json:"admin_secret" validate:"required"`
	To          string `json:"to" validate:"required,email"`
}

// Bind implements render.Binder
func (req *TestEmailRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// AdminRequest carries just the admin secret
type AdminRequest struct {
	AdminSecret string `json:"admin_secret" validate:"required"`
}

// Bind implements render.Binder
func (req *AdminRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// Validate handles GET /validate/{licenseKey}. An unknown key answers 404
// with valid:false; known-but-invalid keys answer 200 with the reason.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "licenseKey")

	result := h.service.Validate(r.Context(), key)
	if !result.Valid && result.Reason == domain.ReasonNotFound {
		render.Status(r, http.StatusNotFound)
	}
	render.JSON(w, r, result)
}

// Revoke handles POST /revoke/{licenseKey} with the admin secret in the body
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "licenseKey")

	req := &RevokeRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if !h.guard.Check(req.AdminSecret) {
		h.activity.Security(r.Context(), "unauthorized_revocation_attempt", activity.SeverityHigh, map[string]any{
			"license_key": key,
			"remote_addr": r.RemoteAddr,
		})
		render.Render(w, r, apierrors.ErrBadAdminKey)
		return
	}

	if err := h.service.Revoke(r.Context(), key, req.Reason); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			render.Render(w, r, apierrors.ErrLicenseNotFound)
			return
		}
		h.logger.ErrorContext(r.Context(), "revocation failed",
			slog.String("license_key", key),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.StorageError(err))
		return
	}

	render.JSON(w, r, map[string]any{
		"revoked":     true,
		"license_key": key,
	})
}

// Analytics handles GET /analytics
func (h *LicenseHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	combined, err := h.service.Analytics(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "analytics failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.StorageError(err))
		return
	}
	render.JSON(w, r, combined)
}

// AnalyticsExport handles GET /analytics/export, streaming an xlsx workbook.
// The route is admin-gated by header middleware.
func (h *LicenseHandler) AnalyticsExport(w http.ResponseWriter, r *http.Request) {
	combined, err := h.service.Analytics(r.Context())
	if err != nil {
		render.Render(w, r, apierrors.StorageError(err))
		return
	}

	filename := fmt.Sprintf("license-analytics-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := exporter.WriteWorkbook(w, combined); err != nil {
		h.logger.ErrorContext(r.Context(), "workbook export failed", slog.String("error", err.Error()))
	}
}

// Health handles GET /health: liveness only, no dependency checks
func (h *LicenseHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":       "ok",
		"storage_mode": string(h.service.StorageMode()),
		"timestamp":    time.Now().UTC(),
	})
}

// TestEmail handles POST /test-email
func (h *LicenseHandler) TestEmail(w http.ResponseWriter, r *http.Request) {
	req := &TestEmailRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if !h.guard.Check(req.AdminSecret) {
		render.Render(w, r, apierrors.ErrBadAdminKey)
		return
	}

	if err := h.service.TestEmail(r.Context(), req.To); err != nil {
		render.Render(w, r, apierrors.EmailError(err))
		return
	}

	render.JSON(w, r, map[string]any{"sent": true, "to": req.To})
}

// RotateLogs handles POST /rotate-logs
func (h *LicenseHandler) RotateLogs(w http.ResponseWriter, r *http.Request) {
	req := &AdminRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	if !h.guard.Check(req.AdminSecret) {
		render.Render(w, r, apierrors.ErrBadAdminKey)
		return
	}

	rotated, err := h.rotate(r.Context())
	if err != nil {
		render.Render(w, r, apierrors.StorageError(err))
		return
	}

	render.JSON(w, r, map[string]any{"rotated": rotated})
}
