package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "elvlicense/internal/errors"
	"elvlicense/internal/services"
	"elvlicense/pkg/contracts/domain"
)

// defaultAnalyticsWindow is the day window when ?days is absent
const defaultAnalyticsWindow = 30

// DownloadHandler serves the download tracker surface
type DownloadHandler struct {
	service *services.DownloadService
	logger  *slog.Logger
}

// NewDownloadHandler creates the download tracker handler
func NewDownloadHandler(service *services.DownloadService, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "download")),
	}
}

// DownloadReport is the inbound telemetry payload
type DownloadReport struct {
	LicenseKey string         `json:"license_key"`
	Email      string         `json:"email" validate:"omitempty,email"`
	ProductID  string         `json:"product_id"`
	File       string         `json:"file"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Bind implements render.Binder
func (req *DownloadReport) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// event fills the request-derived fields onto the service event
func (req *DownloadReport) event(r *http.Request) services.DownloadEvent {
	return services.DownloadEvent{
		LicenseKey: req.LicenseKey,
		Email:      req.Email,
		ProductID:  req.ProductID,
		File:       req.File,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Metadata:   req.Metadata,
	}
}

// LogDownload handles POST /log-download
func (h *DownloadHandler) LogDownload(w http.ResponseWriter, r *http.Request) {
	req := &DownloadReport{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	h.service.LogStarted(r.Context(), req.event(r))
	render.JSON(w, r, map[string]any{"logged": true})
}

// LogDownloadComplete handles POST /log-download-complete
func (h *DownloadHandler) LogDownloadComplete(w http.ResponseWriter, r *http.Request) {
	req := &DownloadReport{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	h.service.LogCompleted(r.Context(), req.event(r))
	render.JSON(w, r, map[string]any{"logged": true})
}

// LogDownloadError handles POST /log-download-error
func (h *DownloadHandler) LogDownloadError(w http.ResponseWriter, r *http.Request) {
	req := &DownloadReport{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	h.service.LogFailed(r.Context(), req.event(r))
	render.JSON(w, r, map[string]any{"logged": true})
}

// LogPageView handles POST /log-page-view; page views carry no license, so
// nothing is validated
func (h *DownloadHandler) LogPageView(w http.ResponseWriter, r *http.Request) {
	req := &DownloadReport{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	h.service.LogPageView(r.Context(), req.event(r))
	render.JSON(w, r, map[string]any{"logged": true})
}

// ValidateLicense handles GET /validate-license/{licenseKey}; no usage bump
// on this surface
func (h *DownloadHandler) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "licenseKey")

	result := h.service.ValidateKey(r.Context(), key)
	if !result.Valid && result.Reason == domain.ReasonNotFound {
		render.Status(r, http.StatusNotFound)
	}
	render.JSON(w, r, result)
}

// Analytics handles GET /download-analytics?days=N; admin key enforced by
// header middleware on the route
func (h *DownloadHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	days := defaultAnalyticsWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			render.Render(w, r, apierrors.ErrValidation("days", "must be a positive integer"))
			return
		}
		days = parsed
	}

	out, err := h.service.Analytics(r.Context(), days)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "download analytics failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.StorageError(err))
		return
	}
	render.JSON(w, r, out)
}
