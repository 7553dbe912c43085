package services

import (
	"context"
	"log/slog"
	"time"

	"elvlicense/internal/activity"
	"elvlicense/internal/storage"
	"elvlicense/pkg/contracts/domain"
)

// DownloadEvent is one inbound download telemetry report
type DownloadEvent struct {
	LicenseKey string
	Email      string
	ProductID  string
	File       string
	UserAgent  string
	RemoteAddr string
	Metadata   map[string]any
}

// DownloadService records download lifecycle events and re-validates license
// keys against the shared storage backend. Recording is unconditional; a bad
// or missing key raises a security event but never rejects the report.
type DownloadService struct {
	store    storage.Storage
	activity *activity.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// NewDownloadService wires the download tracking service
func NewDownloadService(store storage.Storage, activityLog *activity.Logger, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		store:    store,
		activity: activityLog,
		logger:   logger.With(slog.String("component", "download_service")),
		now:      time.Now,
	}
}

// LogStarted records a download-started event
func (s *DownloadService) LogStarted(ctx context.Context, event DownloadEvent) {
	s.checkKey(ctx, event)
	s.record(ctx, activity.DownloadStarted, event)
}

// LogCompleted records a completed download and bumps the license usage
// counter, mirroring the validation endpoint
func (s *DownloadService) LogCompleted(ctx context.Context, event DownloadEvent) {
	s.checkKey(ctx, event)
	s.record(ctx, activity.DownloadCompleted, event)

	if event.LicenseKey == "" {
		return
	}
	// LogAndContinue: usage tracking never fails the report
	if err := s.store.RecordUsage(ctx, event.LicenseKey); err != nil {
		s.logger.ErrorContext(ctx, "failed to record usage on download completion",
			slog.String("license_key", event.LicenseKey),
			slog.String("error", err.Error()))
	}
}

// LogFailed records a failed download attempt
func (s *DownloadService) LogFailed(ctx context.Context, event DownloadEvent) {
	s.checkKey(ctx, event)
	s.record(ctx, activity.DownloadFailed, event)
}

// LogPageView records a download page view
func (s *DownloadService) LogPageView(ctx context.Context, event DownloadEvent) {
	s.record(ctx, activity.DownloadPageView, event)
}

// ValidateKey is the tracker's validation variant: same derivation as the
// main endpoint but without the usage bump, which happens only on completion
func (s *DownloadService) ValidateKey(ctx context.Context, key string) *domain.ValidationResult {
	now := s.now().UTC()
	result := &domain.ValidationResult{CheckedAt: now}

	lic, err := s.store.GetLicense(ctx, key)
	if err != nil || lic == nil {
		result.Reason = domain.ReasonNotFound
		s.activity.Security(ctx, "license_validation_failed", activity.SeverityMedium, map[string]any{
			"license_key": key,
			"reason":      domain.ReasonNotFound,
			"surface":     "download-tracker",
		})
		return result
	}

	result.ProductID = lic.ProductID
	result.ProductName = lic.ProductName
	result.LicenseType = lic.LicenseType
	result.ExpiresAt = lic.ExpiresAt
	result.UsageCount = lic.UsageCount

	switch {
	case lic.Status == domain.LicenseStatusRevoked:
		result.Reason = domain.ReasonRevoked
	case lic.Expired(now):
		result.Reason = domain.ReasonExpired
	default:
		result.Valid = true
	}
	return result
}

// Analytics aggregates the download telemetry stream over a day window
func (s *DownloadService) Analytics(ctx context.Context, days int) (*domain.DownloadAnalytics, error) {
	return s.activity.DownloadAnalytics(ctx, days)
}

// checkKey re-validates the supplied key and raises a security event when it
// is missing or not active
func (s *DownloadService) checkKey(ctx context.Context, event DownloadEvent) {
	if event.LicenseKey == "" {
		return
	}

	lic, err := s.store.GetLicense(ctx, event.LicenseKey)
	if err != nil || lic == nil || !lic.Valid(s.now().UTC()) {
		s.activity.Security(ctx, "download_with_invalid_license", activity.SeverityMedium, map[string]any{
			"license_key": event.LicenseKey,
			"file":        event.File,
			"remote_addr": event.RemoteAddr,
		})
	}
}

// record writes the telemetry line to the download streams
func (s *DownloadService) record(ctx context.Context, kind string, event DownloadEvent) {
	s.activity.Download(ctx, activity.DownloadRecord{
		Event:      kind,
		LicenseKey: event.LicenseKey,
		Email:      event.Email,
		ProductID:  event.ProductID,
		File:       event.File,
		UserAgent:  event.UserAgent,
		RemoteAddr: event.RemoteAddr,
		Metadata:   event.Metadata,
	})
}
