// Package activity implements the append-only activity sinks: license
// lifecycle events, security events, performance timings and error records,
// plus the download telemetry stream used by the download tracker.
//
// Every write is best-effort. A sink failure is reported to the operator's
// log and swallowed; logging never aborts a business operation.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"elvlicense/pkg/contracts/domain"
)

// Stream file names under the logs directory
const (
	LicenseStream     = "license-activity.ndjson"
	LicenseTextStream = "license-activity.log"
	SecurityStream    = "security.ndjson"
	PerformanceStream = "performance.ndjson"
	ErrorStream       = "errors.ndjson"
	DownloadStream    = "downloads.ndjson"
	DownloadTextLog   = "downloads.log"
)

// License lifecycle actions
const (
	ActionIssued            = "ISSUED"
	ActionEmailSent         = "EMAIL_SENT"
	ActionDeliveryCompleted = "DELIVERY_COMPLETED"
	ActionValidated         = "VALIDATED"
	ActionRevoked           = "REVOKED"
)

// Security severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// SecurityRecord is one security event line
type SecurityRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Severity  string         `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// PerformanceRecord is one operation timing line
type PerformanceRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Duration  float64        `json:"duration_ms"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ErrorRecord is one error line
type ErrorRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Error     ErrorDetail    `json:"error"`
	Context   map[string]any `json:"context,omitempty"`
}

// ErrorDetail carries the error message and type name
type ErrorDetail struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Logger appends structured records to the activity sinks
type Logger struct {
	logsDir string
	logger  *slog.Logger
	mu      sync.Mutex

	// broadcast, when set, receives every license activity record; used by
	// the websocket feed
	broadcast func(domain.ActivityRecord)
}

// NewLogger creates an activity logger writing under logsDir
func NewLogger(logsDir string, logger *slog.Logger) (*Logger, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	return &Logger{
		logsDir: logsDir,
		logger:  logger.With(slog.String("component", "activity")),
	}, nil
}

// SetBroadcast installs a hook receiving every license activity record
func (l *Logger) SetBroadcast(fn func(domain.ActivityRecord)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcast = fn
}

// License appends one lifecycle event: a JSON line plus a human-readable line
func (l *Logger) License(ctx context.Context, action, licenseKey, email, productID string, metadata map[string]any) {
	record := domain.ActivityRecord{
		Timestamp:  time.Now().UTC(),
		Action:     action,
		LicenseKey: licenseKey,
		Email:      email,
		ProductID:  productID,
		Metadata:   metadata,
	}

	l.appendJSON(ctx, LicenseStream, record)

	text := fmt.Sprintf("[%s] %s key=%s email=%s product=%s\n",
		record.Timestamp.Format(time.RFC3339), action, licenseKey, email, productID)
	l.appendText(ctx, LicenseTextStream, text)

	l.mu.Lock()
	fn := l.broadcast
	l.mu.Unlock()
	if fn != nil {
		fn(record)
	}
}

// Security appends one security event
func (l *Logger) Security(ctx context.Context, event, severity string, details map[string]any) {
	l.appendJSON(ctx, SecurityStream, SecurityRecord{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Severity:  severity,
		Details:   details,
	})
}

// Performance appends one timing record
func (l *Logger) Performance(ctx context.Context, operation string, duration time.Duration, metadata map[string]any) {
	l.appendJSON(ctx, PerformanceStream, PerformanceRecord{
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Duration:  float64(duration.Microseconds()) / 1000.0,
		Metadata:  metadata,
	})
}

// Error appends one error record
func (l *Logger) Error(ctx context.Context, err error, context map[string]any) {
	if err == nil {
		return
	}
	l.appendJSON(ctx, ErrorStream, ErrorRecord{
		Timestamp: time.Now().UTC(),
		Error: ErrorDetail{
			Message: err.Error(),
			Name:    fmt.Sprintf("%T", err),
		},
		Context: context,
	})
}

// streamPath resolves a stream name under the logs directory
func (l *Logger) streamPath(name string) string {
	return filepath.Join(l.logsDir, name)
}

// appendJSON writes one JSON line; failures are reported and swallowed
func (l *Logger) appendJSON(ctx context.Context, stream string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to marshal log record",
			slog.String("stream", stream),
			slog.String("error", err.Error()))
		return
	}
	l.appendText(ctx, stream, string(data)+"\n")
}

// appendText appends raw text to a stream; failures are reported and swallowed
func (l *Logger) appendText(ctx context.Context, stream, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.streamPath(stream), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to open log stream",
			slog.String("stream", stream),
			slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	if _, err := f.WriteString(text); err != nil {
		l.logger.ErrorContext(ctx, "failed to append log record",
			slog.String("stream", stream),
			slog.String("error", err.Error()))
	}
}
