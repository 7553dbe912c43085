package activity

import (
	"context"
	"fmt"
	"time"
)

// Download event kinds
const (
	DownloadStarted   = "started"
	DownloadCompleted = "completed"
	DownloadFailed    = "failed"
	DownloadPageView  = "page_view"
)

// DownloadRecord is one download telemetry line. The download tracker writes
// to its own streams, independent of the license activity sinks.
type DownloadRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	Event      string         `json:"event"`
	LicenseKey string         `json:"license_key,omitempty"`
	Email      string         `json:"email,omitempty"`
	ProductID  string         `json:"product_id,omitempty"`
	File       string         `json:"file,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RemoteAddr string         `json:"remote_addr,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Download appends one download telemetry record to the download streams
func (l *Logger) Download(ctx context.Context, record DownloadRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	l.appendJSON(ctx, DownloadStream, record)

	text := fmt.Sprintf("[%s] %s key=%s product=%s file=%s\n",
		record.Timestamp.Format(time.RFC3339), record.Event,
		record.LicenseKey, record.ProductID, record.File)
	l.appendText(ctx, DownloadTextLog, text)
}
