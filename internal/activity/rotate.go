package activity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RotateThreshold is the stream size beyond which rotation renames the file
const RotateThreshold = 10 * 1024 * 1024

// allStreams lists every rotatable stream
var allStreams = []string{
	LicenseStream,
	LicenseTextStream,
	SecurityStream,
	PerformanceStream,
	ErrorStream,
	DownloadStream,
	DownloadTextLog,
}

// Rotate renames every stream over the size threshold into the archive
// directory with a date suffix. It is driven by a recurring timer and the
// admin endpoint, not by writes.
func (l *Logger) Rotate(ctx context.Context, archiveDir string) (int, error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create archive directory: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	rotated := 0

	for _, stream := range allStreams {
		path := l.streamPath(stream)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() <= RotateThreshold {
			continue
		}

		ext := filepath.Ext(stream)
		base := stream[:len(stream)-len(ext)]
		target := filepath.Join(archiveDir, fmt.Sprintf("%s-%s%s", base, date, ext))

		// A second rotation on the same day appends a numeric suffix
		for i := 1; ; i++ {
			if _, err := os.Stat(target); os.IsNotExist(err) {
				break
			}
			target = filepath.Join(archiveDir, fmt.Sprintf("%s-%s.%d%s", base, date, i, ext))
		}

		if err := os.Rename(path, target); err != nil {
			l.logger.ErrorContext(ctx, "log rotation failed",
				slog.String("stream", stream),
				slog.String("error", err.Error()))
			continue
		}

		rotated++
		l.logger.InfoContext(ctx, "log stream rotated",
			slog.String("stream", stream),
			slog.String("archive", target),
			slog.Int64("size", info.Size()))
	}

	return rotated, nil
}

// StartRotation runs Rotate on a fixed interval until the context is done
func (l *Logger) StartRotation(ctx context.Context, archiveDir string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.Rotate(ctx, archiveDir); err != nil {
					l.logger.ErrorContext(ctx, "scheduled rotation failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}
