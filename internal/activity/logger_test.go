package activity

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elvlicense/pkg/contracts/domain"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	l, err := NewLogger(dir, logger)
	require.NoError(t, err)
	return l, dir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestLicense_WritesJSONAndTextLines(t *testing.T) {
	l, dir := newTestLogger(t)
	ctx := context.Background()

	l.License(ctx, ActionIssued, "ELV-KEY-1", "a@b.com", "elv-course-builder",
		map[string]any{"price": 149.0})

	jsonLines := readLines(t, filepath.Join(dir, LicenseStream))
	require.Len(t, jsonLines, 1)

	var record domain.ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(jsonLines[0]), &record))
	assert.Equal(t, ActionIssued, record.Action)
	assert.Equal(t, "ELV-KEY-1", record.LicenseKey)
	assert.Equal(t, 149.0, record.Metadata["price"])

	textLines := readLines(t, filepath.Join(dir, LicenseTextStream))
	require.Len(t, textLines, 1)
	assert.Contains(t, textLines[0], "ISSUED")
	assert.Contains(t, textLines[0], "ELV-KEY-1")
}

func TestSecurity_WritesSeverity(t *testing.T) {
	l, dir := newTestLogger(t)

	l.Security(context.Background(), "invalid_webhook_signature", SeverityHigh,
		map[string]any{"remote_addr": "10.0.0.1"})

	lines := readLines(t, filepath.Join(dir, SecurityStream))
	require.Len(t, lines, 1)

	var record SecurityRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, SeverityHigh, record.Severity)
	assert.Equal(t, "invalid_webhook_signature", record.Event)
}

func TestError_RecordsTypeName(t *testing.T) {
	l, dir := newTestLogger(t)

	l.Error(context.Background(), errors.New("boom"), map[string]any{"op": "save"})
	l.Error(context.Background(), nil, nil) // no-op

	lines := readLines(t, filepath.Join(dir, ErrorStream))
	require.Len(t, lines, 1)

	var record ErrorRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "boom", record.Error.Message)
	assert.NotEmpty(t, record.Error.Name)
}

func TestPerformance_MillisecondDuration(t *testing.T) {
	l, dir := newTestLogger(t)

	l.Performance(context.Background(), "webhook_processing", 250*time.Millisecond, nil)

	lines := readLines(t, filepath.Join(dir, PerformanceStream))
	require.Len(t, lines, 1)

	var record PerformanceRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.InDelta(t, 250.0, record.Duration, 0.01)
}

func TestDownload_WritesBothStreams(t *testing.T) {
	l, dir := newTestLogger(t)

	l.Download(context.Background(), DownloadRecord{
		Event:      DownloadCompleted,
		LicenseKey: "ELV-DL-KEY",
		ProductID:  "elv-course-builder",
		File:       "elv-course-builder.zip",
	})

	jsonLines := readLines(t, filepath.Join(dir, DownloadStream))
	require.Len(t, jsonLines, 1)
	var record DownloadRecord
	require.NoError(t, json.Unmarshal([]byte(jsonLines[0]), &record))
	assert.Equal(t, DownloadCompleted, record.Event)
	assert.False(t, record.Timestamp.IsZero())

	textLines := readLines(t, filepath.Join(dir, DownloadTextLog))
	require.Len(t, textLines, 1)
	assert.Contains(t, textLines[0], "completed")
}

func TestBroadcastHook(t *testing.T) {
	l, _ := newTestLogger(t)

	var got []domain.ActivityRecord
	l.SetBroadcast(func(r domain.ActivityRecord) { got = append(got, r) })

	l.License(context.Background(), ActionValidated, "ELV-HOOK", "", "", nil)
	require.Len(t, got, 1)
	assert.Equal(t, ActionValidated, got[0].Action)
}

func TestAnalytics_AggregatesWindow(t *testing.T) {
	l, _ := newTestLogger(t)
	ctx := context.Background()

	l.License(ctx, ActionIssued, "ELV-1", "a@b.com", "elv-course-builder", map[string]any{"price": 149.0})
	l.License(ctx, ActionIssued, "ELV-2", "c@d.com", "elv-course-builder", map[string]any{"price": 149.0})
	l.License(ctx, ActionValidated, "ELV-1", "", "elv-course-builder", nil)
	l.License(ctx, ActionRevoked, "ELV-2", "", "elv-enrollment-suite", nil)

	out, err := l.Analytics(ctx, 30)
	require.NoError(t, err)

	assert.Equal(t, 4, out.TotalEvents)
	assert.Equal(t, 2, out.CountsByAction[ActionIssued])
	assert.Equal(t, 1, out.CountsByAction[ActionValidated])
	assert.Zero(t, out.MalformedLines)

	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, 4, out.CountsByDay[today])
	assert.InDelta(t, 298.0, out.RevenueByDay[today], 0.001)

	require.NotEmpty(t, out.TopProducts)
	assert.Equal(t, "elv-course-builder", out.TopProducts[0].ProductID)
	assert.Len(t, out.RecentActivity, 4)
}

func TestAnalytics_SkipsMalformedLines(t *testing.T) {
	l, dir := newTestLogger(t)
	ctx := context.Background()

	l.License(ctx, ActionIssued, "ELV-OK", "a@b.com", "p", nil)

	f, err := os.OpenFile(filepath.Join(dir, LicenseStream), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{this is not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := l.Analytics(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, out.TotalEvents)
	assert.Equal(t, 1, out.MalformedLines)
}

func TestAnalytics_MissingStreamIsEmpty(t *testing.T) {
	l, _ := newTestLogger(t)

	out, err := l.Analytics(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, out.TotalEvents)
}

func TestDownloadAnalytics(t *testing.T) {
	l, _ := newTestLogger(t)
	ctx := context.Background()

	events := []DownloadRecord{
		{Event: DownloadStarted, Email: "a@b.com", ProductID: "p1", File: "f1.zip"},
		{Event: DownloadCompleted, Email: "a@b.com", ProductID: "p1", File: "f1.zip"},
		{Event: DownloadStarted, Email: "c@d.com", ProductID: "p2", File: "f2.zip"},
		{Event: DownloadFailed, Email: "c@d.com", ProductID: "p2", File: "f2.zip"},
	}
	for _, e := range events {
		l.Download(ctx, e)
	}

	out, err := l.DownloadAnalytics(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, 4, out.TotalEvents)
	assert.Equal(t, 2, out.Started)
	assert.Equal(t, 1, out.Completed)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 2, out.UniqueUsers)
	assert.Equal(t, 2, out.ByProduct["p1"])
	require.NotEmpty(t, out.TopFiles)
	assert.Equal(t, 2, out.TopFiles[0].Count)
}

func TestRotate_OnlyOversizedStreams(t *testing.T) {
	l, dir := newTestLogger(t)
	ctx := context.Background()
	archive := filepath.Join(dir, "archive")

	// Small stream: untouched
	l.License(ctx, ActionIssued, "ELV-SMALL", "", "", nil)

	// Oversized stream: rotated
	big := strings.Repeat("x", RotateThreshold+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, SecurityStream), []byte(big), 0o644))

	rotated, err := l.Rotate(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)

	_, err = os.Stat(filepath.Join(dir, LicenseStream))
	assert.NoError(t, err, "small stream stays in place")

	_, err = os.Stat(filepath.Join(dir, SecurityStream))
	assert.True(t, os.IsNotExist(err), "oversized stream was renamed away")

	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "security-")
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".ndjson"))
}

func TestRotate_SameDayTwiceGetsSuffix(t *testing.T) {
	l, dir := newTestLogger(t)
	ctx := context.Background()
	archive := filepath.Join(dir, "archive")

	big := strings.Repeat("x", RotateThreshold+1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, SecurityStream), []byte(big), 0o644))
	_, err := l.Rotate(ctx, archive)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, SecurityStream), []byte(big), 0o644))
	_, err = l.Rotate(ctx, archive)
	require.NoError(t, err)

	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
