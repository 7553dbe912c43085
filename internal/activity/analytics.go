package activity

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"elvlicense/pkg/contracts/domain"
)

const recentActivityLimit = 20

// Analytics scans the license activity stream and aggregates events within
// the day window. Malformed lines are counted and skipped, never fatal; a
// missing stream yields an empty result.
func (l *Logger) Analytics(ctx context.Context, days int) (*domain.ActivityAnalytics, error) {
	out := &domain.ActivityAnalytics{
		WindowDays:     days,
		CountsByAction: map[string]int{},
		CountsByDay:    map[string]int{},
		RevenueByDay:   map[string]float64{},
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	productCounts := map[string]int{}

	err := l.scanStream(LicenseStream, func(line []byte) {
		var record domain.ActivityRecord
		if err := json.Unmarshal(line, &record); err != nil {
			out.MalformedLines++
			return
		}
		if record.Timestamp.Before(cutoff) {
			return
		}

		day := record.Timestamp.Format("2006-01-02")
		out.TotalEvents++
		out.CountsByAction[record.Action]++
		out.CountsByDay[day]++
		if record.ProductID != "" {
			productCounts[record.ProductID]++
		}

		if record.Action == ActionIssued {
			if price, ok := record.Metadata["price"].(float64); ok {
				out.RevenueByDay[day] += price
			}
		}

		out.RecentActivity = append(out.RecentActivity, record)
	})
	if err != nil {
		return nil, err
	}

	// Keep only the newest records
	if n := len(out.RecentActivity); n > recentActivityLimit {
		out.RecentActivity = out.RecentActivity[n-recentActivityLimit:]
	}

	out.TopProducts = rankProducts(productCounts, 5)

	return out, nil
}

// DownloadAnalytics scans the download stream within the day window
func (l *Logger) DownloadAnalytics(ctx context.Context, days int) (*domain.DownloadAnalytics, error) {
	out := &domain.DownloadAnalytics{
		WindowDays: days,
		ByProduct:  map[string]int{},
		ByDay:      map[string]int{},
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	users := map[string]bool{}
	fileCounts := map[string]int{}

	err := l.scanStream(DownloadStream, func(line []byte) {
		var record DownloadRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return
		}
		if record.Timestamp.Before(cutoff) {
			return
		}

		out.TotalEvents++
		switch record.Event {
		case DownloadStarted:
			out.Started++
		case DownloadCompleted:
			out.Completed++
		case DownloadFailed:
			out.Failed++
		}

		if record.Email != "" {
			users[record.Email] = true
		}
		if record.ProductID != "" {
			out.ByProduct[record.ProductID]++
		}
		if record.File != "" {
			fileCounts[record.File]++
		}
		out.ByDay[record.Timestamp.Format("2006-01-02")]++
	})
	if err != nil {
		return nil, err
	}

	out.UniqueUsers = len(users)

	files := make([]domain.FileCount, 0, len(fileCounts))
	for file, count := range fileCounts {
		files = append(files, domain.FileCount{File: file, Count: count})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Count != files[j].Count {
			return files[i].Count > files[j].Count
		}
		return files[i].File < files[j].File
	})
	if len(files) > 10 {
		files = files[:10]
	}
	out.TopFiles = files

	return out, nil
}

// scanStream reads one stream line by line; a missing stream is not an error
func (l *Logger) scanStream(stream string, fn func(line []byte)) error {
	f, err := os.Open(l.streamPath(stream))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}

// rankProducts returns the top-n products by event count, ties broken by name
func rankProducts(counts map[string]int, n int) []domain.ProductCount {
	ranked := make([]domain.ProductCount, 0, len(counts))
	for id, count := range counts {
		ranked = append(ranked, domain.ProductCount{ProductID: id, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
