package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"elvlicense/pkg/contracts/domain"
)

// FileStore is the fallback backend: one JSON file per license under the
// data directory. It exists so the system stays operable without a database
// during development or outages, trading away atomicity and indexing.
//
// Concurrency: a process-wide mutex serializes read-modify-write within this
// process only. Concurrent access from multiple processes is unsafe by
// design; the fallback's purpose is "works without infrastructure", not
// production-grade storage.
type FileStore struct {
	licensesDir string
	ledgerDir   string
	logger      *slog.Logger
	mu          sync.Mutex
}

// NewFileStore creates the directory layout and returns a file-backed store
func NewFileStore(dataDir string, logger *slog.Logger) (*FileStore, error) {
	licensesDir := filepath.Join(dataDir, "licenses")
	ledgerDir := filepath.Join(dataDir, "ledger")

	for _, dir := range []string{licensesDir, ledgerDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	return &FileStore{
		licensesDir: licensesDir,
		ledgerDir:   ledgerDir,
		logger:      logger.With(slog.String("component", "file_store")),
	}, nil
}

// licensePath returns the file holding one license, named by its key
func (s *FileStore) licensePath(key string) string {
	return filepath.Join(s.licensesDir, key+".json")
}

// ledgerPath returns the marker file for one (sessionID, itemID) pair
func (s *FileStore) ledgerPath(sessionID, itemID string) string {
	name := fmt.Sprintf("%s__%s.json", sanitize(sessionID), sanitize(itemID))
	return filepath.Join(s.ledgerDir, name)
}

// sanitize strips path separators from identifiers used in file names
func sanitize(s string) string {
	s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
	return strings.ReplaceAll(s, "..", "_")
}

// SaveLicense writes a new license file, failing on duplicate keys
func (s *FileStore) SaveLicense(ctx context.Context, lic *domain.License) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.licensePath(lic.LicenseKey)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDuplicateKey, lic.LicenseKey)
	}

	prepareForInsert(lic, time.Now().UTC())

	if err := s.writeJSON(path, lic); err != nil {
		return "", fmt.Errorf("failed to write license file: %w", err)
	}

	return lic.LicenseKey, nil
}

// GetLicense reads a license file; absent and unreadable both yield (nil, nil)
func (s *FileStore) GetLicense(ctx context.Context, key string) (*domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLicense(ctx, key)
}

// readLicense reads without taking the lock; callers must hold it
func (s *FileStore) readLicense(ctx context.Context, key string) (*domain.License, error) {
	data, err := os.ReadFile(s.licensePath(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.ErrorContext(ctx, "license read failed",
				slog.String("license_key", key),
				slog.String("error", err.Error()))
		}
		return nil, nil
	}

	var lic domain.License
	if err := json.Unmarshal(data, &lic); err != nil {
		// Corrupted records are indistinguishable from absent ones
		s.logger.ErrorContext(ctx, "license file corrupted",
			slog.String("license_key", key),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return &lic, nil
}

// RecordUsage is a read-modify-write without cross-process locking; see the
// FileStore doc for why this stays a documented limitation
func (s *FileStore) RecordUsage(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, _ := s.readLicense(ctx, key)
	if lic == nil {
		return nil
	}

	now := time.Now().UTC()
	lic.UsageCount++
	lic.LastUsed = &now

	if err := s.writeJSON(s.licensePath(key), lic); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Revoke marks a license revoked; the transition is terminal
func (s *FileStore) Revoke(ctx context.Context, key, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, _ := s.readLicense(ctx, key)
	if lic == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	now := time.Now().UTC()
	lic.Status = domain.LicenseStatusRevoked
	lic.RevokedAt = &now
	lic.RevocationReason = reason

	if err := s.writeJSON(s.licensePath(key), lic); err != nil {
		return fmt.Errorf("failed to revoke license: %w", err)
	}
	return nil
}

// Analytics scans the licenses directory. The per-product breakdown is left
// empty in file mode; only the document store computes it. Unreadable files
// degrade to best-effort totals rather than failing the scan.
func (s *FileStore) Analytics(ctx context.Context) (*domain.SalesAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.licensesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan licenses directory: %w", err)
	}

	analytics := &domain.SalesAnalytics{
		ProductBreakdown: map[string]domain.ProductSales{},
		StorageMode:      string(ModeFile),
		GeneratedAt:      time.Now().UTC(),
	}

	var all []domain.License
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		lic, _ := s.readLicense(ctx, key)
		if lic == nil {
			continue
		}
		analytics.TotalLicenses++
		if lic.Status == domain.LicenseStatusActive {
			analytics.ActiveLicenses++
		}
		analytics.TotalRevenue += lic.Price
		all = append(all, *lic)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].IssuedAt.After(all[j].IssuedAt)
	})
	for i, lic := range all {
		if i >= 10 {
			break
		}
		analytics.RecentSales = append(analytics.RecentSales, domain.SaleSummary{
			LicenseKey:    lic.LicenseKey,
			ProductName:   lic.ProductName,
			Price:         lic.Price,
			CustomerEmail: lic.CustomerEmail,
			IssuedAt:      lic.IssuedAt,
		})
	}

	return analytics, nil
}

// LedgerSeen reports whether the pair was already issued
func (s *FileStore) LedgerSeen(ctx context.Context, sessionID, itemID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.ledgerPath(sessionID, itemID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.ErrorContext(ctx, "ledger read failed",
				slog.String("session_id", sessionID),
				slog.String("item_id", itemID),
				slog.String("error", err.Error()))
		}
		return "", false
	}

	var entry ledgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.ErrorContext(ctx, "ledger file corrupted",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return "", false
	}
	return entry.LicenseKey, true
}

// LedgerRecord marks the pair as issued
func (s *FileStore) LedgerRecord(ctx context.Context, sessionID, itemID, licenseKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := ledgerEntry{
		SessionID:  sessionID,
		ItemID:     itemID,
		LicenseKey: licenseKey,
		IssuedAt:   time.Now().UTC(),
	}
	if err := s.writeJSON(s.ledgerPath(sessionID, itemID), entry); err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// writeJSON marshals and writes a record with indentation for hand inspection
func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Mode identifies this backend
func (s *FileStore) Mode() Mode {
	return ModeFile
}

// Close is a no-op for the file store
func (s *FileStore) Close(ctx context.Context) error {
	return nil
}
