// Package storage provides the persistence layer for licenses: a document
// store backed by MongoDB and a file-backed fallback used when the database
// is unreachable. The backend is chosen exactly once at startup by Open and
// injected into the services; there is no per-call fallback or retry.
package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"elvlicense/internal/config"
	"elvlicense/pkg/contracts/domain"
)

// Mode identifies the active backend
type Mode string

const (
	ModeMongo Mode = "mongo"
	ModeFile  Mode = "file"
)

// Sentinel errors shared by both backends
var (
	// ErrDuplicateKey is returned by SaveLicense when the license key
	// already exists. The uniqueness constraint lives here, not in the
	// key generator.
	ErrDuplicateKey = errors.New("license key already exists")
)

// FailurePolicy names what callers do when an operation fails. The asymmetry
// between operations is deliberate: failing to record a usage bump must never
// block a legitimate download, while a failed revocation is an admin action
// whose failure must be visible.
type FailurePolicy int

const (
	// LogAndContinue: the error is logged and swallowed by the caller
	LogAndContinue FailurePolicy = iota
	// Propagate: the error surfaces to the HTTP layer
	Propagate
)

func (p FailurePolicy) String() string {
	if p == Propagate {
		return "propagate"
	}
	return "log_and_continue"
}

// OperationPolicies is the per-operation failure contract, discoverable
// without reading the implementations.
var OperationPolicies = map[string]FailurePolicy{
	"save_license": Propagate,
	"get_license":  LogAndContinue,
	"record_usage": LogAndContinue,
	"revoke":       Propagate,
	"analytics":    Propagate,
	"ledger":       LogAndContinue,
}

// Storage is the backend-agnostic persistence contract.
//
// GetLicense returns (nil, nil) both when the key is absent and when the
// read failed; failures are logged internally and callers must treat nil
// as "absent" without distinguishing the two causes.
type Storage interface {
	// SaveLicense inserts a new license. Status, usage counters and
	// issuedAt are overwritten server-side regardless of caller values.
	// Returns the storage-assigned record ID.
	SaveLicense(ctx context.Context, lic *domain.License) (string, error)

	// GetLicense fetches a license by key; nil means absent or unreadable
	GetLicense(ctx context.Context, key string) (*domain.License, error)

	// RecordUsage increments usageCount and sets lastUsed; no-op when the
	// license does not exist
	RecordUsage(ctx context.Context, key string) error

	// Revoke marks a license revoked with a reason; terminal
	Revoke(ctx context.Context, key, reason string) error

	// Analytics returns aggregate sales statistics
	Analytics(ctx context.Context) (*domain.SalesAnalytics, error)

	// LedgerSeen reports whether a (sessionID, itemID) pair has already
	// been issued, returning the previously issued key when it has.
	// Read failures are logged and reported as unseen.
	LedgerSeen(ctx context.Context, sessionID, itemID string) (string, bool)

	// LedgerRecord marks a (sessionID, itemID) pair as issued
	LedgerRecord(ctx context.Context, sessionID, itemID, licenseKey string) error

	// Mode identifies the active backend
	Mode() Mode

	// Close releases backend resources
	Close(ctx context.Context) error
}

// Open selects the backend: MongoDB when a URI is configured and reachable,
// the file store otherwise. The decision is made once and held for the
// process lifetime.
func Open(ctx context.Context, mongoCfg config.MongoConfig, paths config.PathsConfig, logger *slog.Logger) (Storage, error) {
	if mongoCfg.URI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, mongoCfg.ConnectTimeout)
		defer cancel()

		store, err := NewMongoStore(connectCtx, mongoCfg, logger)
		if err == nil {
			logger.Info("storage backend selected",
				slog.String("mode", string(ModeMongo)),
				slog.String("database", mongoCfg.Database))
			return store, nil
		}

		logger.Warn("document store unreachable, falling back to file storage",
			slog.String("error", err.Error()),
			slog.Duration("connect_timeout", mongoCfg.ConnectTimeout))
	} else {
		logger.Info("no document store configured, using file storage")
	}

	store, err := NewFileStore(paths.DataDir, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("storage backend selected",
		slog.String("mode", string(ModeFile)),
		slog.String("data_dir", paths.DataDir))
	return store, nil
}

// prepareForInsert applies the server-side overwrites shared by both backends
func prepareForInsert(lic *domain.License, now time.Time) {
	lic.Status = domain.LicenseStatusActive
	lic.UsageCount = 0
	lic.LastUsed = nil
	lic.RevokedAt = nil
	lic.RevocationReason = ""
	lic.IssuedAt = now
}
