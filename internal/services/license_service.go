// Package services implements the business operations behind the HTTP
// surfaces: issuance from completed checkouts, validation, revocation and
// analytics. Handlers stay thin; everything stateful happens here.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"elvlicense/internal/activity"
	"elvlicense/internal/infrastructure"
	"elvlicense/internal/license"
	"elvlicense/internal/storage"
	"elvlicense/pkg/contracts/domain"
)

// activityWindowDays is the fixed aggregation window for /analytics
const activityWindowDays = 30

// Notifier delivers license and test emails
type Notifier interface {
	Enabled() bool
	SendLicenseEmail(ctx context.Context, license *domain.License) error
	SendTestEmail(ctx context.Context, to string) error
}

// CheckoutItem is one purchased line item from a completed checkout session
type CheckoutItem struct {
	ItemID   string
	PriceID  string
	Quantity int64
}

// CheckoutSession carries the fields of a completed checkout that issuance
// needs, decoupled from the payment provider's wire types
type CheckoutSession struct {
	SessionID      string
	CustomerEmail  string
	CustomerName   string
	BillingAddress string
	PaymentIntent  string
	Items          []CheckoutItem
}

// IssueResult summarizes one processed checkout session
type IssueResult struct {
	Issued  []*domain.License
	Skipped int
}

// LicenseService orchestrates the license lifecycle
type LicenseService struct {
	store     storage.Storage
	generator *license.Generator
	catalog   *license.Catalog
	notifier  Notifier
	activity  *activity.Logger
	logger    *slog.Logger
	metrics   *infrastructure.BusinessMetrics
	now       func() time.Time
}

// NewLicenseService wires the license service. metrics may be nil in tests.
func NewLicenseService(
	store storage.Storage,
	generator *license.Generator,
	catalog *license.Catalog,
	notifier Notifier,
	activityLog *activity.Logger,
	logger *slog.Logger,
	metrics *infrastructure.BusinessMetrics,
) *LicenseService {
	return &LicenseService{
		store:     store,
		generator: generator,
		catalog:   catalog,
		notifier:  notifier,
		activity:  activityLog,
		logger:    logger.With(slog.String("component", "license_service")),
		metrics:   metrics,
		now:       time.Now,
	}
}

// IssueFromCheckout processes one completed checkout session: one license per
// matched line item, then one email per issued license, strictly in order.
// Already-issued (sessionID, itemID) pairs are skipped, so webhook retries
// never double-issue. There is no rollback; a failure part-way leaves the
// already-persisted licenses in place and the error propagates.
func (s *LicenseService) IssueFromCheckout(ctx context.Context, session CheckoutSession) (*IssueResult, error) {
	result := &IssueResult{}

	for _, item := range session.Items {
		product, ok := s.catalog.ByPriceID(item.PriceID)
		if !ok {
			s.logger.WarnContext(ctx, "line item price not in catalog",
				slog.String("session_id", session.SessionID),
				slog.String("price_id", item.PriceID))
			continue
		}

		if key, seen := s.store.LedgerSeen(ctx, session.SessionID, item.ItemID); seen {
			s.logger.InfoContext(ctx, "line item already issued, skipping",
				slog.String("session_id", session.SessionID),
				slog.String("item_id", item.ItemID),
				slog.String("license_key", key))
			result.Skipped++
			continue
		}

		lic, err := s.issueOne(ctx, session, product)
		if err != nil {
			s.activity.Error(ctx, err, map[string]any{
				"session_id": session.SessionID,
				"product_id": product.ID,
			})
			return result, err
		}

		if err := s.store.LedgerRecord(ctx, session.SessionID, item.ItemID, lic.LicenseKey); err != nil {
			// LogAndContinue: a missing ledger entry means a retry re-issues,
			// which the duplicate key constraint then rejects
			s.logger.ErrorContext(ctx, "failed to record issuance ledger entry",
				slog.String("session_id", session.SessionID),
				slog.String("item_id", item.ItemID),
				slog.String("error", err.Error()))
		}

		result.Issued = append(result.Issued, lic)
	}

	for _, lic := range result.Issued {
		if err := s.notifier.SendLicenseEmail(ctx, lic); err != nil {
			s.activity.Error(ctx, err, map[string]any{
				"session_id":  session.SessionID,
				"license_key": lic.LicenseKey,
			})
			return result, fmt.Errorf("license email for %s: %w", lic.LicenseKey, err)
		}

		s.activity.License(ctx, activity.ActionEmailSent, lic.LicenseKey, lic.CustomerEmail, lic.ProductID, nil)
		if s.metrics != nil {
			s.metrics.EmailsSent.Add(ctx, 1)
		}
	}

	s.activity.License(ctx, activity.ActionDeliveryCompleted, "", session.CustomerEmail, "", map[string]any{
		"session_id":   session.SessionID,
		"licenseCount": len(result.Issued),
	})

	return result, nil
}

// issueOne generates, assembles and persists a single license
func (s *LicenseService) issueOne(ctx context.Context, session CheckoutSession, product domain.Product) (*domain.License, error) {
	key, err := s.generator.GenerateKey(product.ID, session.CustomerEmail)
	if err != nil {
		return nil, fmt.Errorf("key generation: %w", err)
	}

	now := s.now().UTC()
	lic := &domain.License{
		LicenseKey:      key,
		ProductID:       product.ID,
		ProductName:     product.Name,
		Price:           product.Price,
		LicenseType:     product.LicenseType,
		Category:        product.Category,
		CustomerEmail:   session.CustomerEmail,
		CustomerName:    session.CustomerName,
		BillingAddress:  session.BillingAddress,
		StripeSessionID: session.SessionID,
		PaymentIntent:   session.PaymentIntent,
		Files:           append([]string(nil), product.Files...),
		ExpiresAt:       license.ExpiryFor(product.LicenseType, now),
	}

	if _, err := s.store.SaveLicense(ctx, lic); err != nil {
		return nil, fmt.Errorf("persist license: %w", err)
	}

	s.activity.License(ctx, activity.ActionIssued, key, session.CustomerEmail, product.ID, map[string]any{
		"price":      product.Price,
		"session_id": session.SessionID,
	})
	if s.metrics != nil {
		s.metrics.LicensesIssued.Add(ctx, 1,
			metric.WithAttributes(attribute.String("product_id", product.ID)))
	}

	s.logger.InfoContext(ctx, "license issued",
		slog.String("license_key", key),
		slog.String("product_id", product.ID),
		slog.String("session_id", session.SessionID))

	return lic, nil
}

// Validate checks one license key. A valid license gets its usage bumped
// (best-effort); the outcome is always logged as a VALIDATED activity record.
func (s *LicenseService) Validate(ctx context.Context, key string) *domain.ValidationResult {
	now := s.now().UTC()
	result := &domain.ValidationResult{CheckedAt: now}

	lic, err := s.store.GetLicense(ctx, key)
	if err != nil || lic == nil {
		result.Reason = domain.ReasonNotFound
		s.activity.Security(ctx, "license_validation_failed", activity.SeverityMedium, map[string]any{
			"license_key": key,
			"reason":      domain.ReasonNotFound,
		})
		s.logValidation(ctx, key, result)
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
		// LogAndContinue: a failed usage bump never blocks a valid answer
		if err := s.store.RecordUsage(ctx, key); err != nil {
			s.logger.ErrorContext(ctx, "failed to record usage",
				slog.String("license_key", key),
				slog.String("error", err.Error()))
		} else {
			result.UsageCount++
		}
	}

	s.logValidation(ctx, key, result)
	return result
}

func (s *LicenseService) logValidation(ctx context.Context, key string, result *domain.ValidationResult) {
	s.activity.License(ctx, activity.ActionValidated, key, "", result.ProductID, map[string]any{
		"valid":  result.Valid,
		"reason": result.Reason,
	})
	if s.metrics != nil {
		s.metrics.ValidationsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.Bool("valid", result.Valid)))
	}
}

// Revoke marks a license revoked. Errors propagate; the caller maps
// storage.ErrNotFound to 404.
func (s *LicenseService) Revoke(ctx context.Context, key, reason string) error {
	if err := s.store.Revoke(ctx, key, reason); err != nil {
		return err
	}

	s.activity.License(ctx, activity.ActionRevoked, key, "", "", map[string]any{
		"reason": reason,
	})
	if s.metrics != nil {
		s.metrics.RevocationsTotal.Add(ctx, 1)
	}

	s.logger.InfoContext(ctx, "license revoked",
		slog.String("license_key", key),
		slog.String("reason", reason))
	return nil
}

// Analytics merges storage aggregates with log-derived activity aggregates,
// fetched concurrently
func (s *LicenseService) Analytics(ctx context.Context) (*domain.CombinedAnalytics, error) {
	combined := &domain.CombinedAnalytics{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sales, err := s.store.Analytics(gctx)
		if err != nil {
			return fmt.Errorf("sales analytics: %w", err)
		}
		combined.Sales = sales
		return nil
	})
	g.Go(func() error {
		act, err := s.activity.Analytics(gctx, activityWindowDays)
		if err != nil {
			return fmt.Errorf("activity analytics: %w", err)
		}
		combined.Activity = act
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return combined, nil
}

// TestEmail sends the canned SMTP verification message
func (s *LicenseService) TestEmail(ctx context.Context, to string) error {
	return s.notifier.SendTestEmail(ctx, to)
}

// StorageMode reports which backend was selected at startup
func (s *LicenseService) StorageMode() storage.Mode {
	return s.store.Mode()
}
