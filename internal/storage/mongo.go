package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"elvlicense/internal/config"
	"elvlicense/pkg/contracts/domain"
)

// ErrNotFound is returned by Revoke when the license does not exist
var ErrNotFound = errors.New("license not found")

const ledgerCollection = "issuance_ledger"

// MongoStore is the document-store backend
type MongoStore struct {
	client   *mongo.Client
	licenses *mongo.Collection
	ledger   *mongo.Collection
	logger   *slog.Logger
}

// ledgerEntry records one issued (sessionID, itemID) pair so webhook retries
// can skip already-successful line items
type ledgerEntry struct {
	SessionID  string    `bson:"session_id" json:"session_id"`
	ItemID     string    `bson:"item_id" json:"item_id"`
	LicenseKey string    `bson:"license_key" json:"license_key"`
	IssuedAt   time.Time `bson:"issued_at" json:"issued_at"`
}

// NewMongoStore connects to MongoDB and ensures the uniqueness indexes
func NewMongoStore(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	db := client.Database(cfg.Database)
	store := &MongoStore{
		client:   client,
		licenses: db.Collection(cfg.Collection),
		ledger:   db.Collection(ledgerCollection),
		logger:   logger.With(slog.String("component", "mongo_store")),
	}

	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

// ensureIndexes creates the unique key constraint and the compound ledger index
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.licenses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "license_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create license key index: %w", err)
	}

	_, err = s.ledger.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "item_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger index: %w", err)
	}

	return nil
}

// SaveLicense inserts a new license record
func (s *MongoStore) SaveLicense(ctx context.Context, lic *domain.License) (string, error) {
	prepareForInsert(lic, time.Now().UTC())

	res, err := s.licenses.InsertOne(ctx, lic)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateKey, lic.LicenseKey)
		}
		return "", fmt.Errorf("failed to insert license: %w", err)
	}

	return fmt.Sprintf("%v", res.InsertedID), nil
}

// GetLicense fetches a license by key. Absent and unreadable both yield
// (nil, nil); read failures are logged here and swallowed.
func (s *MongoStore) GetLicense(ctx context.Context, key string) (*domain.License, error) {
	var lic domain.License
	err := s.licenses.FindOne(ctx, bson.M{"license_key": key}).Decode(&lic)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			s.logger.ErrorContext(ctx, "license read failed",
				slog.String("license_key", key),
				slog.String("error", err.Error()))
		}
		return nil, nil
	}
	return &lic, nil
}

// RecordUsage increments the usage counter and stamps lastUsed
func (s *MongoStore) RecordUsage(ctx context.Context, key string) error {
	_, err := s.licenses.UpdateOne(ctx,
		bson.M{"license_key": key},
		bson.M{
			"$inc": bson.M{"usage_count": 1},
			"$set": bson.M{"last_used": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Revoke marks a license revoked; the transition is terminal
func (s *MongoStore) Revoke(ctx context.Context, key, reason string) error {
	res, err := s.licenses.UpdateOne(ctx,
		bson.M{"license_key": key},
		bson.M{"$set": bson.M{
			"status":            domain.LicenseStatusRevoked,
			"revoked_at":        time.Now().UTC(),
			"revocation_reason": reason,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to revoke license: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Analytics aggregates sales statistics with a pipeline per metric
func (s *MongoStore) Analytics(ctx context.Context) (*domain.SalesAnalytics, error) {
	total, err := s.licenses.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}

	active, err := s.licenses.CountDocuments(ctx, bson.M{"status": domain.LicenseStatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to count active licenses: %w", err)
	}

	breakdown := make(map[string]domain.ProductSales)
	var totalRevenue float64

	cursor, err := s.licenses.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":     "$product_id",
			"count":   bson.M{"$sum": 1},
			"revenue": bson.M{"$sum": "$price"},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate product breakdown: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			ProductID string  `bson:"_id"`
			Count     int64   `bson:"count"`
			Revenue   float64 `bson:"revenue"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode breakdown row: %w", err)
		}
		breakdown[row.ProductID] = domain.ProductSales{
			ProductID: row.ProductID,
			Count:     row.Count,
			Revenue:   row.Revenue,
		}
		totalRevenue += row.Revenue
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("breakdown cursor failed: %w", err)
	}

	recent, err := s.recentSales(ctx, 10)
	if err != nil {
		return nil, err
	}

	return &domain.SalesAnalytics{
		TotalLicenses:    total,
		ActiveLicenses:   active,
		TotalRevenue:     totalRevenue,
		ProductBreakdown: breakdown,
		RecentSales:      recent,
		StorageMode:      string(ModeMongo),
		GeneratedAt:      time.Now().UTC(),
	}, nil
}

// recentSales returns the newest sales, newest first
func (s *MongoStore) recentSales(ctx context.Context, limit int64) ([]domain.SaleSummary, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "issued_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.licenses.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sales: %w", err)
	}
	defer cursor.Close(ctx)

	var sales []domain.SaleSummary
	for cursor.Next(ctx) {
		var lic domain.License
		if err := cursor.Decode(&lic); err != nil {
			return nil, fmt.Errorf("failed to decode license: %w", err)
		}
		sales = append(sales, domain.SaleSummary{
			LicenseKey:    lic.LicenseKey,
			ProductName:   lic.ProductName,
			Price:         lic.Price,
			CustomerEmail: lic.CustomerEmail,
			IssuedAt:      lic.IssuedAt,
		})
	}
	return sales, cursor.Err()
}

// LedgerSeen reports whether the (sessionID, itemID) pair was already issued
func (s *MongoStore) LedgerSeen(ctx context.Context, sessionID, itemID string) (string, bool) {
	var entry ledgerEntry
	err := s.ledger.FindOne(ctx, bson.M{
		"session_id": sessionID,
		"item_id":    itemID,
	}).Decode(&entry)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			s.logger.ErrorContext(ctx, "ledger read failed",
				slog.String("session_id", sessionID),
				slog.String("item_id", itemID),
				slog.String("error", err.Error()))
		}
		return "", false
	}
	return entry.LicenseKey, true
}

// LedgerRecord marks the pair as issued
func (s *MongoStore) LedgerRecord(ctx context.Context, sessionID, itemID, licenseKey string) error {
	_, err := s.ledger.InsertOne(ctx, ledgerEntry{
		SessionID:  sessionID,
		ItemID:     itemID,
		LicenseKey: licenseKey,
		IssuedAt:   time.Now().UTC(),
	})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// Mode identifies this backend
func (s *MongoStore) Mode() Mode {
	return ModeMongo
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
