package domain

import (
	"time"
)

// SalesAnalytics represents aggregate license sales statistics produced by a
// storage backend. The file-backed backend fills ProductBreakdown with an
// empty map; only the document store computes the per-product split.
type SalesAnalytics struct {
	TotalLicenses    int64                    `json:"total_licenses"`
	ActiveLicenses   int64                    `json:"active_licenses"`
	TotalRevenue     float64                  `json:"total_revenue"`
	ProductBreakdown map[string]ProductSales  `json:"product_breakdown"`
	RecentSales      []SaleSummary            `json:"recent_sales"`
	StorageMode      string                   `json:"storage_mode"`
	GeneratedAt      time.Time                `json:"generated_at"`
}

// ProductSales represents per-product aggregate sales
type ProductSales struct {
	ProductID string  `json:"product_id"`
	Count     int64   `json:"count"`
	Revenue   float64 `json:"revenue"`
}

// SaleSummary represents one recent sale in analytics output
type SaleSummary struct {
	LicenseKey    string    `json:"license_key"`
	ProductName   string    `json:"product_name"`
	Price         float64   `json:"price"`
	CustomerEmail string    `json:"customer_email"`
	IssuedAt      time.Time `json:"issued_at"`
}

// ActivityAnalytics represents aggregates derived from the license activity
// log over a bounded day window.
type ActivityAnalytics struct {
	WindowDays     int                `json:"window_days"`
	TotalEvents    int                `json:"total_events"`
	CountsByAction map[string]int     `json:"counts_by_action"`
	CountsByDay    map[string]int     `json:"counts_by_day"`
	RevenueByDay   map[string]float64 `json:"revenue_by_day"`
	TopProducts    []ProductCount     `json:"top_products"`
	RecentActivity []ActivityRecord   `json:"recent_activity"`
	MalformedLines int                `json:"malformed_lines,omitempty"`
}

// ProductCount represents a product ranked by event count
type ProductCount struct {
	ProductID string `json:"product_id"`
	Count     int    `json:"count"`
}

// ActivityRecord is one license lifecycle event as written to the activity log
type ActivityRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	LicenseKey string         `json:"license_key"`
	Email      string         `json:"email,omitempty"`
	ProductID  string         `json:"product_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DownloadAnalytics represents aggregates over the download telemetry log
type DownloadAnalytics struct {
	WindowDays    int            `json:"window_days"`
	TotalEvents   int            `json:"total_events"`
	Started       int            `json:"started"`
	Completed     int            `json:"completed"`
	Failed        int            `json:"failed"`
	UniqueUsers   int            `json:"unique_users"`
	ByProduct     map[string]int `json:"by_product"`
	ByDay         map[string]int `json:"by_day"`
	TopFiles      []FileCount    `json:"top_files"`
}

// FileCount represents a downloaded file ranked by hit count
type FileCount struct {
	File  string `json:"file"`
	Count int    `json:"count"`
}

// CombinedAnalytics merges storage-level sales aggregates with log-derived
// activity aggregates for the /analytics endpoint.
type CombinedAnalytics struct {
	Sales    *SalesAnalytics    `json:"sales"`
	Activity *ActivityAnalytics `json:"activity"`
}
