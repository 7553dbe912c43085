// Package domain contains the core domain models for the ELV license service.
// These types serve as the Single Source of Truth (SSOT) for all layers of the
// application: storage backends, services, transport and exports.
package domain

import (
	"time"
)

// License represents a software license issued for one purchased line item.
// Files, Price, ProductID and IssuedAt are frozen at issuance and never
// change afterwards; only usage counters and revocation fields mutate.
type License struct {
	LicenseKey       string        `json:"license_key" bson:"license_key" validate:"required,min=10"`
	ProductID        string        `json:"product_id" bson:"product_id" validate:"required"`
	ProductName      string        `json:"product_name" bson:"product_name"`
	Price            float64       `json:"price" bson:"price"`
	LicenseType      LicenseType   `json:"license_type" bson:"license_type" validate:"required"`
	Category         string        `json:"category,omitempty" bson:"category,omitempty"`
	CustomerEmail    string        `json:"customer_email" bson:"customer_email" validate:"email"`
	CustomerName     string        `json:"customer_name,omitempty" bson:"customer_name,omitempty"`
	BillingAddress   string        `json:"billing_address,omitempty" bson:"billing_address,omitempty"`
	StripeSessionID  string        `json:"stripe_session_id" bson:"stripe_session_id"`
	PaymentIntent    string        `json:"payment_intent,omitempty" bson:"payment_intent,omitempty"`
	Files            []string      `json:"files" bson:"files"`
	Status           LicenseStatus `json:"status" bson:"status"`
	IssuedAt         time.Time     `json:"issued_at" bson:"issued_at"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	UsageCount       int64         `json:"usage_count" bson:"usage_count"`
	LastUsed         *time.Time    `json:"last_used,omitempty" bson:"last_used,omitempty"`
	RevokedAt        *time.Time    `json:"revoked_at,omitempty" bson:"revoked_at,omitempty"`
	RevocationReason string        `json:"revocation_reason,omitempty" bson:"revocation_reason,omitempty"`
}

// LicenseStatus represents the stored status of a license
type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// LicenseType represents the commercial class of a license
type LicenseType string

const (
	LicenseTypeSingleUse  LicenseType = "single_use"
	LicenseTypeCommercial LicenseType = "commercial"
	LicenseTypeAnnual     LicenseType = "annual"
	LicenseTypeReseller   LicenseType = "reseller"
	LicenseTypeEnterprise LicenseType = "enterprise"
	LicenseTypeService    LicenseType = "service"
)

// Valid reports whether the license grants access at the given instant.
// Validity is derived, not stored: a license whose expiry has passed is
// invalid even while Status still reads "active". The comparison is a
// strict After, so a license expiring exactly at now is already expired.
func (l *License) Valid(now time.Time) bool {
	if l.Status != LicenseStatusActive {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Expired reports whether the expiry, if any, has passed
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// ValidationResult represents the outcome of a license validation check
type ValidationResult struct {
	Valid       bool        `json:"valid"`
	Reason      string      `json:"reason,omitempty"`
	ProductID   string      `json:"product_id,omitempty"`
	ProductName string      `json:"product_name,omitempty"`
	LicenseType LicenseType `json:"license_type,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	UsageCount  int64       `json:"usage_count"`
	CheckedAt   time.Time   `json:"checked_at"`
}

// Validation failure reasons
const (
	ReasonNotFound = "not_found"
	ReasonRevoked  = "revoked"
	ReasonExpired  = "expired"
)
