package license

import (
	"elvlicense/pkg/contracts/domain"
)

// Catalog is the static in-memory product catalog, keyed by the payment
// provider's price ID. Licenses copy the product's file list at issuance
// time; the catalog is never mutated at runtime.
type Catalog struct {
	byPriceID map[string]domain.Product
}

// NewCatalog builds a catalog from a product list
func NewCatalog(products []domain.Product) *Catalog {
	byPriceID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byPriceID[p.PriceID] = p
	}
	return &Catalog{byPriceID: byPriceID}
}

// ByPriceID resolves a price ID to its product
func (c *Catalog) ByPriceID(priceID string) (domain.Product, bool) {
	p, ok := c.byPriceID[priceID]
	return p, ok
}

// Len returns the number of catalog entries
func (c *Catalog) Len() int {
	return len(c.byPriceID)
}

// DefaultCatalog returns the ELV product line
func DefaultCatalog() *Catalog {
	return NewCatalog([]domain.Product{
		{
			ID:          "elv-course-builder",
			PriceID:     "price_course_builder",
			Name:        "ELV Course Builder",
			Price:       149.00,
			LicenseType: domain.LicenseTypeCommercial,
			Category:    "lms-tools",
			Files: []string{
				"https://downloads.elevatelearning.io/course-builder/elv-course-builder.zip",
				"https://downloads.elevatelearning.io/course-builder/quickstart-guide.pdf",
			},
		},
		{
			ID:          "elv-enrollment-suite",
			PriceID:     "price_enrollment_suite",
			Name:        "ELV Enrollment Suite",
			Price:       499.00,
			LicenseType: domain.LicenseTypeAnnual,
			Category:    "admissions",
			Files: []string{
				"https://downloads.elevatelearning.io/enrollment-suite/elv-enrollment-suite.zip",
			},
		},
		{
			ID:          "elv-campus-analytics",
			PriceID:     "price_campus_analytics",
			Name:        "ELV Campus Analytics",
			Price:       1299.00,
			LicenseType: domain.LicenseTypeEnterprise,
			Category:    "analytics",
			Files: []string{
				"https://downloads.elevatelearning.io/campus-analytics/elv-campus-analytics.zip",
				"https://downloads.elevatelearning.io/campus-analytics/deployment-manual.pdf",
			},
		},
		{
			ID:          "elv-lesson-template-pack",
			PriceID:     "price_lesson_templates",
			Name:        "ELV Lesson Template Pack",
			Price:       49.00,
			LicenseType: domain.LicenseTypeSingleUse,
			Category:    "content",
			Files: []string{
				"https://downloads.elevatelearning.io/templates/lesson-template-pack.zip",
			},
		},
		{
			ID:          "elv-partner-toolkit",
			PriceID:     "price_partner_toolkit",
			Name:        "ELV Partner Toolkit",
			Price:       2499.00,
			LicenseType: domain.LicenseTypeReseller,
			Category:    "partners",
			Files: []string{
				"https://downloads.elevatelearning.io/partner-toolkit/elv-partner-toolkit.zip",
			},
		},
		{
			ID:          "elv-onboarding-service",
			PriceID:     "price_onboarding_service",
			Name:        "ELV Guided Onboarding",
			Price:       899.00,
			LicenseType: domain.LicenseTypeService,
			Category:    "services",
			Files: []string{
				"https://downloads.elevatelearning.io/onboarding/welcome-pack.pdf",
			},
		},
	})
}
