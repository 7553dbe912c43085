package domain

// Product represents one sellable catalog entry. The catalog is static and
// keyed by the payment provider's price ID; Files is the frozen list of
// download URLs copied onto every license issued for the product.
type Product struct {
	ID          string      `json:"id"`
	PriceID     string      `json:"price_id"`
	Name        string      `json:"name"`
	Price       float64     `json:"price"`
	LicenseType LicenseType `json:"license_type"`
	Category    string      `json:"category"`
	Files       []string    `json:"files"`
}
