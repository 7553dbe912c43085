package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"elvlicense/pkg/contracts/domain"
)

// DefaultKeyPrefix is the product line prefix carried by every key
const DefaultKeyPrefix = "ELV"

// Generator produces license keys of the form
// ELV-<base36 ms timestamp>-<8 hex hash>-<8 hex random>, all upper case.
//
// The hash segment binds the key to (email, productID, salt) without being
// reversible to the salt; the random segment is what makes collisions
// vanishingly unlikely. Uniqueness is still enforced by the storage layer's
// constraint, never by this generator.
type Generator struct {
	salt   string
	prefix string
	now    func() time.Time
}

// NewGenerator creates a key generator. The salt is validated at config load;
// an empty salt here is a programming error.
func NewGenerator(salt, prefix string) *Generator {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Generator{
		salt:   salt,
		prefix: prefix,
		now:    time.Now,
	}
}

// GenerateKey derives a new license key for the given product and customer
func (g *Generator) GenerateKey(productID, customerEmail string) (string, error) {
	if productID == "" {
		return "", fmt.Errorf("product id is required")
	}
	if customerEmail == "" {
		return "", fmt.Errorf("customer email is required")
	}

	ts := strings.ToUpper(strconv.FormatInt(g.now().UnixMilli(), 36))

	sum := sha256.Sum256([]byte(customerEmail + productID + g.salt))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))[:8]

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	random := strings.ToUpper(hex.EncodeToString(buf))

	return strings.Join([]string{g.prefix, ts, hash, random}, "-"), nil
}

// ExpiryFor computes the expiry timestamp for a license type relative to now.
// A nil result means a lifetime license. This is a fixed lookup table; no
// other license types carry an expiry.
func ExpiryFor(licenseType domain.LicenseType, now time.Time) *time.Time {
	var expiry time.Time
	switch licenseType {
	case domain.LicenseTypeSingleUse:
		expiry = now.AddDate(10, 0, 0)
	case domain.LicenseTypeAnnual:
		expiry = now.AddDate(1, 0, 0)
	case domain.LicenseTypeEnterprise:
		expiry = now.AddDate(3, 0, 0)
	default:
		// commercial, reseller, service and anything unrecognized: lifetime
		return nil
	}
	return &expiry
}
