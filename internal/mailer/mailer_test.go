package mailer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elvlicense/internal/config"
	"elvlicense/pkg/contracts/domain"
)

func testMailer(enabled bool) (*Mailer, *[]string) {
	cfg := config.SMTPConfig{
		Enabled:  enabled,
		Host:     "smtp.example.com",
		Port:     "587",
		Username: "sender",
		Password: "secret",
		FromName: "Elevate Learning",
		FromAddr: "licenses@elevatelearning.io",
	}
	m := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var sent []string
	m.transport = func(ctx context.Context, to string, msg []byte) error {
		sent = append(sent, string(msg))
		return nil
	}
	return m, &sent
}

func sampleLicense() *domain.License {
	expires := time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)
	return &domain.License{
		LicenseKey:    "ELV-ABC123-DEADBEEF-CAFE0123",
		ProductID:     "elv-course-builder",
		ProductName:   "ELV Course Builder",
		LicenseType:   domain.LicenseTypeCommercial,
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Jordan",
		ExpiresAt:     &expires,
		Files: []string{
			"https://downloads.elevatelearning.io/elv-course-builder.zip",
			"https://downloads.elevatelearning.io/elv-course-builder-docs.pdf",
		},
	}
}

func TestSendLicenseEmail_BuildsMultipartMessage(t *testing.T) {
	m, sent := testMailer(true)

	err := m.SendLicenseEmail(context.Background(), sampleLicense())
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	msg := (*sent)[0]
	assert.Contains(t, msg, "From: Elevate Learning <licenses@elevatelearning.io>")
	assert.Contains(t, msg, "To: buyer@example.com")
	assert.Contains(t, msg, "Subject: Your ELV Course Builder license")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "text/plain")
	assert.Contains(t, msg, "text/html")

	// The key appears in both parts
	assert.Contains(t, msg, "License key: ELV-ABC123-DEADBEEF-CAFE0123")
	assert.Contains(t, msg, ">ELV-ABC123-DEADBEEF-CAFE0123<")
}

func TestSendLicenseEmail_AppendsKeyToDownloadLinks(t *testing.T) {
	m, sent := testMailer(true)

	err := m.SendLicenseEmail(context.Background(), sampleLicense())
	require.NoError(t, err)

	msg := (*sent)[0]
	assert.Contains(t, msg, "elv-course-builder.zip?licenseKey=ELV-ABC123-DEADBEEF-CAFE0123")
	assert.Contains(t, msg, "elv-course-builder-docs.pdf?licenseKey=ELV-ABC123-DEADBEEF-CAFE0123")
}

func TestSendLicenseEmail_DisabledIsNoop(t *testing.T) {
	m, sent := testMailer(false)

	err := m.SendLicenseEmail(context.Background(), sampleLicense())
	require.NoError(t, err)
	assert.Empty(t, *sent)
}

func TestSendTestEmail(t *testing.T) {
	m, sent := testMailer(true)

	err := m.SendTestEmail(context.Background(), "ops@example.com")
	require.NoError(t, err)
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0], "To: ops@example.com")
	assert.Contains(t, (*sent)[0], "SMTP Configuration Test")
}

func TestSendTestEmail_DisabledErrors(t *testing.T) {
	m, _ := testMailer(false)

	err := m.SendTestEmail(context.Background(), "ops@example.com")
	assert.Error(t, err)
}

func TestRenderLicensePlain_NoExpiry(t *testing.T) {
	license := sampleLicense()
	license.ExpiresAt = nil

	plain := renderLicensePlain(license)
	assert.NotContains(t, plain, "Valid until")
	assert.Contains(t, plain, license.LicenseKey)
}

func TestDownloadLinks_PreservesExistingQuery(t *testing.T) {
	license := sampleLicense()
	license.Files = []string{"https://downloads.elevatelearning.io/kit.zip?v=2"}

	links := downloadLinks(license)
	require.Len(t, links, 1)
	assert.Contains(t, links[0].URL, "v=2")
	assert.Contains(t, links[0].URL, "licenseKey=ELV-ABC123-DEADBEEF-CAFE0123")
	assert.Equal(t, "kit.zip", links[0].Name)
}
