// Package mailer delivers license emails over SMTP. The transport follows
// the port convention: implicit TLS on 465, STARTTLS on 587 and 25, plain
// otherwise.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"

	"elvlicense/internal/config"
	"elvlicense/pkg/contracts/domain"
)

// Mailer sends license delivery and test emails
type Mailer struct {
	cfg    config.SMTPConfig
	logger *slog.Logger

	// transport is swappable in tests
	transport func(ctx context.Context, to string, msg []byte) error
}

// New creates a mailer from SMTP configuration
func New(cfg config.SMTPConfig, logger *slog.Logger) *Mailer {
	m := &Mailer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mailer")),
	}
	m.transport = m.send
	return m
}

// Enabled reports whether mail delivery is turned on
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled
}

// SendLicenseEmail delivers one license to its customer. The message carries
// an HTML part with a download button per file and a plain-text alternative.
func (m *Mailer) SendLicenseEmail(ctx context.Context, license *domain.License) error {
	if !m.cfg.Enabled {
		m.logger.InfoContext(ctx, "mail delivery disabled, skipping license email",
			slog.String("license_key", license.LicenseKey))
		return nil
	}

	subject := fmt.Sprintf("Your %s license", license.ProductName)
	html, err := renderLicenseHTML(license)
	if err != nil {
		return fmt.Errorf("failed to render license email: %w", err)
	}
	plain := renderLicensePlain(license)

	msg := m.buildMessage(license.CustomerEmail, subject, plain, html)
	if err := m.transport(ctx, license.CustomerEmail, msg); err != nil {
		return fmt.Errorf("failed to send license email: %w", err)
	}

	m.logger.InfoContext(ctx, "license email sent",
		slog.String("license_key", license.LicenseKey),
		slog.String("to", license.CustomerEmail))
	return nil
}

// SendTestEmail sends a short message verifying SMTP settings
func (m *Mailer) SendTestEmail(ctx context.Context, to string) error {
	if !m.cfg.Enabled {
		return fmt.Errorf("mail delivery is disabled")
	}

	html, err := renderTestHTML()
	if err != nil {
		return fmt.Errorf("failed to render test email: %w", err)
	}
	plain := "SMTP configuration test. If you received this message, mail delivery is working."

	msg := m.buildMessage(to, "ELV License Service - Test Email", plain, html)
	if err := m.transport(ctx, to, msg); err != nil {
		return fmt.Errorf("failed to send test email: %w", err)
	}

	m.logger.InfoContext(ctx, "test email sent", slog.String("to", to))
	return nil
}

const mimeBoundary = "elv-mail-boundary"

// buildMessage assembles a multipart/alternative MIME message
func (m *Mailer) buildMessage(to, subject, plain, html string) []byte {
	from := m.cfg.FromAddr
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromAddr)
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: multipart/alternative; boundary=%q\r\n"+
		"\r\n"+
		"--%s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n"+
		"--%s\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n"+
		"--%s--\r\n",
		from, to, subject, mimeBoundary, mimeBoundary, plain, mimeBoundary, html, mimeBoundary)

	return []byte(msg)
}

// send pushes the message through the configured transport
func (m *Mailer) send(ctx context.Context, to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	switch m.cfg.Port {
	case "465":
		return m.sendWithTLS(addr, auth, to, msg)
	case "587", "25":
		return m.sendWithStartTLS(addr, auth, to, msg)
	default:
		return smtp.SendMail(addr, auth, m.cfg.FromAddr, []string{to}, msg)
	}
}

// sendWithTLS uses an implicit TLS connection (port 465)
func (m *Mailer) sendWithTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("SMTP client failed: %w", err)
	}
	defer client.Close()

	return m.exchange(client, auth, to, msg)
}

// sendWithStartTLS upgrades a plain connection (ports 587 and 25)
func (m *Mailer) sendWithStartTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("SMTP dial failed: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("HELO failed: %w", err)
	}
	if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("STARTTLS failed: %w", err)
	}

	return m.exchange(client, auth, to, msg)
}

// exchange runs the SMTP envelope on an established client
func (m *Mailer) exchange(client *smtp.Client, auth smtp.Auth, to string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}
	if err := client.Mail(m.cfg.FromAddr); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("message write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message close failed: %w", err)
	}

	return client.Quit()
}
