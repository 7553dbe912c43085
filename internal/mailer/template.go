package mailer

import (
	"fmt"
	"html/template"
	"net/url"
	"path"
	"strings"

	"elvlicense/pkg/contracts/domain"
)

var licenseTemplate = template.Must(template.New("license").Parse(`<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #1d4ed8; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; border-top: none; border-radius: 0 0 8px 8px; }
        .key { font-family: monospace; font-size: 18px; background: #eef2ff; padding: 12px; border-radius: 6px; display: block; text-align: center; letter-spacing: 1px; }
        .button { display: inline-block; background: #1d4ed8; color: white; padding: 12px 24px; margin: 6px 0; border-radius: 6px; text-decoration: none; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Elevate Learning</h1>
        </div>
        <div class="content">
            <h2>Thank you for your purchase{{if .CustomerName}}, {{.CustomerName}}{{end}}!</h2>
            <p>Your license for <strong>{{.ProductName}}</strong> is ready.</p>
            <span class="key">{{.LicenseKey}}</span>
            <p>License type: {{.LicenseType}}{{if .Expires}}<br>Valid until: {{.Expires}}{{end}}</p>
            {{if .Downloads}}
            <h3>Your downloads</h3>
            {{range .Downloads}}
            <p><a class="button" href="{{.URL}}">Download {{.Name}}</a></p>
            {{end}}
            {{end}}
            <hr>
            <p><small>Keep this email. Your license key is required for downloads and support.</small></p>
        </div>
    </div>
</body>
</html>`))

var testTemplate = template.Must(template.New("test").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h2>SMTP Configuration Test</h2>
    <p style="color: #059669; font-weight: bold;">Your email configuration is working correctly.</p>
    <p>This message was sent by the ELV license service to verify SMTP settings.</p>
</body>
</html>`))

type downloadLink struct {
	Name string
	URL  string
}

type licenseEmailData struct {
	CustomerName string
	ProductName  string
	LicenseKey   string
	LicenseType  string
	Expires      string
	Downloads    []downloadLink
}

// renderLicenseHTML produces the HTML body for a license delivery email
func renderLicenseHTML(license *domain.License) (string, error) {
	data := licenseEmailData{
		CustomerName: license.CustomerName,
		ProductName:  license.ProductName,
		LicenseKey:   license.LicenseKey,
		LicenseType:  string(license.LicenseType),
		Downloads:    downloadLinks(license),
	}
	if license.ExpiresAt != nil {
		data.Expires = license.ExpiresAt.Format("January 2, 2006")
	}

	var b strings.Builder
	if err := licenseTemplate.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// renderLicensePlain produces the text alternative
func renderLicensePlain(license *domain.License) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for purchasing %s.\n\n", license.ProductName)
	fmt.Fprintf(&b, "License key: %s\n", license.LicenseKey)
	fmt.Fprintf(&b, "License type: %s\n", license.LicenseType)
	if license.ExpiresAt != nil {
		fmt.Fprintf(&b, "Valid until: %s\n", license.ExpiresAt.Format("January 2, 2006"))
	}
	if links := downloadLinks(license); len(links) > 0 {
		b.WriteString("\nDownloads:\n")
		for _, link := range links {
			fmt.Fprintf(&b, "  %s: %s\n", link.Name, link.URL)
		}
	}
	b.WriteString("\nKeep this email. Your license key is required for downloads and support.\n")
	return b.String()
}

func renderTestHTML() (string, error) {
	var b strings.Builder
	if err := testTemplate.Execute(&b, nil); err != nil {
		return "", err
	}
	return b.String(), nil
}

// downloadLinks builds one link per file with the license key appended as a
// query parameter, so the download tracker can attribute the fetch.
func downloadLinks(license *domain.License) []downloadLink {
	links := make([]downloadLink, 0, len(license.Files))
	for _, file := range license.Files {
		u, err := url.Parse(file)
		if err != nil {
			continue
		}
		q := u.Query()
		q.Set("licenseKey", license.LicenseKey)
		u.RawQuery = q.Encode()
		links = append(links, downloadLink{
			Name: path.Base(u.Path),
			URL:  u.String(),
		})
	}
	return links
}
