// Package config provides centralized configuration management for the ELV
// license service.
//
// Configuration is loaded from environment variables with the ELV prefix
// (e.g. ELV_SERVER_PORT, ELV_LICENSE_SALT), optionally merged with a YAML
// config file, and validated before the application starts. Validation is
// strict: the key-generation salt, the Stripe webhook secret, the admin
// secret and (when mail is enabled) SMTP credentials are required, and a
// missing value aborts startup instead of degrading at runtime.
//
// The package also owns the on-disk layout: the license data directory used
// by the file-backed storage fallback, the logs directory holding the
// append-only activity sinks, and the archive directory that log rotation
// renames oversized streams into.
package config
