// Package config loads the mailguard daemon configuration from a YAML file
// with MAILGUARD_* environment overrides, and converts it into the settings
// of the rate limiter, lockout tracker, mail transport and audit sinks.
package config
