// Package mail delivers single notification messages to an upstream SMTP
// relay. Sessions are always encrypted (implicit TLS or mandatory STARTTLS)
// with certificate verification, authentication outcomes feed a lockout
// tracker, and transient failures are retried with exponential backoff.
package mail
