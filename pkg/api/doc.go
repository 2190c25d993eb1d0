// Package api implements the mailguard HTTP server (Gin-based): the
// notification and mail configuration endpoints backed by the guard, plus
// /healthz and /metrics.
package api
