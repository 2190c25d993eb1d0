// Package metrics defines Prometheus metrics for mailguard, covering guarded
// operations, rate limiting, lockouts, mail delivery, audit sinks and the
// configuration store.
package metrics
