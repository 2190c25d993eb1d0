// Package ratelimit enforces per-operation-class, per-key attempt limits: a
// fixed cap per window anchored at first use and an optional minimum interval
// between allowed attempts. Denials report how long to wait. The limiter also
// provides a per-IP Gin middleware and sweeps stale entries in the background.
package ratelimit
