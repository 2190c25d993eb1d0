// Package guard composes validation, sanitization, rate limiting, lockout
// tracking, mail delivery and audit logging into the two operations exposed
// to the routing layer: HandleSend and HandleConfigChange.
//
// Every request passes the gates in a fixed order:
//
//	Received → Validated → Sanitized (send only) → RateChecked →
//	LockoutChecked → Executed → Logged → Responded
//
// A failed gate skips straight to Logged. Callers only ever see generic
// reasons; the real failure kind is kept in the audit record and metrics.
package guard
