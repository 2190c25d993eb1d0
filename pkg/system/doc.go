// Package system holds process-wide helpers: logger construction and the
// request-scoped logger stored in the gin context.
package system
