// Package apiresponses provides the standardized HTTP response helpers used by
// the mailguard API handlers.
package apiresponses
