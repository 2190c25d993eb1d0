// Package sanitize neutralizes caller-supplied text before it is placed into
// an email. Output is HTML-escaped and free of control characters other than
// TAB, LF and CR, and sanitizing twice yields the same result as sanitizing once.
package sanitize
