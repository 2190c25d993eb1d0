// Package cmd implements the cobra command tree of the mailguard binary:
// the serve command that wires the guard behind the HTTP API, offline relay
// configuration validation and verification, and version output.
package cmd
