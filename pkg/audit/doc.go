// Package audit records one append-only entry per guarded operation and
// forwards it to configurable sinks (log, file, Kafka). Records carry a
// fingerprint hash and a redacted detail string, never secrets, message
// bodies or raw client addresses.
package audit
