// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// Operation names the guarded operation an audit record belongs to.
type Operation string

const (
	OperationSend         Operation = "notification.send"
	OperationConfigChange Operation = "config.change"
)

// Outcome is the terminal state of a guarded operation.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeValidationFailure Outcome = "validation-failure"
	OutcomeRateLimited       Outcome = "rate-limited"
	OutcomeLockedOut         Outcome = "locked-out"
	OutcomeTransportFailure  Outcome = "transport-failure"
	OutcomeInternalFailure   Outcome = "internal-failure"
)

// Outcomes lists every outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeValidationFailure,
	OutcomeRateLimited,
	OutcomeLockedOut,
	OutcomeTransportFailure,
	OutcomeInternalFailure,
}

// Record is a single append-only audit entry.
// Detail is always produced by Detail.Render and is safe to persist.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Operation   Operation `json:"operation"`
	Fingerprint string    `json:"fingerprint"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
}
