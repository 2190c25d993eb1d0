// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package apiresponses

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/mailguard/pkg/audit"
)

// Codes carried in APIError.Code.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// APIError is the body of every response the guard did not produce itself.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// StatusFor maps a guard outcome to the HTTP status of its response. success
// is used for accepted requests (202 for sends, 200 for config changes).
func StatusFor(outcome audit.Outcome, success int) int {
	switch outcome {
	case audit.OutcomeSuccess:
		return success
	case audit.OutcomeValidationFailure:
		return http.StatusBadRequest
	case audit.OutcomeRateLimited:
		return http.StatusTooManyRequests
	case audit.OutcomeLockedOut:
		return http.StatusServiceUnavailable
	case audit.OutcomeTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondOutcome writes a guard result as-is. Rate limited results also get a
// Retry-After header in whole seconds.
func RespondOutcome(c *gin.Context, outcome audit.Outcome, success, retryAfterSeconds int, result any) {
	if outcome == audit.OutcomeRateLimited {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	c.JSON(StatusFor(outcome, success), result)
}

// RespondBadRequest rejects a body that could not be decoded. details must
// never quote the payload.
func RespondBadRequest(c *gin.Context, message, details string) {
	c.JSON(http.StatusBadRequest, APIError{Error: message, Code: CodeBadRequest, Details: details})
}

func RespondPayloadTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, APIError{Error: "request body too large", Code: CodePayloadTooLarge})
}

func RespondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, APIError{Error: message, Code: CodeNotFound})
}

// RespondInternalError logs err and answers with the failed operation only.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw("Request failed", "operation", operation, "error", err)
	}
	c.JSON(http.StatusInternalServerError, APIError{Error: "failed to " + operation, Code: CodeInternalError})
}

// RespondServiceUnavailable names the readiness check that failed.
func RespondServiceUnavailable(c *gin.Context, check string) {
	c.JSON(http.StatusServiceUnavailable, APIError{Error: "not ready: " + check, Code: CodeServiceUnavailable})
}

func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}
