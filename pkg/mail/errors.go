package mail

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"os"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindNetwork       ErrorKind = "network"
	KindAuth          ErrorKind = "auth"
	KindTLS           ErrorKind = "tls"
	KindRelayRejected ErrorKind = "relay-rejected"
	KindCanceled      ErrorKind = "canceled"
	KindNotConfigured ErrorKind = "not-configured"
)

// ErrNotConfigured is returned when no mail configuration is available.
var ErrNotConfigured = errors.New("mail transport is not configured")

// TransportError is the only error type returned by Transport.
type TransportError struct {
	Kind ErrorKind
	// Code is the SMTP reply code when the relay answered, otherwise 0.
	Code int
	// Attempts is the number of relay sessions that were tried.
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("mail %s (%d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("mail %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed. Transient relay
// replies (4xx) are retryable, permanent ones (5xx) are not.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindRelayRejected:
		return e.Code >= 400 && e.Code < 500
	default:
		return false
	}
}

// KindOf returns the kind of a *TransportError in err's chain, or "" if
// there is none.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

type stage string

const (
	stageConnect  stage = "connect"
	stageTLS      stage = "tls"
	stageAuth     stage = "auth"
	stageEnvelope stage = "envelope"
)

// classify maps err, raised during stage st of a session bound to ctx, to a
// TransportError.
func classify(ctx context.Context, st stage, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	wrapped := fmt.Errorf("%s: %w", st, err)
	switch {
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return &TransportError{Kind: KindCanceled, Err: wrapped}
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return &TransportError{Kind: KindTimeout, Err: wrapped}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KindTimeout, Err: wrapped}
	}
	if isTLSError(err) {
		return &TransportError{Kind: KindTLS, Err: wrapped}
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		// Any reply to AUTH is terminal, 454 included. Only 5xx counts
		// towards lockout, see Transport.authenticate.
		if st == stageAuth {
			return &TransportError{Kind: KindAuth, Code: protoErr.Code, Err: wrapped}
		}
		if st == stageTLS {
			return &TransportError{Kind: KindTLS, Code: protoErr.Code, Err: wrapped}
		}
		return &TransportError{Kind: KindRelayRejected, Code: protoErr.Code, Err: wrapped}
	}

	switch st {
	case stageTLS:
		return &TransportError{Kind: KindTLS, Err: wrapped}
	case stageAuth:
		return &TransportError{Kind: KindAuth, Err: wrapped}
	}
	return &TransportError{Kind: KindNetwork, Err: wrapped}
}

func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		recordHdrErr tls.RecordHeaderError
		alertErr     tls.AlertError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &recordHdrErr) ||
		errors.As(err, &alertErr)
}
