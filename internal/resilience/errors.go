package resilience

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// TransportError wraps a provider call failure that is recoverable: it
// drives the circuit breaker and remediation engine rather than failing the
// batch outright.
type TransportError struct {
	Err        error
	StatusCode int
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps an error as a recoverable transport failure with
// an optional HTTP status code.
func NewTransportError(err error, statusCode int) *TransportError {
	return &TransportError{Err: err, StatusCode: statusCode}
}

// transportPatterns covers failures the HTTP and FTP clients surface only as
// text after wrapping. The numeric prefixes are FTP reply codes; the 4xx
// range means "transient negative completion" in the protocol itself.
var transportPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected end of json input",
	"421 ", // service not available, closing control connection
	"425 ", // can't open data connection
	"426 ", // connection closed, transfer aborted
	"450 ", // requested file action not taken
}

// IsTransport returns true if the error (or any error in its chain) counts
// as a recoverable transport failure: an explicit TransportError, a network
// timeout, a connection-level syscall error, a payload cut off mid-transfer,
// or a known client error pattern.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// A feed truncated mid-body is a transport fault, not a parse bug.
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transportPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsRetryableStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
