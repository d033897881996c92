package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

var (
	// ErrInsecureEndpoint rejects any non-https target before dispatch.
	ErrInsecureEndpoint = errors.New("provider: insecure endpoint")
	// ErrEmptyPayload flags caller input with no bytes to upload.
	ErrEmptyPayload = errors.New("provider: empty payload")
	// ErrNoDataFound means a well-formed payload held none of the sought fields.
	ErrNoDataFound = errors.New("provider: no data found")
	// ErrNoEventsReceived means the stream closed before any event arrived.
	ErrNoEventsReceived = errors.New("provider: no events received")
	// ErrNoTextProduced means events arrived but none yielded text.
	ErrNoTextProduced = errors.New("provider: no text produced")
)

// StatusError is a non-2xx reply, carrying the richest error message the
// body disclosed.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("provider: http status %d", e.Code)
	}
	return fmt.Sprintf("provider: http status %d: %s", e.Code, e.Message)
}

// Retryable reports whether the status is worth one more attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// StreamError is an in-band error object arriving inside an otherwise
// successful SSE connection.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "provider: stream error: " + e.Message
}

// IsTransient classifies transport-level failures that justify a retry:
// timeouts, DNS failures, refused/reset/lost connections, offline hosts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	for _, errno := range []error{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		syscall.ENETDOWN,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return IsTransient(err)
}
