package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a completion-service failure.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindRateLimited        Kind = "rate_limited"
	KindUnavailable        Kind = "upstream_unavailable"
	KindRejected           Kind = "upstream_rejected"
)

// UpstreamError is returned by every provider when the completion service
// fails. Transient errors may succeed if the same request is sent later.
type UpstreamError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Transient  bool
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusError classifies an HTTP error response.
func StatusError(provider string, status int, msg string) *UpstreamError {
	e := &UpstreamError{Provider: provider, StatusCode: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindInvalidCredentials
	case status == http.StatusTooManyRequests:
		e.Kind, e.Transient = KindRateLimited, true
	case status >= 500:
		e.Kind, e.Transient = KindUnavailable, true
	default:
		e.Kind = KindRejected
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// TransportError classifies a failure to reach the service at all.
// Caller cancellation is passed through untouched.
func TransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &UpstreamError{Provider: provider, Kind: KindUnavailable, Transient: true, Err: err}
}

// IsTransient reports whether err is a completion-service failure worth
// retrying later.
func IsTransient(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up) && up.Transient
}

// KindOf returns the classification of err, or "" if err is not an
// UpstreamError.
func KindOf(err error) Kind {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Kind
	}
	return ""
}
