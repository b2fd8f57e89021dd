package authclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sentinel errors. Match them with errors.Is.
var (
	// ErrUnauthenticated matches any 401 surfaced to a caller.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRetryGuard matches a 401 on a request that was already replayed
	// after a refresh.
	ErrRetryGuard = errors.New("request rejected after refresh retry")

	// ErrRefreshExhausted matches every terminal refresh failure.
	ErrRefreshExhausted = errors.New("session refresh failed")

	// ErrNoRefreshToken is the refresh cause when nothing is stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrRefreshTransport is the refresh cause when the call never got a response.
	ErrRefreshTransport = errors.New("refresh request failed")

	// ErrInvalidTokenResponse is returned for token bodies without an access token.
	ErrInvalidTokenResponse = errors.New("invalid token response")

	// ErrSessionReset is the refresh cause when a logout happened mid-refresh.
	ErrSessionReset = errors.New("session was reset during refresh")
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 64 << 10

// StatusError is a non-2xx response surfaced as an error.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	// Retried is set when the request had already been replayed once.
	Retried bool
}

// newStatusError captures resp and closes its body.
func newStatusError(req *http.Request, resp *http.Response) *StatusError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	return &StatusError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       body,
		Retried:    IsRetried(req),
	}
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if b := strings.TrimSpace(string(e.Body)); b != "" {
		msg += ": " + b
	}
	if e.Retried {
		msg += " (after refresh retry)"
	}
	return msg
}

// Is reports whether the status maps onto one of the sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRetryGuard:
		return e.StatusCode == http.StatusUnauthorized && e.Retried
	}
	return false
}

// RefreshError is returned to the caller whose 401 triggered a refresh that
// failed. It wraps ErrRefreshExhausted, the original 401 and the cause.
type RefreshError struct {
	Original *StatusError
	Cause    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%v: %v", ErrRefreshExhausted, e.Cause)
}

func (e *RefreshError) Unwrap() []error {
	errs := []error{ErrRefreshExhausted}
	if e.Original != nil {
		errs = append(errs, e.Original)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
