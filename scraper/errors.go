package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// StatusError is a response that arrived but was not a 200.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d", e.URL, e.Status)
}

// MarkupError means the page no longer carries the element a step relies on.
type MarkupError struct {
	URL string
	Err error
}

func (e *MarkupError) Error() string {
	return fmt.Sprintf("unexpected markup at %s: %v", e.URL, e.Err)
}

func (e *MarkupError) Unwrap() error {
	return e.Err
}

// AuthenticationError is returned when login does not answer with a 200.
type AuthenticationError struct {
	Status int
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("login failed: http status %d", e.Status)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ClaimFailedError is returned when the daily ebook could not be claimed.
// Title is whatever was scraped before the failure.
type ClaimFailedError struct {
	Title  string
	Status int
	Err    error
}

func (e *ClaimFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("eBook %q has not been grabbed (status %d): %v", e.Title, e.Status, e.Err)
	}
	return fmt.Sprintf("eBook %q has not been grabbed: http status %d", e.Title, e.Status)
}

func (e *ClaimFailedError) Unwrap() error {
	return e.Err
}

// InventoryError is returned when the library page cannot be read.
type InventoryError struct {
	URL    string
	Status int
	Err    error
}

func (e *InventoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot open %s (status %d): %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("cannot open %s: http status %d", e.URL, e.Status)
}

func (e *InventoryError) Unwrap() error {
	return e.Err
}

// FatalError aborts a run. Step names the stage that failed.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err for step, leaving nil and already-fatal errors untouched.
func Fatal(step string, err error) error {
	if err == nil {
		return nil
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return err
	}
	return &FatalError{Step: step, Err: err}
}

// ErrorType returns the metrics label for err.
func ErrorType(err error) string {
	var status *StatusError
	if errors.As(err, &status) {
		return errorTypeLabel(classifyError(err, status.Status))
	}
	return errorTypeLabel(classifyError(err, 0))
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var markup *MarkupError
	if errors.As(err, &markup) {
		return "markup"
	}
	var status *StatusError
	if errors.As(err, &status) {
		return "status"
	}
	return "other"
}
