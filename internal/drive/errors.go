// Package drive provides an authenticated HTTP client for the Google Drive v3
// API and the chunked transfer engines built on it: ranged sequential
// downloads into a sink, and resumable-session uploads.
package drive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("drive: bad request")
	ErrUnauthorized = errors.New("drive: unauthorized")
	ErrForbidden    = errors.New("drive: forbidden")
	ErrNotFound     = errors.New("drive: not found")
	ErrConflict     = errors.New("drive: conflict")
	ErrThrottled    = errors.New("drive: throttled")
	ErrServerError  = errors.New("drive: server error")
)

// Sentinels for the three error kinds the transfer engines report.
var (
	ErrDownload   = errors.New("drive: download failed")
	ErrUpload     = errors.New("drive: upload failed")
	ErrValidation = errors.New("drive: invalid input")
)

// ErrInconsistentRange is returned when a ranged response disagrees with the
// total size or offset established by earlier responses of the same download.
var ErrInconsistentRange = errors.New("drive: inconsistent content range")

// DownloadError reports a failed metadata fetch or chunk fetch.
type DownloadError struct {
	StatusCode int
	Message    string
	Err        error // optional cause
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("drive: download failed (HTTP %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}

	return fmt.Sprintf("drive: download failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// Unwrap exposes the download sentinel, the status classification, and the
// optional cause to errors.Is.
func (e *DownloadError) Unwrap() []error {
	return unwrapAll(ErrDownload, e.StatusCode, e.Err)
}

// UploadError reports a failed session init, chunk PUT, or finalize call.
type UploadError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("drive: upload failed (HTTP %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}

	return fmt.Sprintf("drive: upload failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// Unwrap exposes the upload sentinel, the status classification, and the
// optional cause to errors.Is.
func (e *UploadError) Unwrap() []error {
	return unwrapAll(ErrUpload, e.StatusCode, e.Err)
}

// ValidationError reports bad caller input detected before any chunk request:
// a malformed identifier, a bad chunk size, or a destination that already exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("drive: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func unwrapAll(kind error, status int, cause error) []error {
	errs := []error{kind}
	if sentinel := classifyStatus(status); sentinel != nil {
		errs = append(errs, sentinel)
	}

	if cause != nil {
		errs = append(errs, cause)
	}

	return errs
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx codes and for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
