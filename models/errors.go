package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	// Browser or page could not be created. Fatal to the process.
	ErrCodeInitialization = "INITIALIZATION_FAILED"

	// Session-fatal codes: the orchestrator rebuilds the session and retries once.
	ErrCodeLoginFailed    = "LOGIN_FAILED"
	ErrCodeSessionExpired = "SESSION_EXPIRED"
	ErrCodeNavigation     = "NAVIGATION_FAILED"
	ErrCodeTimeout        = "SCRAPE_TIMEOUT"

	// ErrCodeExtraction marks a page whose text could not be read at all.
	// Individual unparsable fields never produce an error.
	ErrCodeExtraction = "EXTRACTION_ANOMALY"

	ErrCodeNotReady     = "DATA_NOT_READY"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the outermost ScrapeError in err's chain,
// or ErrCodeInternal if there is none.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsSessionFatal reports whether err means the browser session can no
// longer be trusted and has to be rebuilt from scratch.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrCodeLoginFailed, ErrCodeSessionExpired, ErrCodeNavigation, ErrCodeTimeout:
		return true
	}
	return false
}

// IsInitialization reports whether err is an InitializationFailure.
func IsInitialization(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeInitialization
}
