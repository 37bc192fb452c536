package aggregator

import (
	"errors"
	"fmt"
)

// Error codes the aggregator reports for permanent auth failures. Any of
// these means the user must re-link the institution.
const (
	CodeItemLoginRequired  = "ITEM_LOGIN_REQUIRED"
	CodeInvalidAccessToken = "INVALID_ACCESS_TOKEN"
	CodeItemNotFound       = "ITEM_NOT_FOUND"
)

// TransientError is a retryable aggregator failure (network error, 429, 5xx).
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("aggregator transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("aggregator transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError is a permanent auth failure. The connection must transition to
// expired and the user must re-link.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("aggregator auth error %s: %s", e.Code, e.Message)
}

// IsAuthError reports whether err is a permanent aggregator auth failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is a retryable aggregator failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
