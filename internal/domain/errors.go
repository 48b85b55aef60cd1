package domain

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed alert. Never retried.
type ValidationError struct {
	Msg string
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// CredentialError marks an account that cannot be resolved to usable
// credentials (inactive, deleted, missing role). Fatal for the alert.
type CredentialError struct {
	Account string
	Msg     string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credentials for %q: %s", e.Account, e.Msg)
}

// ExchangeError is a non-zero retCode from the exchange. Retryable unless the
// code indicates a permanent rejection.
type ExchangeError struct {
	Op   string
	Code int
	Msg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s: exchange retCode %d: %s", e.Op, e.Code, e.Msg)
}

// Bybit codes that no amount of retrying will fix: parameter errors, bad or
// expired keys, signature mismatch.
var permanentExchangeCodes = map[int]bool{
	10001: true,
	10003: true,
	10004: true,
	10005: true,
}

func (e *ExchangeError) Permanent() bool { return permanentExchangeCodes[e.Code] }

// TransferError is a fund transfer that failed after the bounded
// retry-and-shrink sequence. Fatal for the alert's OPEN/SELL flow.
type TransferError struct {
	Status string
	From   string
	To     string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s -> %s failed with status %s", e.From, e.To, e.Status)
}

// StreamError is a dropped private stream connection. Never fatal to the
// process; the supervisor reconnects on its next tick.
type StreamError struct {
	Account string
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream for %q: %v", e.Account, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsRetryable reports whether the task wrapper should retry after err.
func IsRetryable(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ce *CredentialError
	if errors.As(err, &ce) {
		return false
	}
	var te *TransferError
	if errors.As(err, &te) {
		return false
	}
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return !ee.Permanent()
	}
	return true
}
