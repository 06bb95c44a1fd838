package appleid

import (
	"errors"
	"fmt"
)

// ErrorCode represents verification error categories.
type ErrorCode string

const (
	ErrCodeMalformedToken    ErrorCode = "malformed_token"
	ErrCodeKeyLookup         ErrorCode = "key_lookup_failed"
	ErrCodeAlgorithmMismatch ErrorCode = "algorithm_mismatch"
	ErrCodeSignatureInvalid  ErrorCode = "signature_invalid"
	ErrCodeIssuerMismatch    ErrorCode = "issuer_mismatch"
	ErrCodeAudienceMismatch  ErrorCode = "audience_mismatch"
	ErrCodeInvalidConfig     ErrorCode = "invalid_config"
	ErrCodeExchangeFailed    ErrorCode = "exchange_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeMalformedToken:    "Malformed token",
	ErrCodeKeyLookup:         "Signing key lookup failed",
	ErrCodeAlgorithmMismatch: "Algorithm mismatch",
	ErrCodeSignatureInvalid:  "Invalid signature",
	ErrCodeIssuerMismatch:    "Issuer mismatch",
	ErrCodeAudienceMismatch:  "Audience mismatch",
	ErrCodeInvalidConfig:     "Invalid configuration",
	ErrCodeExchangeFailed:    "Code exchange failed",
}

// Error wraps verification errors with a stable code and message.
// Every code means the token must be rejected; the codes exist for diagnostics.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func newErrorf(code ErrorCode, format string, args ...any) error {
	return newError(code, fmt.Errorf(format, args...))
}
