// Package errors - typed error taxonomy for the messaging core
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies the recovery path a failure requires
type Code string

const (
	// CodeAuthentication no or invalid session. Not retryable, requires re-login.
	CodeAuthentication Code = "AUTHENTICATION"
	// CodeKeyDerivation crypto pipeline failure or missing salt. Requires the
	// initialization or migration flow.
	CodeKeyDerivation Code = "KEY_DERIVATION"
	// CodeKeyMismatch derived public key does not match the published one
	// (wrong password). Must prompt password re-entry, never re-migration.
	CodeKeyMismatch Code = "KEY_MISMATCH"
	// CodeEncryptionLocked keys are not in process memory. Re-auth is the only
	// recovery.
	CodeEncryptionLocked Code = "ENCRYPTION_LOCKED"
	// CodeEncryption encrypt/decrypt primitive failure, including decryption of
	// tampered or foreign-key data.
	CodeEncryption Code = "ENCRYPTION"
	// CodeValidation bad input or policy violation. User correctable.
	CodeValidation Code = "VALIDATION"
	// CodeConnection remote store failure. Retryable; sends fall back to the
	// offline queue.
	CodeConnection Code = "CONNECTION"
)

// AppError carries a taxonomy code alongside the failure detail
type AppError struct {
	Code    Code   `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

/*
New define a new typed error

	@param code Code - taxonomy code
	@param message string - human readable detail
	@return the error
*/
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

/*
Wrap attach a taxonomy code to an underlying failure

	@param code Code - taxonomy code
	@param message string - human readable detail
	@param cause error - the underlying failure
	@return the error
*/
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Authentication no or invalid session
func Authentication(msg string) error {
	return New(CodeAuthentication, msg)
}

// KeyDerivation crypto pipeline failure or missing salt
func KeyDerivation(msg string, cause error) error {
	return Wrap(CodeKeyDerivation, msg, cause)
}

// KeyMismatch derived public key differs from the published one
func KeyMismatch(msg string) error {
	return New(CodeKeyMismatch, msg)
}

// EncryptionLocked keys not held in memory
func EncryptionLocked(msg string) error {
	return New(CodeEncryptionLocked, msg)
}

// Encryption encrypt/decrypt primitive failure
func Encryption(msg string, cause error) error {
	return Wrap(CodeEncryption, msg, cause)
}

// Validation bad input or policy violation, tagged with the offending field
func Validation(field string, msg string) error {
	return &AppError{Code: CodeValidation, Field: field, Message: msg}
}

// Connection remote store failure
func Connection(msg string, cause error) error {
	return Wrap(CodeConnection, msg, cause)
}

/*
CodeOf report the taxonomy code of an error

	@param err error - the error to inspect
	@return the code, or CodeUnknown equivalent empty string when untyped
*/
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode check whether an error carries a specific taxonomy code
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsAuthentication check for CodeAuthentication
func IsAuthentication(err error) bool { return HasCode(err, CodeAuthentication) }

// IsKeyDerivation check for CodeKeyDerivation
func IsKeyDerivation(err error) bool { return HasCode(err, CodeKeyDerivation) }

// IsKeyMismatch check for CodeKeyMismatch
func IsKeyMismatch(err error) bool { return HasCode(err, CodeKeyMismatch) }

// IsEncryptionLocked check for CodeEncryptionLocked
func IsEncryptionLocked(err error) bool { return HasCode(err, CodeEncryptionLocked) }

// IsEncryption check for CodeEncryption
func IsEncryption(err error) bool { return HasCode(err, CodeEncryption) }

// IsValidation check for CodeValidation
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }

// IsConnection check for CodeConnection
func IsConnection(err error) bool { return HasCode(err, CodeConnection) }
