// Package errors provides structured error handling for certsweep operations.
// It defines error codes mapping the sweep failure taxonomy (input errors,
// configuration warnings, per-target network failures and orchestrator
// misuse) together with helpers for classifying wrapped errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"

	// Input errors, raised before a sweep starts.
	CodeInvalidRange ErrorCode = "INVALID_RANGE"
	CodeOctetRange   ErrorCode = "OCTET_OUT_OF_RANGE"

	// Configuration warnings, recovered with a default.
	CodeInvalidPort ErrorCode = "INVALID_PORT"

	// Per-target outcomes. These never abort a sweep.
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodeProtocolAmbiguous  ErrorCode = "PROTOCOL_AMBIGUOUS"
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"

	// Orchestrator misuse.
	CodeScanActive ErrorCode = "SCAN_ACTIVE"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
)

// SupportedRangeForms lists the accepted range expressions, used in error messages.
var SupportedRangeForms = []string{
	"a.b.c",
	"a.b.c.*",
	"a.b.c.d",
	"a.b.c.d-e",
	"a.b.c.x/24",
}

type coded interface {
	error
	ErrorCode() ErrorCode
}

// InputError reports a malformed range expression or an out-of-bounds octet.
type InputError struct {
	Code    ErrorCode
	Message string
	Input   string
	Value   string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("[%s] %s: %s (input: %q)", e.Code, e.Message, e.Value, e.Input)
	}
	return fmt.Sprintf("[%s] %s (input: %q)", e.Code, e.Message, e.Input)
}

// ErrorCode returns the error code.
func (e *InputError) ErrorCode() ErrorCode { return e.Code }

// ScanError represents an error raised by the sweep orchestrator or a probe.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	SessionID string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	switch {
	case e.Target != "":
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	case e.SessionID != "":
		return fmt.Sprintf("[%s] %s (session: %s)", e.Code, e.Message, e.SessionID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *ScanError) ErrorCode() ErrorCode { return e.Code }

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// WrapScanErrorWithTarget wraps a per-target failure.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
	}
}

// ConfigError represents configuration problems. Errors with CodeInvalidPort
// are warnings: the caller substitutes a default and carries on.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s, value: %v)", e.Code, e.Message, e.Field, e.Value)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *ConfigError) ErrorCode() ErrorCode { return e.Code }

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// DatabaseError represents inventory database errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error code.
func (e *DatabaseError) ErrorCode() ErrorCode { return e.Code }

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message, operation string, err error) *DatabaseError {
	return &DatabaseError{
		Code:      code,
		Message:   message,
		Operation: operation,
		Cause:     err,
	}
}

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var c coded
	if stderrors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeUnknown
}

// IsInputError reports whether err rejects a range expression.
func IsInputError(err error) bool {
	var ie *InputError
	return stderrors.As(err, &ie)
}

// IsConfigWarning reports whether err is a recoverable configuration warning.
func IsConfigWarning(err error) bool {
	return IsCode(err, CodeInvalidPort)
}

// IsMisuse reports whether err was raised by starting a sweep while another is active.
func IsMisuse(err error) bool {
	return IsCode(err, CodeScanActive)
}

// ErrUnsupportedRange creates an error for an expression matching no accepted form.
func ErrUnsupportedRange(input string) *InputError {
	return &InputError{
		Code:    CodeInvalidRange,
		Message: "unsupported range format, expected one of " + strings.Join(SupportedRangeForms, ", "),
		Input:   input,
	}
}

// ErrOctetOutOfRange creates an error naming the offending octet.
func ErrOctetOutOfRange(input, value string) *InputError {
	return &InputError{
		Code:    CodeOctetRange,
		Message: "octet out of range [0,255]",
		Input:   input,
		Value:   value,
	}
}

// ErrInvalidRange creates an error for a syntactically valid but unusable range.
func ErrInvalidRange(input, message string) *InputError {
	return &InputError{
		Code:    CodeInvalidRange,
		Message: message,
		Input:   input,
	}
}

// ErrInvalidPort creates a warning for a port that was replaced by the default.
func ErrInvalidPort(raw string, fallback int) *ConfigError {
	return NewConfigFieldError(CodeInvalidPort,
		fmt.Sprintf("invalid port, using default %d", fallback), "port", raw)
}

// ErrScanActive creates the misuse error returned while a session is still draining.
func ErrScanActive(sessionID string) *ScanError {
	return &ScanError{
		Code:      CodeScanActive,
		Message:   "a sweep is already active; cancel it and wait for it to finish first",
		SessionID: sessionID,
	}
}

// ErrHostUnreachable creates an error for unreachable hosts.
func ErrHostUnreachable(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeHostUnreachable, "host is unreachable", target, err)
}

// ErrProtocolAmbiguous creates an error for TLS or I/O failures that do not classify.
func ErrProtocolAmbiguous(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeProtocolAmbiguous, "ambiguous TLS outcome", target, err)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "failed to connect to database", "connect", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(operation string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "database query failed", operation, err)
}
