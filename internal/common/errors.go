package common

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrDecode              = errors.New("image decode failed")
	ErrStore               = errors.New("vector store error")
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Kind    error
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewAppError builds an AppError of the given kind.
func NewAppError(code string, kind error, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Kind:    kind,
		Cause:   cause,
	}
}

// NotFound reports an unknown job id or a missing file.
func NotFound(message string) error {
	return NewAppError("NOT_FOUND", ErrNotFound, message, nil)
}

// Validation reports bad caller input such as a missing folder or an empty query.
func Validation(message string) error {
	return NewAppError("VALIDATION_ERROR", ErrValidation, message, nil)
}

func Validationf(format string, args ...any) error {
	return Validation(fmt.Sprintf(format, args...))
}

func ProviderUnavailable(message string, cause error) error {
	return NewAppError("PROVIDER_UNAVAILABLE", ErrProviderUnavailable, message, cause)
}

func Decode(message string, cause error) error {
	return NewAppError("DECODE_ERROR", ErrDecode, message, cause)
}

func Store(message string, cause error) error {
	return NewAppError("STORE_ERROR", ErrStore, message, cause)
}

// CodeOf returns the AppError code in err's chain, or "INTERNAL".
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "INTERNAL"
}
