package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies rejected input. Callers map it to a 4xx response.
	ErrValidation = errors.New("chat: validation failed")
	// ErrStoreUnavailable classifies persistence failures. Callers map it to a 5xx response.
	ErrStoreUnavailable = errors.New("chat: store unavailable")

	errMissingText       = errors.New("message text is required")
	errInvalidText       = errors.New("message text is invalid")
	errMissingAuthor     = errors.New("message author is required")
	errMissingRepository = errors.New("repository is required")
	errInvalidCapacity   = errors.New("capacity must be positive")
)

const (
	opStoreNew       = "chat.store.new"
	opAppend         = "chat.append"
	opReadTail       = "chat.read_tail"
	opEnforce        = "chat.enforce_retention"
	opImport         = "chat.import"
	opRepositoryLoad = "chat.repository.load"
)

// ServiceError carries a stable code alongside its classification and cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the classification sentinel and the underlying cause.
func (e *ServiceError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// Code returns the stable error code, e.g. "chat.append.missing_text".
func (e *ServiceError) Code() string {
	return e.code
}

func newValidationError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), kind: ErrValidation, err: cause}
}

func newUnavailableError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), kind: ErrStoreUnavailable, err: cause}
}

// IsValidationError reports whether err was caused by rejected input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStoreUnavailable reports whether err was caused by a persistence failure.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// ErrorCode extracts the ServiceError code from err, or returns an empty string.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
