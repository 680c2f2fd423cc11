package core

import "github.com/pkg/errors"

var (
	// ErrPermissionDenied is returned by services when the acting user is not allowed to perform an operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTooManyAttempts is returned when an action was attempted too many times.
	ErrTooManyAttempts = errors.New("too many attempts, please try again later")
	ErrInvalidImage    = errors.New("upload a valid image, the file you uploaded was either not an image or a corrupted image")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// NewFieldValidationError is a shortcut for a ValidationError on a single field.
func NewFieldValidationError(field string, err error) error {
	return NewValidationError(err, FieldError{Field: field, Error: err.Error()})
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
