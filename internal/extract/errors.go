package extract

import (
	"errors"
	"fmt"
)

const (
	CodeValidation        = "VALIDATION"
	CodeLaunch            = "LAUNCH_FAILED"
	CodeNavigationTimeout = "NAVIGATION_TIMEOUT"
	CodeNavigation        = "NAVIGATION_FAILED"
	CodeHarvestField      = "HARVEST_FIELD_FAILED"
	CodeUnhandled         = "UNHANDLED"
	CodeBusy              = "BUSY"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// Fatal reports whether err aborts an extraction. Navigation and field
// errors degrade data and are never fatal.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	var coded *CodedError
	if !errors.As(err, &coded) {
		return true
	}
	switch coded.Code {
	case CodeNavigation, CodeNavigationTimeout, CodeHarvestField:
		return false
	default:
		return true
	}
}
