package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapEngineError wraps an error as an EngineError if it isn't already one
func WrapEngineError(err error, code ErrorCode, chain, message string) *EngineError {
	if err == nil {
		return nil
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		engErr.Context["wrapped_message"] = message
		if chain != "" && engErr.Chain == "" {
			engErr.Chain = chain
		}
		return engErr
	}

	return New(code, chain, message, err)
}

// Is reports whether any error in err's chain matches target
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsCode checks if an error is an EngineError with the given code
func IsCode(err error, code ErrorCode) bool {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	return false
}
