package errs

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Sentinel errors for the billing core. Callers classify failures with
// errors.Is against these and the helpers below; wrapping is done with
// fmt.Errorf("...: %w", ...).
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrConflict             = errors.New("conflicting concurrent update")
	ErrUnauthenticatedEvent = errors.New("unauthenticated event")
	ErrStorage              = errors.New("storage failure")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Transitionf wraps ErrInvalidTransition with a formatted detail message.
func Transitionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidTransition}, args...)...)
}

// Storagef wraps ErrStorage around an underlying driver error. The driver
// error text is preserved for logs; callers match on ErrStorage.
func Storagef(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }

func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticatedEvent) }

// HTTPStatus maps a domain error to the HTTP status the facade reports.
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return fiber.StatusUnprocessableEntity
	case IsNotFound(err):
		return fiber.StatusNotFound
	case IsTransition(err), IsConflict(err):
		return fiber.StatusConflict
	case IsUnauthenticated(err):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
