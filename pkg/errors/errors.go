package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so that clones of a predefined error compare equal to it.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// Validation errors: caller-correctable, no side effect performed.
	ErrInvalidVersionFormat     = New("INVALID_VERSION_FORMAT", http.StatusBadRequest, "invalid semantic version")
	ErrInvalidVersionRange      = New("INVALID_VERSION_RANGE", http.StatusBadRequest, "target version must be greater than source version")
	ErrInvalidRollbackDirection = New("INVALID_ROLLBACK_DIRECTION", http.StatusBadRequest, "rollback target must be lower than the current version")
	ErrVersionExists            = New("VERSION_EXISTS", http.StatusConflict, "version already released in this scope")

	// State errors: the entity's current state forbids the operation.
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "transition not allowed from current state")
	ErrNotApproved       = New("NOT_APPROVED", http.StatusConflict, "rollback plan is not approved")
	ErrUnsafeRollback    = New("UNSAFE_ROLLBACK", http.StatusConflict, "rollback blocked by failed safety checks")
	ErrAlreadyExecuted   = New("ALREADY_EXECUTED", http.StatusConflict, "rollback plan already executed")

	// Dependency errors: transient infrastructure failures.
	ErrStorageUnavailable   = New("STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, "artifact storage unavailable")
	ErrTelemetryUnavailable = New("TELEMETRY_UNAVAILABLE", http.StatusServiceUnavailable, "installation telemetry unavailable")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails returns a copy of err carrying the given key/value detail.
func WithDetails(err *Error, key string, value interface{}) *Error {
	clone := Clone(err, "")
	if clone == nil {
		return nil
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{})
	}
	clone.Details[key] = value
	return clone
}

// StateError builds a state error that carries the entity's current status so callers can resynchronise.
func StateError(err *Error, message string, currentStatus string) *Error {
	return WithDetails(Clone(err, message), "currentStatus", currentStatus)
}
