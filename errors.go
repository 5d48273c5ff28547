package entitygraph

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// Data errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrConflict          = errors.New("concurrent modification detected")
	ErrSerialisation     = errors.New("entity serialisation failed")
	ErrAutoIncrementUnsupported = errors.New("id type does not support auto-increment")

	// Relation and deletion errors
	ErrInvalidRelation    = errors.New("invalid relation reference")
	ErrUnknownStore       = errors.New("referenced store is not registered")
	ErrDeletionBlocked    = errors.New("deletion blocked by a protected reference")
	ErrRegistrationConflict = errors.New("family already registered with conflicting descriptor")

	// Engine errors
	ErrKeyEngine     = errors.New("key engine failure")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrTimeout       = errors.New("operation timed out")

	// Lock errors
	ErrLockHeld    = errors.New("lock already held by another process")
	ErrLockTimeout = errors.New("failed to acquire lock within timeout")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DeletionBlockedError carries the specific store, key, and reason a
// deletion plan aborted on, so callers can report precisely what
// protected reference stood in the way.
type DeletionBlockedError struct {
	Store  string
	Key    string
	Reason string
}

func (e *DeletionBlockedError) Error() string {
	return fmt.Sprintf("deletion blocked: %s/%s: %s", e.Store, e.Key, e.Reason)
}

func (e *DeletionBlockedError) Unwrap() error {
	return ErrDeletionBlocked
}

// ErrorWithContext adds structured context to an error for logging.
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext wraps err with additional key/value context.
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{Err: err, Context: context}
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBlocked reports whether err is (or wraps) a deletion-blocked error.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrDeletionBlocked)
}

// IsInvalidRelation reports whether err is (or wraps) ErrInvalidRelation.
func IsInvalidRelation(err error) bool {
	return errors.Is(err, ErrInvalidRelation)
}

// IsRetryable reports whether an error is safe to retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrLockTimeout)
}

// IsPermanent reports whether an error is permanent and should not be
// retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSerialisation) ||
		errors.Is(err, ErrInvalidRelation) ||
		errors.Is(err, ErrInvalidConfig)
}
