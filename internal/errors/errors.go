// Package errors provides the error taxonomy for the foreman coordinator and
// progress monitor. It defines sentinel errors, typed errors that carry the
// identifiers involved, and classification helpers.
//
// # Error Categories
//
//   - Not found: WorkerNotFoundError, WorkOrderNotFoundError. The caller passed
//     an unknown identifier. Never retried internally.
//   - State conflict: WorkerNotAvailableError. The identifier is valid but the
//     worker is in the wrong state.
//   - Coordination: LockTimeoutError, LockError. Raised only from
//     lock-protected operations; retryable at the caller's discretion.
//   - Persistence: ControllerStatePersistenceError. Wraps storage failures on
//     save/load; the in-memory state remains authoritative.
//   - Monitor lifecycle: AlreadyRunningError, NotRunningError.
//
// # Usage
//
//	err := coord.AssignWork("worker-9", order)
//	if errors.Is(err, errors.ErrWorkerNotFound) { ... }
//
//	var busy *errors.WorkerNotAvailableError
//	if errors.As(err, &busy) {
//	    log.Printf("worker %s is %s", busy.WorkerID, busy.Status)
//	}
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Coordinator sentinel errors
var (
	// ErrWorkerNotFound indicates an unknown worker ID.
	ErrWorkerNotFound = New("worker not found")
	// ErrWorkerNotAvailable indicates the worker is not idle.
	ErrWorkerNotAvailable = New("worker not available")
	// ErrWorkOrderNotFound indicates an unknown work order ID.
	ErrWorkOrderNotFound = New("work order not found")
)

// Coordination sentinel errors
var (
	// ErrLockTimeout indicates a lock could not be acquired in time.
	ErrLockTimeout = New("lock acquisition timed out")
	// ErrLockNotHeld indicates the presented token no longer owns the lock.
	ErrLockNotHeld = New("lock not held")
	// ErrLockBackend indicates the lock backend could not be reached.
	ErrLockBackend = New("lock backend failure")
)

// Persistence sentinel errors
var (
	// ErrPersistence indicates a storage read or write failed.
	ErrPersistence = New("persistence failure")
)

// Monitor sentinel errors
var (
	// ErrAlreadyRunning indicates Start was called on a running monitor.
	ErrAlreadyRunning = New("monitor already running")
	// ErrNotRunning indicates Stop was called on a stopped monitor.
	ErrNotRunning = New("monitor not running")
)

// ErrInvalidConfig indicates that configuration validation failed.
var ErrInvalidConfig = New("invalid configuration")

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ForemanError is the interface shared by all typed errors in this package.
type ForemanError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error        { return e.cause }
func (e *baseError) Severity() Severity   { return e.severity }
func (e *baseError) IsRetryable() bool    { return e.retryable }
func (e *baseError) IsUserFacing() bool   { return e.userFacing }
func (e *baseError) causeIs(t error) bool { return e.cause != nil && errors.Is(e.cause, t) }

// -----------------------------------------------------------------------------
// Not Found Errors
// -----------------------------------------------------------------------------

// WorkerNotFoundError is returned when an operation names a worker that is
// not part of the pool.
type WorkerNotFoundError struct {
	baseError
	WorkerID string
}

// NewWorkerNotFoundError creates a WorkerNotFoundError.
func NewWorkerNotFoundError(workerID string) *WorkerNotFoundError {
	return &WorkerNotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("worker '%s' not found", workerID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		WorkerID: workerID,
	}
}

// Is checks if this error matches the target.
func (e *WorkerNotFoundError) Is(target error) bool {
	if _, ok := target.(*WorkerNotFoundError); ok {
		return true
	}
	return target == ErrWorkerNotFound || e.causeIs(target)
}

// WorkOrderNotFoundError is returned when an order ID is unknown.
type WorkOrderNotFoundError struct {
	baseError
	OrderID string
}

// NewWorkOrderNotFoundError creates a WorkOrderNotFoundError.
func NewWorkOrderNotFoundError(orderID string) *WorkOrderNotFoundError {
	return &WorkOrderNotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("work order '%s' not found", orderID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		OrderID: orderID,
	}
}

// Is checks if this error matches the target.
func (e *WorkOrderNotFoundError) Is(target error) bool {
	if _, ok := target.(*WorkOrderNotFoundError); ok {
		return true
	}
	return target == ErrWorkOrderNotFound || e.causeIs(target)
}

// -----------------------------------------------------------------------------
// State Conflict Errors
// -----------------------------------------------------------------------------

// WorkerNotAvailableError is returned when a worker exists but is not in
// the state the operation requires.
//
// Example:
//
//	err := errors.NewWorkerNotAvailableError("worker-1", "working")
//	fmt.Println(err) // "worker 'worker-1' not available (status: working)"
type WorkerNotAvailableError struct {
	baseError
	WorkerID string
	Status   string
}

// NewWorkerNotAvailableError creates a WorkerNotAvailableError.
func NewWorkerNotAvailableError(workerID, status string) *WorkerNotAvailableError {
	return &WorkerNotAvailableError{
		baseError: baseError{
			message:    fmt.Sprintf("worker '%s' not available (status: %s)", workerID, status),
			severity:   SeverityWarning,
			userFacing: true,
		},
		WorkerID: workerID,
		Status:   status,
	}
}

// Is checks if this error matches the target.
func (e *WorkerNotAvailableError) Is(target error) bool {
	if _, ok := target.(*WorkerNotAvailableError); ok {
		return true
	}
	return target == ErrWorkerNotAvailable || e.causeIs(target)
}

// -----------------------------------------------------------------------------
// Coordination Errors
// -----------------------------------------------------------------------------

// LockTimeoutError is returned when a distributed lock could not be acquired
// before the configured timeout elapsed.
type LockTimeoutError struct {
	baseError
	LockName string
	Timeout  time.Duration
	Attempts int
}

// NewLockTimeoutError creates a LockTimeoutError.
func NewLockTimeoutError(lockName string, timeout time.Duration, attempts int) *LockTimeoutError {
	return &LockTimeoutError{
		baseError: baseError{
			message:    fmt.Sprintf("could not acquire lock '%s' within %s after %d attempts", lockName, timeout, attempts),
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		LockName: lockName,
		Timeout:  timeout,
		Attempts: attempts,
	}
}

// WithCause adds a cause to the error.
func (e *LockTimeoutError) WithCause(cause error) *LockTimeoutError {
	e.cause = cause
	return e
}

// Is checks if this error matches the target.
func (e *LockTimeoutError) Is(target error) bool {
	if _, ok := target.(*LockTimeoutError); ok {
		return true
	}
	return target == ErrLockTimeout || e.causeIs(target)
}

// LockError wraps failures talking to the lock backend.
type LockError struct {
	baseError
	LockName string
	Op       string
}

// NewLockError creates a LockError for the given operation.
func NewLockError(lockName, op string, cause error) *LockError {
	return &LockError{
		baseError: baseError{
			message:   "lock backend error",
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
		LockName: lockName,
		Op:       op,
	}
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	prefix := fmt.Sprintf("lock error [lock=%s, op=%s]", e.LockName, e.Op)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if _, ok := target.(*LockError); ok {
		return true
	}
	return target == ErrLockBackend || e.causeIs(target)
}

// -----------------------------------------------------------------------------
// Persistence Errors
// -----------------------------------------------------------------------------

// ControllerStatePersistenceError wraps a storage failure while saving or
// loading coordinator state or work orders.
//
// Example:
//
//	err := errors.NewPersistenceError("proj-1", "save", ioErr)
//	fmt.Println(err) // "persistence error [project=proj-1, op=save]: disk full"
type ControllerStatePersistenceError struct {
	baseError
	ProjectID string
	Op        string
}

// NewPersistenceError creates a ControllerStatePersistenceError.
func NewPersistenceError(projectID, op string, cause error) *ControllerStatePersistenceError {
	return &ControllerStatePersistenceError{
		baseError: baseError{
			message:  "persistence failure",
			cause:    cause,
			severity: SeverityError,
		},
		ProjectID: projectID,
		Op:        op,
	}
}

// Error returns the formatted error message.
func (e *ControllerStatePersistenceError) Error() string {
	var parts []string
	if e.ProjectID != "" {
		parts = append(parts, fmt.Sprintf("project=%s", e.ProjectID))
	}
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	prefix := "persistence error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("persistence error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Is checks if this error matches the target.
func (e *ControllerStatePersistenceError) Is(target error) bool {
	if _, ok := target.(*ControllerStatePersistenceError); ok {
		return true
	}
	return target == ErrPersistence || e.causeIs(target)
}

// -----------------------------------------------------------------------------
// Monitor Lifecycle Errors
// -----------------------------------------------------------------------------

// AlreadyRunningError is returned by Start on a running monitor.
type AlreadyRunningError struct {
	baseError
	Component string
}

// NewAlreadyRunningError creates an AlreadyRunningError.
func NewAlreadyRunningError(component string) *AlreadyRunningError {
	return &AlreadyRunningError{
		baseError: baseError{
			message:  fmt.Sprintf("%s is already running", component),
			severity: SeverityError,
		},
		Component: component,
	}
}

// Is checks if this error matches the target.
func (e *AlreadyRunningError) Is(target error) bool {
	if _, ok := target.(*AlreadyRunningError); ok {
		return true
	}
	return target == ErrAlreadyRunning
}

// NotRunningError is returned by Stop on a stopped monitor.
type NotRunningError struct {
	baseError
	Component string
}

// NewNotRunningError creates a NotRunningError.
func NewNotRunningError(component string) *NotRunningError {
	return &NotRunningError{
		baseError: baseError{
			message:  fmt.Sprintf("%s is not running", component),
			severity: SeverityError,
		},
		Component: component,
	}
}

// Is checks if this error matches the target.
func (e *NotRunningError) Is(target error) bool {
	if _, ok := target.(*NotRunningError); ok {
		return true
	}
	return target == ErrNotRunning
}

// -----------------------------------------------------------------------------
// Validation Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidConfig
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Only coordination errors are retryable; the
// coordinator never retries them itself.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe ForemanError
	if As(err, &fe) {
		return fe.IsRetryable()
	}
	return Is(err, ErrLockTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var fe ForemanError
	if As(err, &fe) {
		return fe.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ForemanError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var fe ForemanError
	if As(err, &fe) {
		return fe.Severity()
	}
	return SeverityError
}

// IsNotFound reports whether err is a worker or work order not-found error.
func IsNotFound(err error) bool {
	return Is(err, ErrWorkerNotFound) || Is(err, ErrWorkOrderNotFound)
}

// IsStateConflict reports whether err signals a valid identifier in the wrong state.
func IsStateConflict(err error) bool {
	return Is(err, ErrWorkerNotAvailable)
}

// IsCoordination reports whether err came from the distributed lock layer.
func IsCoordination(err error) bool {
	return Is(err, ErrLockTimeout) || Is(err, ErrLockBackend) || Is(err, ErrLockNotHeld)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
