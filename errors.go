package modwire

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Container errors
var (
	// Resolution errors
	ErrResolutionFailed   = errors.New("resolution failed")
	ErrSingletonCollision = errors.New("singleton collision")
	ErrDisabledTrigger    = errors.New("trigger disabled by resolver hook")
	ErrMissingRequirement = errors.New("missing requirement")
	ErrUnresolvedProvider = errors.New("wired provider did not resolve")

	// Lifecycle errors
	ErrStateChangeTimeout = errors.New("timed out waiting for state change lock")
	ErrLockTimeout        = errors.New("timed out waiting for lock")
	ErrInvariantViolation = errors.New("internal invariant violated")
	ErrDuplicateModule    = errors.New("module with the same symbolic name and version is already installed")
	ErrModuleUninstalled  = errors.New("module is uninstalled")
	ErrModuleNotResolved  = errors.New("module is not resolved")
	ErrFragmentLifecycle  = errors.New("fragments cannot be started or stopped")
	ErrSystemModule       = errors.New("operation not permitted on the system module")
	ErrActivatorFailed    = errors.New("module activator failed")
	ErrUnknownModule      = errors.New("module does not belong to this container")

	// Builder errors
	ErrInvalidFilter       = errors.New("invalid filter")
	ErrMissingSymbolicName = errors.New("symbolic name is required")

	// Queue errors
	ErrJobQueueFull    = errors.New("job queue is full")
	ErrContainerClosed = errors.New("container is closed")

	// Observer errors
	ErrObserverNil = errors.New("observer is nil")

	// Configuration errors
	ErrConfigNil                  = errors.New("config is nil")
	ErrConfigNotPointer           = errors.New("config must be a pointer")
	ErrConfigNotStruct            = errors.New("config must be a struct")
	ErrConfigRequiredFieldMissing = errors.New("required field is missing")
	ErrConfigValidationFailed     = errors.New("config validation failed")
	ErrUnsupportedTypeForDefault  = errors.New("unsupported type for default value")
	ErrDefaultValueParseError     = errors.New("failed to parse default value")
)

// errTimestampConflict signals that the store changed between snapshot and
// commit. It never leaves the package: callers retry instead.
var errTimestampConflict = errors.New("store timestamp changed since snapshot")

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or state
	ErrorInvalid
	// ErrorFatal represents unrecoverable internal errors
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ModuleError is returned by lifecycle operations on a single module.
type ModuleError struct {
	Class     ErrorClass
	Operation string
	Module    *Module
	Err       error
}

func newModuleError(class ErrorClass, op string, m *Module, err error) *ModuleError {
	return &ModuleError{Class: class, Operation: op, Module: m, Err: err}
}

// Error implements the error interface
func (e *ModuleError) Error() string {
	if e.Module == nil {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Module, e.Err)
}

// Unwrap returns the underlying error
func (e *ModuleError) Unwrap() error {
	return e.Err
}

// ResolutionError reports what could not be resolved and why. It is the only
// error a resolve or refresh call surfaces for an unsatisfiable request.
type ResolutionError struct {
	// Unresolved lists the revisions that could not be resolved.
	Unresolved []*Revision
	// Requirements holds, per unresolved revision, the requirements that had
	// no acceptable provider. It may be empty when the cause is a hook or a
	// singleton selection.
	Requirements map[*Revision][]*Requirement
	Err          error
}

// Error implements the error interface
func (e *ResolutionError) Error() string {
	revs := append([]*Revision(nil), e.Unresolved...)
	sort.Slice(revs, func(i, j int) bool { return revisionLess(revs[i], revs[j]) })

	parts := make([]string, 0, len(revs))
	for _, r := range revs {
		desc := r.String()
		if reqs := e.Requirements[r]; len(reqs) > 0 {
			missing := make([]string, len(reqs))
			for i, req := range reqs {
				missing[i] = req.String()
			}
			desc += " missing " + strings.Join(missing, ", ")
		}
		parts = append(parts, desc)
	}
	msg := ErrResolutionFailed.Error()
	if e.Err != nil && !errors.Is(e.Err, ErrResolutionFailed) {
		msg += ": " + e.Err.Error()
	}
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, "; ")
	}
	return msg
}

// Is makes every ResolutionError match ErrResolutionFailed.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolutionFailed
}

// Unwrap returns the underlying cause
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a lifecycle error that may succeed on retry.
func IsTransient(err error) bool {
	var me *ModuleError
	if errors.As(err, &me) {
		return me.Class == ErrorTransient
	}
	return errors.Is(err, ErrStateChangeTimeout) || errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrJobQueueFull)
}

// IsFatal reports whether err indicates corrupted internal state.
func IsFatal(err error) bool {
	var me *ModuleError
	if errors.As(err, &me) {
		return me.Class == ErrorFatal
	}
	return errors.Is(err, ErrInvariantViolation)
}

// IsInvalid reports whether err was caused by a bad request.
func IsInvalid(err error) bool {
	var me *ModuleError
	if errors.As(err, &me) {
		return me.Class == ErrorInvalid
	}
	return false
}
