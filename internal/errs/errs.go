// Package errs provides the five error kinds of the control plane and a
// small OperationError type callers use to carry one.
package errs

import "fmt"

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	// Validation: bad input size, wrong language code, empty text — rejected
	// at ingress, never reaches the state machine.
	Validation Kind = "validation"
	// Transient: coordinator unreachable, blob 5xx, executor timeout — logged,
	// not retried inline, picked up again next cycle.
	Transient Kind = "transient"
	// DataQuality: empty/implausible input, missing required response field —
	// surfaced as a first-class "broken" completion, not an error.
	DataQuality Kind = "data_quality"
	// Contract: unknown task_type, unknown worker_id, duplicate terminal
	// transition — logged, operation no-ops, state preserved.
	Contract Kind = "contract"
	// Fatal: corrupt persisted state, misconfiguration, unusable identity —
	// abort the process.
	Fatal Kind = "fatal"
)

// OperationError carries a Kind alongside the operation/component/resource
// context that produced it.
type OperationError struct {
	Kind      Kind
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("failed to %s, component: %s, resource: %s, cause: %v", e.Operation, e.Component, e.Resource, e.Cause)
	}
	return fmt.Sprintf("failed to %s, component: %s, cause: %v", e.Operation, e.Component, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo constructs an OperationError of the given kind.
func FailedTo(kind Kind, component, operation, resource string, cause error) *OperationError {
	return &OperationError{
		Kind:      kind,
		Operation: operation,
		Component: component,
		Resource:  resource,
		Cause:     cause,
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *OperationError; the zero Kind ("") is returned otherwise.
func KindOf(err error) Kind {
	var opErr *OperationError
	for err != nil {
		if oe, ok := err.(*OperationError); ok {
			opErr = oe
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if opErr == nil {
		return ""
	}
	return opErr.Kind
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
