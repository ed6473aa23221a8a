// Package bootstrap defines the unit-of-work contract and the phase plan for
// a project bootstrap run. Units are declared statically through the Builder;
// there is no filesystem discovery.
package bootstrap

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a bootstrap error for propagation policy.
type ErrorClass string

const (
	// ErrorClassStorage indicates the state store or checkpoint could not be
	// read or written. Fatal: without durable state, correctness cannot be
	// guaranteed and the run must abort.
	ErrorClassStorage ErrorClass = "storage"

	// ErrorClassExecution indicates a unit of work failed. Halts the run at
	// the failing unit; never retried by the orchestrator.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassInstall indicates package installation or verification
	// failed after the retry wrapper exhausted its attempts.
	ErrorClassInstall ErrorClass = "install"

	// ErrorClassConfig indicates invalid configuration or plan declaration.
	ErrorClassConfig ErrorClass = "config"
)

// Error is a classified bootstrap error with phase and unit context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Phase is the phase being executed when the error occurred.
	Phase string `json:"phase,omitempty"`

	// Unit is the unit of work that caused the error, if applicable.
	Unit string `json:"unit,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Unit != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s (unit=%s): %v", e.Class, e.Message, e.Unit, e.Err)
	case e.Unit != "":
		return fmt.Sprintf("[%s] %s (unit=%s)", e.Class, e.Message, e.Unit)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStorageError creates a fatal storage error.
func NewStorageError(message string, err error) *Error {
	return &Error{Class: ErrorClassStorage, Message: message, Err: err}
}

// NewExecutionError creates a unit execution error.
func NewExecutionError(message string, err error) *Error {
	return &Error{Class: ErrorClassExecution, Message: message, Err: err}
}

// NewInstallError creates a package installation error.
func NewInstallError(message string, err error) *Error {
	return &Error{Class: ErrorClassInstall, Message: message, Err: err}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, err error) *Error {
	return &Error{Class: ErrorClassConfig, Message: message, Err: err}
}

// WithPhase adds phase context to the error.
func (e *Error) WithPhase(phaseID string) *Error {
	e.Phase = phaseID
	return e
}

// WithUnit adds unit context to the error.
func (e *Error) WithUnit(unitID string) *Error {
	e.Unit = unitID
	return e
}

// IsStorage returns true if the error is classified as a storage error.
func IsStorage(err error) bool {
	return classOf(err) == ErrorClassStorage
}

// IsExecution returns true if the error is classified as an execution error.
func IsExecution(err error) bool {
	return classOf(err) == ErrorClassExecution
}

// IsInstall returns true if the error is classified as an install error.
func IsInstall(err error) bool {
	return classOf(err) == ErrorClassInstall
}

// IsConfig returns true if the error is classified as a config error.
func IsConfig(err error) bool {
	return classOf(err) == ErrorClassConfig
}

func classOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
