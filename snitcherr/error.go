// Package snitcherr provides the structured error type shared by the graph
// engine, the mutators and the run orchestrator.
//
// Every error carries a stable code. Sentinel values exist for each code so
// callers can branch with errors.Is without inspecting messages:
//
//	if errors.Is(err, snitcherr.ErrEnvironmentLocked) {
//	    // another process holds the environment
//	}
package snitcherr

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes.
const (
	// CodeEnvironmentNotFound indicates the root entity does not exist.
	CodeEnvironmentNotFound = "ENVIRONMENT_NOT_FOUND"

	// CodeEnvironmentLocked indicates another holder owns the environment lock.
	CodeEnvironmentLocked = "ENVIRONMENT_LOCKED"

	// CodeRunInvalidStatus indicates a run snapshot is not in a loadable state.
	CodeRunInvalidStatus = "RUN_INVALID_STATUS"

	// CodeRunAlreadySynced indicates the run was already applied.
	CodeRunAlreadySynced = "RUN_ALREADY_SYNCED"

	// CodeRunContainsOldData indicates the run completed at or before the
	// environment's last update.
	CodeRunContainsOldData = "RUN_CONTAINS_OLD_DATA"

	// CodeInvalidLabel indicates an entity type unknown to the schema.
	CodeInvalidLabel = "INVALID_LABEL"

	// CodeInvalidProperty indicates a property not declared on its entity type.
	CodeInvalidProperty = "INVALID_PROPERTY"

	// CodeInvalidOperator indicates an unsupported filter operator.
	CodeInvalidOperator = "INVALID_OPERATOR"
)

// Error is a structured error for graph, mutation and sync operations.
type Error struct {
	// Op is the operation that failed, e.g. "prune" or "query.filter".
	Op string

	// Code is one of the Code* constants.
	Code string

	// Message is a human-readable description.
	Message string

	// Details holds additional context such as the offending label.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates an error with the given operation, code and message.
func New(op, code, message string) *Error {
	return &Error{
		Op:      op,
		Code:    code,
		Message: message,
	}
}

// WithCause sets the underlying error and returns e for chaining.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails merges details into e and returns e for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// Error formats the error as "op [code]: message: cause".
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("%s [%s]", e.Op, e.Code))
	} else {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
// The operation is ignored so sentinels match errors from any call site.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Class returns the classification of e's code.
func (e *Error) Class() Class {
	return ClassOf(e.Code)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Sentinels, one per code, for use with errors.Is.
var (
	ErrEnvironmentNotFound = &Error{Code: CodeEnvironmentNotFound, Message: "environment not found"}
	ErrEnvironmentLocked   = &Error{Code: CodeEnvironmentLocked, Message: "environment locked"}
	ErrRunInvalidStatus    = &Error{Code: CodeRunInvalidStatus, Message: "run has invalid status"}
	ErrRunAlreadySynced    = &Error{Code: CodeRunAlreadySynced, Message: "run already synced"}
	ErrRunContainsOldData  = &Error{Code: CodeRunContainsOldData, Message: "run contains old data"}
	ErrInvalidLabel        = &Error{Code: CodeInvalidLabel, Message: "invalid label"}
	ErrInvalidProperty     = &Error{Code: CodeInvalidProperty, Message: "invalid property"}
	ErrInvalidOperator     = &Error{Code: CodeInvalidOperator, Message: "invalid operator"}
)

// EnvironmentNotFound returns an error for a missing root entity.
func EnvironmentNotFound(op, account, name string) *Error {
	return New(op, CodeEnvironmentNotFound, fmt.Sprintf("environment %s-%s not found", account, name)).
		WithDetails(map[string]any{"account_number": account, "name": name})
}

// EnvironmentLocked returns an error for an environment held by someone else.
func EnvironmentLocked(op, account, name string) *Error {
	return New(op, CodeEnvironmentLocked, fmt.Sprintf("environment %s-%s is locked", account, name)).
		WithDetails(map[string]any{"account_number": account, "name": name})
}

// InvalidLabel returns an error for an entity type the schema does not know.
func InvalidLabel(op, label string) *Error {
	return New(op, CodeInvalidLabel, fmt.Sprintf("unknown label %q", label)).
		WithDetails(map[string]any{"label": label})
}

// InvalidProperty returns an error for a property not declared on label.
func InvalidProperty(op, label, property string) *Error {
	return New(op, CodeInvalidProperty, fmt.Sprintf("label %q has no property %q", label, property)).
		WithDetails(map[string]any{"label": label, "property": property})
}

// InvalidOperator returns an error for an unsupported filter operator.
func InvalidOperator(op, operator string) *Error {
	return New(op, CodeInvalidOperator, fmt.Sprintf("unsupported operator %q", operator)).
		WithDetails(map[string]any{"operator": operator})
}

// RunInvalidStatus returns an error for a run that cannot make the
// requested transition.
func RunInvalidStatus(op, path, status string) *Error {
	return New(op, CodeRunInvalidStatus, fmt.Sprintf("run %s has status %q", path, status)).
		WithDetails(map[string]any{"path": path, "status": status})
}

// RunAlreadySynced returns an error for a run that was already applied.
func RunAlreadySynced(op, path string) *Error {
	return New(op, CodeRunAlreadySynced, fmt.Sprintf("run %s was already synced", path)).
		WithDetails(map[string]any{"path": path})
}

// RunContainsOldData returns an error for a run completed at or before the
// environment's last update. Both times are epoch milliseconds.
func RunContainsOldData(op, path string, completed, lastUpdate int64) *Error {
	return New(op, CodeRunContainsOldData,
		fmt.Sprintf("run %s completed at %d, not after last update %d", path, completed, lastUpdate)).
		WithDetails(map[string]any{"path": path, "completed": completed, "last_update": lastUpdate})
}
