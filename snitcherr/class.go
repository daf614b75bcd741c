package snitcherr

// Class groups error codes by how callers are expected to react.
type Class string

const (
	// ClassValidation covers caller mistakes detected before any I/O.
	ClassValidation Class = "validation"

	// ClassRun covers run snapshots that are skipped by the orchestrator.
	// These are expected outcomes and are reported at info level.
	ClassRun Class = "run"

	// ClassLock covers lock contention. The operation can be retried later.
	ClassLock Class = "lock"

	// ClassNotFound covers missing root entities.
	ClassNotFound Class = "not_found"

	// ClassUnknown is returned for codes this package does not define.
	ClassUnknown Class = "unknown"
)

var codeClasses = map[string]Class{
	CodeEnvironmentNotFound: ClassNotFound,
	CodeEnvironmentLocked:   ClassLock,
	CodeRunInvalidStatus:    ClassRun,
	CodeRunAlreadySynced:    ClassRun,
	CodeRunContainsOldData:  ClassRun,
	CodeInvalidLabel:        ClassValidation,
	CodeInvalidProperty:     ClassValidation,
	CodeInvalidOperator:     ClassValidation,
}

// ClassOf returns the class for code.
func ClassOf(code string) Class {
	if c, ok := codeClasses[code]; ok {
		return c
	}
	return ClassUnknown
}

// IsSkip reports whether err means a run should be skipped rather than
// marked as errored.
func IsSkip(err error) bool {
	return ClassOf(CodeOf(err)) == ClassRun
}

// IsRetryable reports whether err is transient contention that may succeed
// on a later attempt.
func IsRetryable(err error) bool {
	return ClassOf(CodeOf(err)) == ClassLock
}
