package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile  Phase = "compile"  // guest source to executable unit
	PhaseImport   Phase = "import"   // module resolution
	PhaseRuntime  Phase = "runtime"  // guest execution
	PhaseHost     Phase = "host"     // host function binding and calls
	PhaseMemory   Phase = "memory"   // arena and overlay access
	PhaseArtifact Phase = "artifact" // frozen unit encode/decode
	PhaseShell    Phase = "shell"    // input and meta-command dispatch
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindSyntax        Kind = "syntax"
	KindUndefined     Kind = "undefined"
	KindTypeMismatch  Kind = "type_mismatch"
	KindArity         Kind = "arity"
	KindImport        Kind = "import"
	KindUnknownAction Kind = "unknown_action"
	KindArtifact      Kind = "artifact"
	KindChecksum      Kind = "checksum"
	KindVersion       Kind = "version"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindAllocation    Kind = "allocation"
	KindFieldUnknown  Kind = "field_unknown"
	KindReadOnly      Kind = "read_only"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindUnsupported   Kind = "unsupported"
	KindRegistration  Kind = "registration"
	KindBudget        Kind = "budget"
	KindGuest         Kind = "guest"
)

// Error is the structured error type used throughout the host
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the text shown to script authors: the detail when
// present, otherwise the full structured form.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fault returns the user-visible fault class of the error.
func (e *Error) Fault() Fault {
	return faultOf(e.Kind)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Syntax creates a compile error for malformed guest source
func Syntax(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindSyntax,
		Detail: detail,
		Cause:  cause,
	}
}

// Undefined creates an unresolved identifier error
func Undefined(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUndefined,
		Path:   []string{name},
		Detail: fmt.Sprintf("name '%s' is not defined", name),
		Value:  name,
	}
}

// TypeMismatch creates an argument or operand type error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// ImportNotFound creates an unresolved module error
func ImportNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseImport,
		Kind:   KindImport,
		Path:   []string{name},
		Detail: fmt.Sprintf("no module named '%s'", name),
		Value:  name,
	}
}

// UnknownAction creates an unrecognized meta-command error
func UnknownAction(action string) *Error {
	return &Error{
		Phase:  PhaseShell,
		Kind:   KindUnknownAction,
		Detail: fmt.Sprintf("unknown action '%s'", action),
		Value:  action,
	}
}

// Artifact creates a frozen unit format error
func Artifact(kind Kind, detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseArtifact,
		Kind:   kind,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of range (length %d)", index, length),
		Value:  index,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size, align uint32) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// FieldUnknown creates an unknown attribute error on a closed object
func FieldUnknown(phase Phase, typeName, field string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldUnknown,
		Path:   []string{typeName, field},
		Detail: fmt.Sprintf("'%s' object has no attribute '%s'", typeName, field),
	}
}

// ReadOnly creates an error for assignment to a read-only attribute
func ReadOnly(phase Phase, typeName, field string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindReadOnly,
		Path:   []string{typeName, field},
		Detail: fmt.Sprintf("'%s' attribute '%s' is read-only", typeName, field),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Guest wraps a runtime failure raised by guest code itself
func Guest(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindGuest,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
