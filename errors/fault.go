package errors

import (
	stderrors "errors"
	"fmt"
	"io"
)

// Fault is the user-visible classification of a failure. Each fault maps
// to a fixed process exit code.
type Fault uint8

const (
	FaultNone Fault = iota
	FaultUnknownAction
	FaultSyntax
	FaultName
	FaultType
	FaultImport
	FaultArtifact
	FaultRuntime
)

// Exit codes are part of the command line contract and must not change.
const (
	ExitOK            = 0
	ExitUnknownAction = 1
	ExitSyntax        = 2
	ExitName          = 3
	ExitType          = 4
	ExitImport        = 5
	ExitArtifact      = 6
	ExitRuntime       = 7
)

var faultNames = [...]string{
	FaultNone:          "None",
	FaultUnknownAction: "UnknownActionFault",
	FaultSyntax:        "SyntaxFault",
	FaultName:          "NameFault",
	FaultType:          "TypeFault",
	FaultImport:        "ImportFault",
	FaultArtifact:      "ArtifactFault",
	FaultRuntime:       "RuntimeFault",
}

var faultExits = [...]int{
	FaultNone:          ExitOK,
	FaultUnknownAction: ExitUnknownAction,
	FaultSyntax:        ExitSyntax,
	FaultName:          ExitName,
	FaultType:          ExitType,
	FaultImport:        ExitImport,
	FaultArtifact:      ExitArtifact,
	FaultRuntime:       ExitRuntime,
}

func (f Fault) String() string {
	if int(f) < len(faultNames) {
		return faultNames[f]
	}
	return fmt.Sprintf("Fault(%d)", uint8(f))
}

// ExitCode returns the process exit code for the fault.
func (f Fault) ExitCode() int {
	if int(f) < len(faultExits) {
		return faultExits[f]
	}
	return ExitRuntime
}

// Marked reports whether the fault is one that the full interpreter
// follows with an extra ERROR line.
func (f Fault) Marked() bool {
	return f == FaultSyntax || f == FaultName
}

func faultOf(k Kind) Fault {
	switch k {
	case KindSyntax:
		return FaultSyntax
	case KindUndefined, KindNotFound:
		return FaultName
	case KindTypeMismatch, KindArity, KindFieldUnknown, KindReadOnly:
		return FaultType
	case KindImport:
		return FaultImport
	case KindUnknownAction:
		return FaultUnknownAction
	case KindArtifact, KindChecksum, KindVersion:
		return FaultArtifact
	default:
		return FaultRuntime
	}
}

// Classify maps any error to its fault. Errors that carry no structured
// classification are runtime faults; nil is FaultNone.
func Classify(err error) Fault {
	if err == nil {
		return FaultNone
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Fault()
	}
	return FaultRuntime
}

// ExitCode returns the exit code for err, 0 when err is nil.
func ExitCode(err error) int {
	return Classify(err).ExitCode()
}

// Report writes the stderr framing for err: one "<Fault>: <message>" line,
// followed by an "ERROR" line when marker is set and the fault is a
// syntax or name fault. It returns the fault written.
func Report(w io.Writer, err error, marker bool) Fault {
	f := Classify(err)
	if f == FaultNone {
		return f
	}

	msg := err.Error()
	var e *Error
	if stderrors.As(err, &e) {
		msg = e.Message()
	}
	fmt.Fprintf(w, "%s: %s\n", f, msg)

	if marker && f.Marked() {
		fmt.Fprintln(w, "ERROR")
	}
	return f
}
