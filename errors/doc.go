// Package errors provides structured error types for the embshell host.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: attribute path, Go type name, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseHost, errors.KindTypeMismatch).
//		Path("example", "double").
//		GoType("int64").
//		Detail("can't convert str to int").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Undefined(errors.PhaseRuntime, "foo")
//	err := errors.OutOfBounds(errors.PhaseMemory, path, 10, 5)
//
// Every Kind maps onto one user-visible Fault, and every Fault onto a fixed
// process exit code. Classify and Report turn any error into that framing:
//
//	SyntaxFault, NameFault, TypeFault, ImportFault,
//	UnknownActionFault, ArtifactFault, RuntimeFault
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
