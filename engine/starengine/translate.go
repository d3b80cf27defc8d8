package starengine

import (
	"context"
	stderrors "errors"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/wippyai/embshell/errors"
)

// typeMessages are Starlark runtime messages that mean an operand or
// argument of the wrong type or count.
var typeMessages = []string{
	"unknown binary op",
	"unknown unary op",
	"invalid call of non-function",
	"not iterable",
	"unhashable",
	"missing argument",
	"unexpected keyword",
	"takes exactly",
	"takes at most",
	"takes no arguments",
	"got multiple values",
	"for parameter",
	"can't assign to",
	"does not support",
	"not indexable",
	"has no len",
	"not implemented", // "string < int not implemented"
	"got ",            // "got string, want int"
}

// translate maps an engine error to the host taxonomy. Errors raised by
// native code keep their classification.
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var host *errors.Error
	if stderrors.As(err, &host) {
		return err
	}

	var serr syntax.Error
	if stderrors.As(err, &serr) {
		return errors.Syntax(serr.Error(), err)
	}

	var rerrs resolve.ErrorList
	if stderrors.As(err, &rerrs) && len(rerrs) > 0 {
		first := rerrs[0]
		if name, ok := strings.CutPrefix(first.Msg, "undefined: "); ok {
			name, _, _ = strings.Cut(name, " ")
			return errors.New(errors.PhaseCompile, errors.KindUndefined).
				Path(name).
				Value(name).
				Detail("name '%s' is not defined", name).
				Cause(err).
				Build()
		}
		return errors.Syntax(first.Pos.String()+": "+first.Msg, err)
	}

	msg := err.Error()
	var eerr *starlark.EvalError
	if stderrors.As(err, &eerr) {
		msg = eerr.Msg
	}

	if ctx.Err() != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindGuest, ctx.Err(), "execution cancelled")
	}

	kind := classify(msg)
	return errors.New(errors.PhaseRuntime, kind).
		Detail("%s", msg).
		Cause(err).
		Build()
}

func classify(msg string) errors.Kind {
	switch {
	case strings.Contains(msg, "too many steps"):
		return errors.KindBudget
	case strings.Contains(msg, "referenced before assignment"):
		return errors.KindUndefined
	case strings.Contains(msg, "field or method"):
		return errors.KindNotFound
	case strings.Contains(msg, "not found in module"):
		return errors.KindImport
	}
	for _, m := range typeMessages {
		if strings.Contains(msg, m) {
			return errors.KindTypeMismatch
		}
	}
	return errors.KindGuest
}
