package luaengine

import (
	stderrors "errors"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/embshell/errors"
)

// typeMessages are gopher-lua runtime messages about operand types.
var typeMessages = []string{
	"attempt to perform arithmetic",
	"attempt to call",
	"attempt to index",
	"attempt to concatenate",
	"attempt to compare",
	"attempt to get length",
	"cannot perform",
	"operation between",
	"__len undefined",
	"bad argument",
	"expected, got",
}

// translate maps an engine error to the host taxonomy. Host errors raised
// through raise are unwrapped from their userdata.
func (b *Backend) translate(err error) error {
	if err == nil {
		return nil
	}

	var host *errors.Error
	if stderrors.As(err, &host) {
		return err
	}

	var api *lua.ApiError
	if !stderrors.As(err, &api) {
		return errors.Guest(err.Error(), err)
	}

	if ud, ok := api.Object.(*lua.LUserData); ok {
		if herr, ok := ud.Value.(error); ok {
			return herr
		}
	}

	if b.ctx.Err() != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindGuest, b.ctx.Err(), "execution cancelled")
	}

	msg := api.Object.String()
	switch api.Type {
	case lua.ApiErrorSyntax:
		if api.Cause != nil {
			msg = api.Cause.Error()
		}
		return errors.Syntax(strings.TrimSpace(msg), err)
	case lua.ApiErrorFile:
		return errors.Wrap(errors.PhaseImport, errors.KindImport, err, msg)
	}

	for _, m := range typeMessages {
		if strings.Contains(msg, m) {
			return errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
				Detail("%s", msg).
				Cause(err).
				Build()
		}
	}
	return errors.Guest(msg, err)
}
