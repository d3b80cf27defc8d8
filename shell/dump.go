package shell

import (
	"fmt"
	"io"

	"github.com/wippyai/embshell/native"
)

// DumpHeader starts the globals dump.
const DumpHeader = "globals:"

// Dump writes every pre-declared global once, in declaration order.
// Numbers print with two decimals; unassigned names print the undefined
// token.
func (s *Session) Dump(w io.Writer) {
	fmt.Fprintln(w, DumpHeader)
	for _, name := range s.declared {
		v, ok := s.ns.Get(name)
		if !ok {
			v = native.Undefined
		}
		fmt.Fprintf(w, "%s = %s\n", name, FormatValue(v))
	}
}

// FormatValue renders a namespace value for the dump.
func FormatValue(v any) string {
	if native.IsUndefined(v) {
		return native.Undefined.String()
	}
	if f, ok := native.Number(native.Normalize(v)); ok {
		return fmt.Sprintf("%.2f", f)
	}
	return native.Repr(v)
}
