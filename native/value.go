package native

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/embshell/overlay"
)

// Values crossing the host boundary use a small neutral set, independent
// of any guest engine:
//
//	nil, bool, int64, uint64, float64, string, []byte,
//	[]any, map[string]any, *Sentinel, Object, Callable
//
// Backends convert their own value types to and from this set.

// Sentinel is a distinguished singleton value.
type Sentinel struct {
	name string
}

func (s *Sentinel) String() string { return s.name }

// Undefined is bound to declared globals that were never assigned.
var Undefined = &Sentinel{name: "<UNDEF>"}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	s, ok := v.(*Sentinel)
	return ok && s == Undefined
}

// TypeName returns the guest-facing type name of a neutral value.
func TypeName(v any) string {
	switch x := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64, int, uint64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []byte:
		return "bytes"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	case *Sentinel:
		return "undefined"
	case Object:
		return x.TypeName()
	case Callable:
		return "function"
	}
	return fmt.Sprintf("%T", v)
}

// Normalize folds Go scalar types into the neutral set.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return fromUint(x)
	case float32:
		return float64(x)
	case *overlay.Struct:
		return WrapStruct(x)
	case *overlay.Array:
		return &ArrayObject{arr: x}
	case *overlay.ByteView:
		return WrapView(x)
	}
	return v
}

func fromUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// Number returns v as a float64 when it is numeric.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Repr renders a neutral value the way guest code would print it.
func Repr(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return strconv.Quote(x)
	case []byte:
		return "b'" + overlay.Escape(x) + "'"
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Repr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + Repr(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
