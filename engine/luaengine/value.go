package luaengine

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/native"
)

const (
	objectType = "embshell.object"
	errorType  = "embshell.error"
	undefType  = "embshell.undefined"
)

// installMetatables registers the metatables of host objects, raised
// host errors and the undefined sentinel.
func (b *Backend) installMetatables() {
	L := b.L

	obj := L.NewTypeMetatable(objectType)
	L.SetField(obj, "__index", L.NewFunction(b.objIndex))
	L.SetField(obj, "__newindex", L.NewFunction(b.objNewIndex))
	L.SetField(obj, "__len", L.NewFunction(b.objLen))
	L.SetField(obj, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		L.Push(lua.LString(native.Repr(ud.Value)))
		return 1
	}))

	errMT := L.NewTypeMetatable(errorType)
	L.SetField(errMT, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		msg := fmt.Sprint(ud.Value)
		if e, ok := ud.Value.(*errors.Error); ok {
			msg = e.Message()
		}
		L.Push(lua.LString(msg))
		return 1
	}))

	undefMT := L.NewTypeMetatable(undefType)
	L.SetField(undefMT, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(native.Undefined.String()))
		return 1
	}))
	b.undef = L.NewUserData()
	b.undef.Value = native.Undefined
	b.undef.Metatable = undefMT
}

// raise aborts the running chunk with err. The error travels as userdata
// so its classification survives to the adapter boundary.
func (b *Backend) raise(L *lua.LState, err error) {
	ud := L.NewUserData()
	ud.Value = err
	ud.Metatable = L.GetTypeMetatable(errorType)
	L.Error(ud, 1)
}

func (b *Backend) objIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	obj, ok := ud.Value.(native.Object)
	if !ok {
		b.raise(L, errors.TypeMismatch(errors.PhaseRuntime, nil, "object", native.TypeName(ud.Value)))
		return 0
	}

	var (
		v   any
		err error
	)
	switch key := L.Get(2).(type) {
	case lua.LNumber:
		seq, ok := obj.(native.Indexable)
		if !ok {
			b.raise(L, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
				Detail("'%s' object is not subscriptable", obj.TypeName()).
				Build())
			return 0
		}
		v, err = seq.Index(int(key) - 1)
	case lua.LString:
		v, err = obj.Attr(string(key))
	default:
		err = errors.TypeMismatch(errors.PhaseRuntime, []string{obj.TypeName()}, "string or number key", key.Type().String())
	}
	if err != nil {
		b.raise(L, err)
		return 0
	}

	if fn, ok := native.Normalize(v).(native.Callable); ok {
		L.Push(b.function(fn, ud))
		return 1
	}
	L.Push(b.toLua(v))
	return 1
}

func (b *Backend) objNewIndex(L *lua.LState) int {
	ud := L.CheckUserData(1)
	obj, ok := ud.Value.(native.Object)
	if !ok {
		b.raise(L, errors.TypeMismatch(errors.PhaseRuntime, nil, "object", native.TypeName(ud.Value)))
		return 0
	}

	val := b.toNeutral(L.Get(3))
	var err error
	switch key := L.Get(2).(type) {
	case lua.LNumber:
		seq, ok := obj.(native.Indexable)
		if !ok {
			err = errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
				Detail("'%s' object does not support item assignment", obj.TypeName()).
				Build()
			break
		}
		err = seq.SetIndex(int(key)-1, val)
	case lua.LString:
		err = obj.SetAttr(string(key), val)
	default:
		err = errors.TypeMismatch(errors.PhaseRuntime, []string{obj.TypeName()}, "string or number key", key.Type().String())
	}
	if err != nil {
		b.raise(L, err)
	}
	return 0
}

func (b *Backend) objLen(L *lua.LState) int {
	ud := L.CheckUserData(1)
	if seq, ok := ud.Value.(native.Indexable); ok {
		L.Push(lua.LNumber(seq.Len()))
		return 1
	}
	b.raise(L, errors.New(errors.PhaseRuntime, errors.KindTypeMismatch).
		Detail("object of type '%s' has no len()", native.TypeName(ud.Value)).
		Build())
	return 0
}

// function wraps a host callable. When self is set and the call passes it
// as the first argument (obj:method(...)), that argument is dropped.
func (b *Backend) function(fn native.Callable, self *lua.LUserData) *lua.LFunction {
	return b.L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		start := 1
		if self != nil && top >= 1 && L.Get(1) == self {
			start = 2
		}
		args := make([]any, 0, top)
		for i := start; i <= top; i++ {
			args = append(args, b.toNeutral(L.Get(i)))
		}

		out, err := fn.Call(b.context(), args, nil)
		if err != nil {
			b.raise(L, err)
			return 0
		}
		L.Push(b.toLua(out))
		return 1
	})
}

func (b *Backend) object(obj native.Object) *lua.LUserData {
	ud := b.L.NewUserData()
	ud.Value = obj
	ud.Metatable = b.L.GetTypeMetatable(objectType)
	return ud
}

// toLua converts a neutral host value. Guest values stored in a
// namespace by this backend come back unchanged.
func (b *Backend) toLua(v any) lua.LValue {
	switch x := native.Normalize(v).(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case int64:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []byte:
		return lua.LString(x)
	case []any:
		t := b.L.CreateTable(len(x), 0)
		for i, e := range x {
			t.RawSetInt(i+1, b.toLua(e))
		}
		return t
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := b.L.CreateTable(0, len(x))
		for _, k := range keys {
			t.RawSetString(k, b.toLua(x[k]))
		}
		return t
	case *native.Sentinel:
		if native.IsUndefined(x) {
			return b.undef
		}
		return lua.LString(x.String())
	case native.Callable:
		return b.function(x, nil)
	case native.Object:
		return b.object(x)
	}
	return lua.LString(fmt.Sprint(v))
}

// toNeutral converts a guest value for a host call. Integral numbers
// become int64; a table is a list when its keys are exactly 1..n.
func (b *Backend) toNeutral(v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return number(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		return b.table(x)
	case *lua.LUserData:
		if x == b.undef {
			return native.Undefined
		}
		return x.Value
	}
	return v
}

func number(n lua.LNumber) any {
	f := float64(n)
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

func (b *Backend) table(t *lua.LTable) any {
	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if count == n && n > 0 {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			out[i-1] = b.toNeutral(t.RawGetInt(i))
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kk := k.(type) {
		case lua.LString:
			key = string(kk)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kk), 'g', -1, 64)
		default:
			key = k.String()
		}
		out[key] = b.toNeutral(v)
	})
	return out
}

// toBinding converts a guest value for storage in a namespace. Tables and
// functions stay guest values so later units see the same object.
func (b *Backend) toBinding(v lua.LValue) any {
	switch v.(type) {
	case *lua.LTable, *lua.LFunction:
		return v
	}
	return b.toNeutral(v)
}
