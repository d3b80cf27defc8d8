package native

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode"

	"github.com/wippyai/embshell/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
	bytesType   = reflect.TypeOf([]byte(nil))
)

// Func is a Go function callable from guest code. Arguments are converted
// from neutral values to the function's parameter types by reflection.
type Func struct {
	fn     reflect.Value
	typ    reflect.Type
	self   any
	name   string
	hasCtx bool
	bound  bool
}

// NewFunc wraps fn, which must be a function. An optional leading
// context.Context parameter receives the call context. Results may be
// (), (T), (error) or (T, error).
func NewFunc(name string, fn any) (*Func, error) {
	if name == "" {
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("function name cannot be empty").
			Build()
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(fmt.Sprintf("%T", fn)).
			Detail("handler must be a function").
			Build()
	}
	rt := rv.Type()

	switch rt.NumOut() {
	case 0:
	case 1:
	case 2:
		if rt.Out(1) != errorType {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				GoType(rt.String()).
				Detail("second result must be error").
				Build()
		}
	default:
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(rt.String()).
			Detail("handler returns more than two results").
			Build()
	}

	return &Func{
		fn:     rv,
		typ:    rt,
		name:   name,
		hasCtx: rt.NumIn() > 0 && rt.In(0) == contextType,
	}, nil
}

// MustFunc is NewFunc for handlers fixed at compile time.
func MustFunc(name string, fn any) *Func {
	f, err := NewFunc(name, fn)
	if err != nil {
		panic(err)
	}
	return f
}

// Name returns the guest-visible function name.
func (f *Func) Name() string { return f.name }

// Bind returns a copy of f whose first parameter is fixed to self.
func (f *Func) Bind(self any) *Func {
	b := *f
	b.self = self
	b.bound = true
	return &b
}

// Call converts args, invokes the function and normalizes its result.
// A panic in the handler is returned as a runtime error.
func (f *Func) Call(ctx context.Context, args []any, kwargs []KV) (result any, err error) {
	if len(kwargs) > 0 {
		return nil, errors.New(errors.PhaseHost, errors.KindArity).
			Path(f.name).
			Detail("%s() got an unexpected keyword argument '%s'", f.name, kwargs[0].Name).
			Build()
	}

	in, err := f.convertArgs(ctx, args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseHost, errors.KindGuest).
				Path(f.name).
				Detail("%s() panicked: %v", f.name, r).
				Build()
		}
	}()

	Logger().Sugar().Debugf("call %s(%d args)", f.name, len(args))
	out := f.fn.Call(in)
	return f.convertResults(out)
}

func (f *Func) convertArgs(ctx context.Context, args []any) ([]reflect.Value, error) {
	params := f.typ.NumIn()
	first := 0
	in := make([]reflect.Value, 0, params)

	if f.hasCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
		first++
	}
	if f.bound {
		if first >= params {
			return nil, errors.New(errors.PhaseHost, errors.KindArity).
				Path(f.name).
				Detail("method %s() takes no receiver", f.name).
				Build()
		}
		v, err := convertArg(f.self, f.typ.In(first))
		if err == errMismatch {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Path(f.name).
				Detail("method %s() requires a %s receiver, not %s", f.name, guestTypeOf(f.typ.In(first)), TypeName(f.self)).
				Build()
		}
		if err != nil {
			return nil, err
		}
		in = append(in, v)
		first++
	}

	fixed := params - first
	variadic := f.typ.IsVariadic()
	if variadic {
		fixed--
	}
	if len(args) < fixed || (!variadic && len(args) > fixed) {
		want := fmt.Sprintf("%d", fixed)
		if variadic {
			want = fmt.Sprintf("at least %d", fixed)
		}
		return nil, errors.New(errors.PhaseHost, errors.KindArity).
			Path(f.name).
			Value(len(args)).
			Detail("%s() takes %s positional arguments but %d were given", f.name, want, len(args)).
			Build()
	}

	for i, a := range args {
		var pt reflect.Type
		if variadic && i >= fixed {
			pt = f.typ.In(params - 1).Elem()
		} else {
			pt = f.typ.In(first + i)
		}
		v, err := convertArg(a, pt)
		if err == errMismatch {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Path(f.name).
				GoType(pt.String()).
				Value(a).
				Detail("%s() argument %d must be %s, not %s", f.name, i+1, guestTypeOf(pt), TypeName(a)).
				Build()
		}
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}
	return in, nil
}

func (f *Func) convertResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if f.typ.Out(0) == errorType {
			return nil, hostError(f.name, out[0])
		}
		return fromReflect(out[0]), nil
	default:
		if err := hostError(f.name, out[1]); err != nil {
			return nil, err
		}
		return fromReflect(out[0]), nil
	}
}

func hostError(name string, v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	err := v.Interface().(error)
	if _, ok := err.(*errors.Error); ok {
		return err
	}
	return errors.New(errors.PhaseHost, errors.KindGuest).
		Path(name).
		Detail("%s", err.Error()).
		Cause(err).
		Build()
}

func fromReflect(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
	}
	return Normalize(v.Interface())
}

func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if t == anyType {
		if a == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(a), nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		switch x := a.(type) {
		case int64:
			n = x
		case uint64:
			if x > math.MaxInt64 {
				return reflect.Value{}, overflow(a, t)
			}
			n = int64(x)
		default:
			return reflect.Value{}, errMismatch
		}
		v := reflect.New(t).Elem()
		if v.OverflowInt(n) {
			return reflect.Value{}, overflow(a, t)
		}
		v.SetInt(n)
		return v, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		switch x := a.(type) {
		case int64:
			if x < 0 {
				return reflect.Value{}, overflow(a, t)
			}
			n = uint64(x)
		case uint64:
			n = x
		default:
			return reflect.Value{}, errMismatch
		}
		v := reflect.New(t).Elem()
		if v.OverflowUint(n) {
			return reflect.Value{}, overflow(a, t)
		}
		v.SetUint(n)
		return v, nil

	case reflect.Float32, reflect.Float64:
		f, ok := Number(a)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		v := reflect.New(t).Elem()
		v.SetFloat(f)
		return v, nil

	case reflect.String:
		s, ok := a.(string)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		return reflect.ValueOf(s).Convert(t), nil

	case reflect.Bool:
		b, ok := a.(bool)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		return reflect.ValueOf(b), nil
	}

	if t == bytesType {
		switch x := a.(type) {
		case []byte:
			return reflect.ValueOf(x), nil
		case string:
			return reflect.ValueOf([]byte(x)), nil
		case Buffer:
			return reflect.ValueOf(x.Bytes()), nil
		}
		return reflect.Value{}, errMismatch
	}

	if a == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, errMismatch
	}

	rv := reflect.ValueOf(a)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	return reflect.Value{}, errMismatch
}

// errMismatch marks an argument of the wrong kind; callers know the
// argument position and build the reported error.
var errMismatch = stderrors.New("argument type mismatch")

func overflow(a any, t reflect.Type) error {
	return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		GoType(t.String()).
		Detail("value %v does not fit %s", a, t).
		Value(a).
		Build()
}

func guestTypeOf(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.String:
		return "str"
	case reflect.Bool:
		return "bool"
	case reflect.Map:
		return "dict"
	}
	if t == bytesType {
		return "bytes"
	}
	if t.Kind() == reflect.Slice {
		return "list"
	}
	return "object"
}

// BindMethods returns a Func for every exported method of h, named in
// snake_case (ReadValue becomes read_value).
func BindMethods(h any) ([]*Func, error) {
	rv := reflect.ValueOf(h)
	rt := rv.Type()

	funcs := make([]*Func, 0, rt.NumMethod())
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() {
			continue
		}
		f, err := NewFunc(toSnakeCase(method.Name), rv.Method(i).Interface())
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, f)
	}
	return funcs, nil
}

// toSnakeCase converts PascalCase to snake_case.
// Handles acronyms: GetHTTPCode -> get_http_code
func toSnakeCase(s string) string {
	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsUpper(r) {
			result.WriteRune(r)
			continue
		}

		end := i + 1
		for end < len(runes) && unicode.IsUpper(runes[end]) {
			end++
		}
		// Last uppercase before lowercase starts the next word
		if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
			end--
		}

		if i > 0 {
			result.WriteByte('_')
		}
		for j := i; j < end; j++ {
			result.WriteRune(unicode.ToLower(runes[j]))
		}
		i = end - 1
	}
	return result.String()
}
