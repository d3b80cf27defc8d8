package starengine

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/embshell/engine"
	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/memory"
	"github.com/wippyai/embshell/modules"
	"github.com/wippyai/embshell/native"
)

type mapCache struct {
	data map[string][]byte
	hits int
}

func (c *mapCache) Get(key string) ([]byte, bool, error) {
	d, ok := c.data[key]
	if ok {
		c.hits++
	}
	return d, ok, nil
}

func (c *mapCache) Put(key string, data []byte) error {
	c.data[key] = data
	return nil
}

func newBackend(t *testing.T, id string, mutate ...func(*engine.Config)) (*Backend, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	arena, err := memory.New(ctx, 1)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = arena.Close(ctx) })

	reg := native.NewRegistry()
	if err := modules.Install(reg, arena); err != nil {
		t.Fatalf("Install: %v", err)
	}
	reg.Seal()

	var out bytes.Buffer
	cfg := engine.Config{Stdout: &out, Registry: reg, Space: arena}
	for _, m := range mutate {
		m(&cfg)
	}
	b, err := New(id, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, &out
}

func run(ctx context.Context, b *Backend, ns *engine.Namespace, src string) error {
	unit, err := b.Compile(ctx, ns, "<stdin>", []byte(src))
	if err != nil {
		return err
	}
	return b.Execute(ctx, unit, ns)
}

func TestBackend_PrintAndGlobals(t *testing.T) {
	b, out := newBackend(t, Full)
	ns := engine.NewNamespace("x", "y")

	if err := run(context.Background(), b, ns, "print(x)\nx = 2.5\nprint('hi', x)\nz = 1\n"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got, want := out.String(), "<UNDEF>\nhi 2.5\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}

	tests := []struct {
		name string
		want any
	}{
		{"x", 2.5},
		{"y", native.Undefined},
		{"z", int64(1)},
	}
	for _, tt := range tests {
		got, ok := ns.Get(tt.name)
		if !ok || got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := ns.Names(); strings.Join(got, ",") != "x,y,z" {
		t.Errorf("Names() = %v", got)
	}
	if ns.Has("log_10") {
		t.Error("host globals must not leak into the namespace")
	}
}

func TestBackend_LinesShareState(t *testing.T) {
	b, out := newBackend(t, Full)
	ns := engine.NewNamespace()
	ctx := context.Background()

	for _, line := range []string{"x = [1]", "x.append(2)", "n = 1", "n += 1", "print(x, n)"} {
		if err := run(ctx, b, ns, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	if got := out.String(); got != "[1, 2] 2\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestBackend_Faults(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		fault  errors.Fault
		stdout string
	}{
		{"syntax", "print(\n", errors.FaultSyntax, ""},
		{"undefined before output", "print(1)\nprint(nope)\n", errors.FaultName, ""},
		{"type", "print('a')\nx = 1 + 'a'\n", errors.FaultType, "a\n"},
		{"len of int", "x = len(5)\n", errors.FaultType, ""},
		{"mixed comparison", "x = 'a' < 1\n", errors.FaultType, ""},
		{"runtime", "print('a')\nx = 1 // 0\n", errors.FaultRuntime, "a\n"},
		{"import", "print('a')\nload('nosuch', 'x')\n", errors.FaultImport, ""},
		{"missing load symbol", "load('example', 'nope')\n", errors.FaultImport, ""},
		{"host type", "log_10('x')\n", errors.FaultType, ""},
		{"closed instance", "load('example', 'PolarPoint')\np = PolarPoint()\np.color = 1\n", errors.FaultType, ""},
		{"read-only field", "load('example', 'PolarPoint')\np = PolarPoint()\np.radius = 1.0\n", errors.FaultType, ""},
		{"missing attribute", "C = newclass('C')\no = C()\nprint(o.nope)\n", errors.FaultName, ""},
		{"double overflow", "load('example', 'double')\ndouble(1 << 60)\n", errors.FaultType, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, out := newBackend(t, Full)
			err := run(context.Background(), b, engine.NewNamespace(), tt.src)
			if got := errors.Classify(err); got != tt.fault {
				t.Fatalf("fault = %v, want %v (err: %v)", got, tt.fault, err)
			}
			if out.String() != tt.stdout {
				t.Errorf("stdout = %q, want %q", out.String(), tt.stdout)
			}
		})
	}
}

func TestBackend_NativeModules(t *testing.T) {
	b, out := newBackend(t, Full)
	src := `
load("example", "double", "example")
print(double(21), example.AfterSend, example.FreeRunning)
load("example", "PolarPoint")
p = PolarPoint(2.0)
p.set_radius(3)
print(p.radius, p.theta)
print(log_10(100))
`
	if err := run(context.Background(), b, engine.NewNamespace(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got, want := out.String(), "42 2 4\n3.0 0.0\n2.0\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestBackend_HostRegion(t *testing.T) {
	b, out := newBackend(t, Full)
	src := `
load("uctypes", "uctypes")
view = uctypes.bytearray_at(global_struct_ptr, global_struct_size)
global_struct.int_1 = 0x99887766
print(global_struct.int_1, global_struct.int_2)
print(view)
view[4] = 0x1ff
print(global_struct.int_2)
`
	if err := run(context.Background(), b, engine.NewNamespace(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "-1719109786 20\n" +
		`bytearray(b'fw\x88\x99\x14\x00\x00\x00')` + "\n" +
		"255\n"
	if got := out.String(); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestBackend_StructOverBytearray(t *testing.T) {
	b, out := newBackend(t, Full)
	src := `
load("uctypes", "uctypes")
buf = bytearray("12345678abcd")
s = uctypes.struct(uctypes.addressof(buf), {"f32": uctypes.UINT32 | 0}, uctypes.LITTLE_ENDIAN)
s.f32 = 0x7fffffff
print(buf)
print(uctypes.sizeof({"f32": uctypes.UINT32 | 0, "b": uctypes.UINT8 | 4}))
`
	if err := run(context.Background(), b, engine.NewNamespace(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := `bytearray(b'\xff\xff\xff\x7f5678abcd')` + "\n5\n"
	if got := out.String(); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestBackend_GuestObjectsAreOpen(t *testing.T) {
	b, out := newBackend(t, Full)
	src := "C = newclass('C')\no = C(a=1)\no.b = 2\nprint(o.a + o.b)\nprint(o)\n"
	if err := run(context.Background(), b, engine.NewNamespace(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[0] != "3" || !strings.HasPrefix(lines[1], "<C object at 0x") {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestMicro_Dialect(t *testing.T) {
	b, _ := newBackend(t, Micro)
	err := run(context.Background(), b, engine.NewNamespace(), "x = 0\nwhile x < 3:\n    x += 1\n")
	if got := errors.Classify(err); got != errors.FaultSyntax {
		t.Errorf("while in micro: fault = %v (err: %v)", got, err)
	}
	if b.Traits().ErrorMarker {
		t.Error("micro must not add the error marker")
	}
}

func TestMicro_StepBudget(t *testing.T) {
	b, _ := newBackend(t, Micro, func(c *engine.Config) { c.MaxSteps = 1000 })
	err := run(context.Background(), b, engine.NewNamespace(), "x = 0\nfor i in range(100000):\n    x += i\n")
	if got := errors.Classify(err); got != errors.FaultRuntime {
		t.Fatalf("fault = %v (err: %v)", got, err)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindBudget {
		t.Errorf("kind = %v, want budget", e)
	}
}

func TestBackend_Cancel(t *testing.T) {
	b, _ := newBackend(t, Full)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := run(ctx, b, engine.NewNamespace(), "while True:\n    pass\n")
	if got := errors.Classify(err); got != errors.FaultRuntime {
		t.Errorf("fault = %v (err: %v)", got, err)
	}
}

func TestBackend_FreezeRoundTrip(t *testing.T) {
	b, out := newBackend(t, Full)
	ctx := context.Background()
	ns := engine.NewNamespace("a")
	src := []byte("load('example', 'double')\na = double(2)\nprint(a)\n")

	unit, err := b.Compile(ctx, ns, "in.star", src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	payload, imports, err := b.Serialize(unit)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	again, _, err := b.Serialize(unit)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.Equal(payload, again) {
		t.Error("freezing the same source twice must give identical bytes")
	}
	if len(imports) != 1 || imports[0] != "example" {
		t.Errorf("imports = %v", imports)
	}

	thawed, err := b.Deserialize("out.mpy", payload)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	fresh := engine.NewNamespace("a")
	if err := b.Execute(ctx, thawed, fresh); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.String() != "4\n" {
		t.Errorf("stdout = %q", out.String())
	}
	if v, _ := fresh.Get("a"); v != int64(4) {
		t.Errorf("a = %v", v)
	}

	if _, err := b.Deserialize("junk", []byte("junk")); errors.Classify(err) != errors.FaultArtifact {
		t.Errorf("junk payload: %v", err)
	}
}

func TestBackend_SerializeForeignUnit(t *testing.T) {
	b, _ := newBackend(t, Full)
	unit := &engine.ScriptUnit{Code: "not a program", Backend: "lua", Filename: "in"}
	_, _, err := b.Serialize(unit)
	if got := errors.Classify(err); got != errors.FaultArtifact {
		t.Errorf("fault = %v (err: %v)", got, err)
	}
}

func TestBackend_FreezeUndefinedName(t *testing.T) {
	b, _ := newBackend(t, Full)
	unit, err := b.Compile(context.Background(), engine.NewNamespace(), "in", []byte("print(nope)\n"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_, _, err = b.Serialize(unit)
	if got := errors.Classify(err); got != errors.FaultName {
		t.Errorf("fault = %v (err: %v)", got, err)
	}
}

func TestBackend_ModulePath(t *testing.T) {
	dir := t.TempDir()
	mod := "def add(a, b):\n    return a + b\n\nscale = 10\n"
	if err := os.WriteFile(filepath.Join(dir, "pyexamplemod.star"), []byte(mod), 0o644); err != nil {
		t.Fatal(err)
	}
	cache := &mapCache{data: make(map[string][]byte)}
	src := "load('pyexamplemod', 'add', exm='pyexamplemod')\nprint(exm.add(1, 2), add(3, 4), exm.scale)\n"

	for i := 0; i < 2; i++ {
		b, out := newBackend(t, Full, func(c *engine.Config) {
			c.ModulePath = []string{dir}
			c.Cache = cache
		})
		if err := run(context.Background(), b, engine.NewNamespace(), src); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if out.String() != "3 7 10\n" {
			t.Errorf("run %d: stdout = %q", i, out.String())
		}
	}
	if len(cache.data) != 1 || cache.hits != 1 {
		t.Errorf("cache entries = %d, hits = %d", len(cache.data), cache.hits)
	}
}

func TestBackend_LoadCycle(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.star"), []byte("load('b', 'y')\nx = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.star"), []byte("load('a', 'x')\ny = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, _ := newBackend(t, Full, func(c *engine.Config) { c.ModulePath = []string{dir} })
	err := run(context.Background(), b, engine.NewNamespace(), "load('a', 'x')\n")
	if got := errors.Classify(err); got != errors.FaultImport {
		t.Errorf("fault = %v (err: %v)", got, err)
	}
}

func TestNew_Registered(t *testing.T) {
	for _, id := range []string{Full, Micro} {
		b, err := engine.New(id, engine.Config{})
		if err != nil {
			t.Fatalf("engine.New(%s): %v", id, err)
		}
		if b.Name() != id || !b.Traits().CanFreeze {
			t.Errorf("%s: name %s traits %+v", id, b.Name(), b.Traits())
		}
	}
	if _, err := New("lua", engine.Config{}); err == nil {
		t.Error("expected error for foreign id")
	}
}
