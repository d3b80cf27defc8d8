package testbed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/shell"
)

// result captures one shell run the way a caller piping a script into the
// binary would observe it.
type result struct {
	stdout string
	stderr string
	code   int
}

func runShell(t *testing.T, cfg shell.Config, input string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	s, err := shell.New(context.Background(), cfg,
		shell.WithStdout(&stdout),
		shell.WithStderr(&stderr),
		shell.WithPrompt(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	code := s.Run(context.Background(), strings.NewReader(input))
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func config(backend string, globals ...string) shell.Config {
	cfg := shell.DefaultConfig()
	cfg.Backend = backend
	cfg.Globals = globals
	cfg.ModulePath = []string{filepath.Join("testdata", "lib")}
	return cfg
}

type scenario struct {
	name    string
	backend string
	globals []string
	src     string
	stdout  []string
	stderr  []string
	code    int
}

func (sc scenario) check(t *testing.T, r result) {
	t.Helper()
	if r.code != sc.code {
		t.Fatalf("exit code = %d, want %d (stderr: %q)", r.code, sc.code, r.stderr)
	}
	for _, want := range sc.stdout {
		if !strings.Contains(r.stdout, want) {
			t.Errorf("stdout %q does not contain %q", r.stdout, want)
		}
	}
	if len(sc.stderr) == 0 && r.stderr != "" {
		t.Errorf("unexpected stderr: %q", r.stderr)
	}
	for _, want := range sc.stderr {
		if !strings.Contains(r.stderr, want) {
			t.Errorf("stderr %q does not contain %q", r.stderr, want)
		}
	}
}

var scenarios = []scenario{
	{
		name:    "print",
		backend: "full",
		src:     `print("ciao")`,
		stdout:  []string{"ciao"},
	},
	{
		name:    "print a variable and dump globals",
		backend: "micro",
		globals: []string{"a", "undef"},
		src:     "\na = 10\nprint(a)\n",
		stdout:  []string{"10\n", "globals:\na = 10.00\nundef = <UNDEF>\n"},
	},
	{
		name:    "call a non existent function",
		backend: "full",
		src:     "_not_existent_function(10)\n",
		stderr:  []string{"NameFault:", "ERROR"},
		code:    errors.ExitName,
	},
	{
		name:    "call a non existent function without marker",
		backend: "micro",
		src:     "_not_existent_function(10)\n",
		stderr:  []string{"NameFault:"},
		code:    errors.ExitName,
	},
	{
		name:    "syntax error",
		backend: "full",
		src:     "print((10)\n",
		stderr:  []string{"SyntaxFault", "ERROR"},
		code:    errors.ExitSyntax,
	},
	{
		name:    "call a host function",
		backend: "micro",
		src:     "\na = log_10(100.0)\nprint(\"return value:\", a)\n",
		stdout:  []string{"return value: 2.0"},
	},
	{
		name:    "call with wrong argument type",
		backend: "micro",
		src:     `log_10("wrongtype")`,
		stderr:  []string{"TypeFault"},
		code:    errors.ExitType,
	},
	{
		name:    "import std module",
		backend: "full",
		src:     "\nload('math', 'math')\na = math.log(8, 2)\nprint(\"return value:\", a)\n",
		stdout:  []string{"return value: 3.0"},
	},
	{
		name:    "import native module",
		backend: "micro",
		src:     "\nload('example', 'example')\na = example.double(1000)\nprint(\"return value:\", a)\n",
		stdout:  []string{"return value: 2000"},
	},
	{
		name:    "import external module",
		backend: "micro",
		src:     "\nload('pyexamplemod', exm='pyexamplemod')\na = exm.double(3000)\nprint(\"return value:\", a)\n",
		stdout:  []string{"return value: 6000"},
	},
	{
		name:    "import native module constant",
		backend: "micro",
		src:     "\nload('example', 'example')\nprint(\"return value:\", example.BeforeSend)\n",
		stdout:  []string{"return value: 1"},
	},
	{
		name:    "guest class attribute",
		backend: "micro",
		src:     "\nMyClass = newclass('MyClass')\nmc = MyClass()\nmc.my_attr = 8\nprint(\"return value:\", mc.my_attr)\n",
		stdout:  []string{"return value: 8"},
	},
	{
		name:    "native class default",
		backend: "micro",
		src:     "\nload('example', 'PolarPoint')\npp = PolarPoint()\nprint(\"return value:\", pp.radius)\n",
		stdout:  []string{"return value: 0"},
	},
	{
		name:    "native class with values",
		backend: "micro",
		src:     "\nload('example', 'PolarPoint')\npp = PolarPoint(1, 2)\nprint(\"return value:\", pp.radius)\n",
		stdout:  []string{"return value: 1"},
	},
	{
		name:    "native class method",
		backend: "micro",
		src:     "\nload('example', 'PolarPoint')\npp = PolarPoint(1, 2)\npp.set_radius(3)\nprint(\"return value:\", pp.radius)\n",
		stdout:  []string{"return value: 3"},
	},
	{
		name:    "guest defined struct",
		backend: "micro",
		src: `
load('uctypes', 'uctypes')
buf = bytearray("12345678abcd")
struct = uctypes.struct(uctypes.addressof(buf), {"f32": uctypes.UINT32 | 0}, uctypes.LITTLE_ENDIAN)
struct.f32 = 0x7fffffff
print("return value:", buf)
`,
		stdout: []string{`return value: bytearray(b'\xff\xff\xff\x7f5678abcd')`},
	},
	{
		name:    "host defined bytearray",
		backend: "micro",
		src: `
print("global_struct_size:", global_struct_size)
load('uctypes', 'uctypes')
buf = uctypes.bytearray_at(global_struct_ptr, global_struct_size)
print("return value:", buf)
`,
		stdout: []string{"global_struct_size: 8", `return value: bytearray(b'\n\x00\x00\x00\x14\x00\x00\x00')`},
	},
	{
		name:    "host defined bytearray modified",
		backend: "micro",
		src: `
load('uctypes', 'uctypes')
buf = uctypes.bytearray_at(global_struct_ptr, global_struct_size)
buf[0] = 0xff
print("return value:", buf)
`,
		stdout: []string{`return value: bytearray(b'\xff\x00\x00\x00\x14\x00\x00\x00')`},
	},
	{
		name:    "host defined struct modified",
		backend: "micro",
		src: `
load('uctypes', 'uctypes')
buf = uctypes.bytearray_at(global_struct_ptr, global_struct_size)
global_struct = uctypes.struct(uctypes.addressof(buf), {"int_1": uctypes.INT32 | 0, "int_2": uctypes.INT32 | 4})
global_struct.int_1 = 0x99887766
print("return value:", buf)
`,
		stdout: []string{`return value: bytearray(b'fw\x88\x99\x14\x00\x00\x00')`},
	},
	{
		name:    "pre-bound host struct",
		backend: "micro",
		src: `
global_struct.int_1 = 0x99
print("return value:", global_struct.int_1, global_struct.int_2)
`,
		stdout: []string{"return value: 153 20"},
	},
	{
		name:    "lua print",
		backend: "lua",
		src:     `print("ciao")`,
		stdout:  []string{"ciao"},
	},
	{
		name:    "lua dump globals",
		backend: "lua",
		globals: []string{"a", "undef"},
		src:     "a = 10\nprint(a)\n",
		stdout:  []string{"10\n", "globals:\na = 10.00\nundef = <UNDEF>\n"},
	},
	{
		name:    "lua native module",
		backend: "lua",
		src:     "local example = require('example')\nprint(\"return value:\", example.double(1000))\n",
		stdout:  []string{"return value:\t2000"},
	},
	{
		name:    "lua external module",
		backend: "lua",
		src:     "local exm = require('luaexamplemod')\nprint(\"return value:\", exm.double(3000), exm.scale)\n",
		stdout:  []string{"return value:\t6000\t10"},
	},
	{
		name:    "lua non existent function",
		backend: "lua",
		src:     "_not_existent_function(10)\n",
		stderr:  []string{"NameFault:"},
		code:    errors.ExitName,
	},
	{
		name:    "lua pre-bound host struct",
		backend: "lua",
		src:     "global_struct.int_1 = 0x99\nprint(global_struct.int_1, global_struct.int_2)\n",
		stdout:  []string{"153\t20"},
	},
}

func TestScenarios(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			sc.check(t, runShell(t, config(sc.backend, sc.globals...), sc.src))
		})
	}
}

func TestConfigFile(t *testing.T) {
	cfg, err := shell.LoadConfig(filepath.Join("testdata", "embshell.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	r := runShell(t, cfg, "load('pyexamplemod', 'double')\na = double(5)\nprint(a)\n")
	sc := scenario{stdout: []string{"10\n", "globals:\na = 10.00\nundef = <UNDEF>\n"}}
	sc.check(t, r)
}

func TestMetaCommands(t *testing.T) {
	for _, backend := range []string{"full", "micro"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			in := filepath.Join(dir, "tmp_file.star")
			out := filepath.Join(dir, "tmp_file.mpy")
			src := "load('example', 'example')\nprint(\"return value:\", example.double(21))\n"
			if err := os.WriteFile(in, []byte(src), 0o644); err != nil {
				t.Fatal(err)
			}

			r := runShell(t, config(backend), fmt.Sprintf("\\s %s %s\n", in, out))
			if r.code != 0 {
				t.Fatalf("freeze: exit %d (stderr: %q)", r.code, r.stderr)
			}
			if r.stdout != "" {
				t.Errorf("freezing must not run the unit, stdout = %q", r.stdout)
			}
			if _, err := os.Stat(out); err != nil {
				t.Fatalf("artifact not written: %v", err)
			}

			r = runShell(t, config(backend), fmt.Sprintf("\\e %s\n", out))
			if r.code != 0 {
				t.Fatalf("execute: exit %d (stderr: %q)", r.code, r.stderr)
			}
			if r.stdout != "return value: 42\n" {
				t.Errorf("stdout = %q", r.stdout)
			}
			if !strings.Contains(r.stderr, "bytes:\\x45\\x4d\\x42\\x46") {
				t.Errorf("stderr = %q", r.stderr)
			}
		})
	}
}

func TestMetaCommands_CrossBackend(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "unit.star")
	out := filepath.Join(dir, "unit.mpy")
	if err := os.WriteFile(in, []byte("print(1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if r := runShell(t, config("full"), fmt.Sprintf("\\s %s %s\n", in, out)); r.code != 0 {
		t.Fatalf("freeze: exit %d (stderr: %q)", r.code, r.stderr)
	}

	r := runShell(t, config("micro"), fmt.Sprintf("\\e %s\n", out))
	if r.code != errors.ExitArtifact {
		t.Errorf("exit = %d, want %d (stderr: %q)", r.code, errors.ExitArtifact, r.stderr)
	}
	if r.stdout != "" {
		t.Errorf("stdout = %q", r.stdout)
	}
}

func TestCompileCache(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.db")
	src := "load('pyexamplemod', exm='pyexamplemod')\nprint(exm.double(4), exm.scale)\n"

	for i := 0; i < 2; i++ {
		cfg := config("full")
		cfg.Cache = cachePath
		r := runShell(t, cfg, src)
		if r.code != 0 || r.stdout != "8 10\n" {
			t.Fatalf("run %d: exit %d stdout %q stderr %q", i, r.code, r.stdout, r.stderr)
		}
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("cache file: %v", err)
	}
}
