// Package shell drives one embedded scripting session: it reads a payload,
// dispatches meta-commands or runs guest source on the active backend, and
// turns faults into stderr reports and exit codes.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/engine"
	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/freeze"
	"github.com/wippyai/embshell/memory"
	"github.com/wippyai/embshell/modules"
	"github.com/wippyai/embshell/native"

	_ "github.com/wippyai/embshell/engine/luaengine"
	_ "github.com/wippyai/embshell/engine/starengine"
)

// Marker starts a meta-command.
const Marker = '\\'

// Prompt is written before each line in line mode.
const Prompt = "> "

// StdinFilename names units compiled from the input payload.
const StdinFilename = "<stdin>"

// Installer registers extra native modules before the registry is sealed.
type Installer func(r *native.Registry, space embshell.Space) error

// Option configures a Session.
type Option func(*Session)

// WithStdout redirects guest output and the globals dump.
func WithStdout(w io.Writer) Option {
	return func(s *Session) { s.stdout = w }
}

// WithStderr redirects fault reports and debug echoes.
func WithStderr(w io.Writer) Option {
	return func(s *Session) { s.stderr = w }
}

// WithPrompt sets where the line-mode prompt goes. It defaults to stderr.
func WithPrompt(w io.Writer) Option {
	return func(s *Session) { s.prompt = w }
}

// WithModules registers additional native modules.
func WithModules(install ...Installer) Option {
	return func(s *Session) { s.installers = append(s.installers, install...) }
}

// WithCache overrides the compile cache opened from Config.Cache.
func WithCache(c engine.Cache) Option {
	return func(s *Session) { s.cache = c }
}

// Session owns a backend, its namespace and the host address space.
// It runs one unit at a time.
type Session struct {
	stdout     io.Writer
	stderr     io.Writer
	prompt     io.Writer
	cache      engine.Cache
	backend    engine.Backend
	arena      *memory.Arena
	registry   *native.Registry
	ns         *engine.Namespace
	declared   []string
	closers    []func() error
	installers []Installer
	cfg        Config
	ran        bool
}

// New creates a session for cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompt == nil {
		s.prompt = s.stderr
	}

	arena, err := memory.New(ctx, cfg.ArenaPages)
	if err != nil {
		return nil, err
	}
	s.arena = arena
	s.closers = append(s.closers, func() error { return arena.Close(context.Background()) })

	s.registry = native.NewRegistry()
	installers := append([]Installer{modules.Install}, s.installers...)
	for _, install := range installers {
		if err := install(s.registry, arena); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	s.registry.Seal()

	if s.cache == nil && cfg.Cache != "" {
		c, err := freeze.OpenCache(cfg.Cache)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "cannot open cache "+cfg.Cache)
		}
		s.cache = c
		s.closers = append(s.closers, c.Close)
	}

	b, err := engine.New(cfg.Backend, engine.Config{
		Stdout:     s.stdout,
		Registry:   s.registry,
		Space:      arena,
		Cache:      s.cache,
		ModulePath: cfg.ModulePath,
		MaxSteps:   cfg.MaxSteps,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.backend = b
	s.closers = append(s.closers, b.Close)

	s.ns = engine.NewNamespace(cfg.Globals...)
	s.declared = s.ns.Names()

	Logger().Debug("session ready",
		zap.String("backend", cfg.Backend),
		zap.Strings("globals", s.declared),
		zap.Strings("modules", s.registry.Names()))
	return s, nil
}

// Close releases the backend, the cache and the address space.
func (s *Session) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// Backend returns the active backend.
func (s *Session) Backend() engine.Backend { return s.backend }

// Globals returns the session namespace.
func (s *Session) Globals() *engine.Namespace { return s.ns }

// Run reads stdin to completion, executes it and returns the process
// exit code. Faults are reported on stderr; the globals dump, when
// enabled, follows any unit that reached execution.
func (s *Session) Run(ctx context.Context, stdin io.Reader) int {
	var err error
	if s.cfg.Lines {
		err = s.runLines(ctx, stdin)
	} else {
		data, rerr := io.ReadAll(stdin)
		if rerr != nil {
			err = errors.Wrap(errors.PhaseShell, errors.KindInvalidInput, rerr, "cannot read input")
		} else {
			err = s.Execute(ctx, data)
		}
	}

	s.Report(err)
	if s.cfg.Dumping() && s.ran {
		s.Dump(s.stdout)
	}
	return errors.ExitCode(err)
}

// runLines executes each input line as one unit and stops at the first
// fault.
func (s *Session) runLines(ctx context.Context, stdin io.Reader) error {
	sc := bufio.NewScanner(stdin)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprint(s.prompt, Prompt)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) != "" {
			if err := s.ExecuteLine(ctx, line); err != nil {
				return err
			}
		}
		fmt.Fprint(s.prompt, Prompt)
	}
	fmt.Fprintln(s.prompt)

	if err := sc.Err(); err != nil {
		return errors.Wrap(errors.PhaseShell, errors.KindInvalidInput, err, "cannot read input")
	}
	return nil
}

// Report writes the stderr framing for err, if any.
func (s *Session) Report(err error) {
	if err == nil {
		return
	}
	f := errors.Report(s.stderr, err, s.backend.Traits().ErrorMarker)
	Logger().Debug("fault", zap.Stringer("fault", f), zap.Error(err))
}

// ExecuteLine runs one line against the session namespace.
func (s *Session) ExecuteLine(ctx context.Context, line string) error {
	return s.Execute(ctx, []byte(line))
}

// Execute dispatches a payload: a meta-command when it starts with the
// marker, guest source otherwise.
func (s *Session) Execute(ctx context.Context, payload []byte) error {
	if len(payload) > 0 && payload[0] == Marker {
		return s.meta(ctx, string(payload[1:]))
	}
	unit, err := s.backend.Compile(ctx, s.ns, StdinFilename, payload)
	if err != nil {
		return err
	}
	return s.run(ctx, unit)
}

func (s *Session) run(ctx context.Context, unit *engine.ScriptUnit) error {
	s.ran = true
	err := s.backend.Execute(ctx, unit, s.ns)
	Logger().Debug("unit executed",
		zap.String("filename", unit.Filename),
		zap.Strings("imports", unit.Imports),
		zap.Error(err))
	return err
}

func (s *Session) meta(ctx context.Context, cmd string) error {
	fields := strings.Fields(cmd)
	if len(cmd) == 0 || len(fields) == 0 {
		return errors.UnknownAction("")
	}
	action, args := cmd[:1], fields[1:]
	if len(fields[0]) > 1 {
		// "\sin out" reads the same as "\s in out".
		args = append([]string{fields[0][1:]}, args...)
	}

	switch action {
	case "s", "f":
		if len(args) < 2 {
			return malformed(action, "expects <in> <out>")
		}
		fmt.Fprintf(s.stderr, "args: '%s' '%s'\n", args[0], args[1])
		return s.freeze(ctx, args[0], args[1])
	case "e":
		if len(args) < 1 {
			return malformed(action, "expects <path>")
		}
		fmt.Fprintf(s.stderr, "args: '%s'\n", args[0])
		return s.thaw(ctx, args[0])
	}
	return errors.UnknownAction(action)
}

func malformed(action, detail string) error {
	return errors.New(errors.PhaseShell, errors.KindUnknownAction).
		Path(action).
		Value(action).
		Detail("unknown action '\\%s': %s", action, detail).
		Build()
}

func (s *Session) freezer() (engine.Freezer, error) {
	fz, ok := s.backend.(engine.Freezer)
	if !ok || !s.backend.Traits().CanFreeze {
		return nil, errors.Artifact(errors.KindArtifact, "backend '%s' cannot freeze units", s.backend.Name())
	}
	return fz, nil
}

// freeze compiles in with the active backend and writes the artifact to
// out. Nothing runs.
func (s *Session) freeze(ctx context.Context, in, out string) error {
	fz, err := s.freezer()
	if err != nil {
		return err
	}

	src, err := os.ReadFile(in)
	if err != nil {
		return errors.Wrap(errors.PhaseArtifact, errors.KindArtifact, err, "cannot read source "+in)
	}
	unit, err := s.backend.Compile(ctx, s.ns, in, src)
	if err != nil {
		return err
	}
	payload, imports, err := fz.Serialize(unit)
	if err != nil {
		return err
	}

	data, err := freeze.Freeze(freeze.Manifest{
		Backend:      s.backend.Name(),
		Imports:      imports,
		SourceDigest: freeze.Digest(src),
	}, payload)
	if err != nil {
		return err
	}
	return freeze.WriteFile(out, data)
}

// thaw loads the artifact at path, echoes its header and runs it like
// fresh source.
func (s *Session) thaw(ctx context.Context, path string) error {
	a, err := freeze.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.stderr, "bytes:%s\n", hexEscape(a.HeaderBytes()))

	if err := a.Check(s.backend.Name()); err != nil {
		return err
	}
	fz, err := s.freezer()
	if err != nil {
		return err
	}
	unit, err := fz.Deserialize(path, a.Payload)
	if err != nil {
		return err
	}
	if !slices.Equal(unit.Imports, a.Manifest.Imports) {
		return errors.Artifact(errors.KindArtifact,
			"manifest imports %v do not match program imports %v", a.Manifest.Imports, unit.Imports)
	}
	return s.run(ctx, unit)
}

func hexEscape(b []byte) string {
	var sb bytes.Buffer
	for _, c := range b {
		fmt.Fprintf(&sb, "\\x%02x", c)
	}
	return sb.String()
}
