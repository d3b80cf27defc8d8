package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/embshell/engine"
	"github.com/wippyai/embshell/freeze"
	"github.com/wippyai/embshell/memory"
	"github.com/wippyai/embshell/native"
	"github.com/wippyai/embshell/shell"
)

func main() {
	var (
		backend     = flag.String("backend", shell.DefaultBackend, "Guest backend (full, micro, lua)")
		configFile  = flag.String("config", "", "Path to a TOML config file")
		dump        = flag.Bool("dump", false, "Print pre-declared globals after execution")
		lines       = flag.Bool("lines", false, "Run each input line as its own unit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Debug logging on stderr")
		modulePath  = flag.String("module-path", "", "Guest module directories, separated by "+string(filepath.ListSeparator))
		maxSteps    = flag.Uint64("max-steps", 0, "Guest execution step budget (0 = backend default)")
		cachePath   = flag.String("cache", "", "SQLite compile cache path")
		schema      = flag.Bool("config-schema", false, "Print the config JSON schema and exit")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: embshell [flags] [global ...] < script")
		fmt.Fprintln(os.Stderr, "       embshell -i [flags] [global ...]  (interactive mode)")
		fmt.Fprintln(os.Stderr, "Meta-commands: \\s <in> <out> freeze, \\e <path> execute frozen unit")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *schema {
		data, err := shell.Schema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	if *verbose {
		installLogger()
	}

	cfg := shell.DefaultConfig()
	if *configFile != "" {
		loaded, err := shell.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags given on the command line override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "dump":
			cfg.DumpGlobals = *dump
		case "lines":
			cfg.Lines = *lines
		case "module-path":
			cfg.ModulePath = filepath.SplitList(*modulePath)
		case "max-steps":
			cfg.MaxSteps = *maxSteps
		case "cache":
			cfg.Cache = *cachePath
		}
	})
	cfg.Globals = append(cfg.Globals, flag.Args()...)

	if *interactive {
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !cfg.Lines && term.IsTerminal(int(os.Stdin.Fd())) {
		cfg.Lines = true
	}

	os.Exit(run(cfg))
}

func run(cfg shell.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := shell.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	return s.Run(ctx, os.Stdin)
}

func installLogger() {
	l, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	engine.SetLogger(l)
	freeze.SetLogger(l)
	memory.SetLogger(l)
	native.SetLogger(l)
	shell.SetLogger(l)
}
