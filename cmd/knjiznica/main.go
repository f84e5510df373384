// Command knjiznica runs the school library circulation portal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/erazemk/knjiznica/internal/config"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. If logPath is non-empty, all
// levels are also written to that file. The returned function closes it.
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	cleanup := func() {}
	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

const usage = `Usage: knjiznica [command] [flags]

Commands:
  serve      start the portal (default); creates the database on first run
  init       create the database and the admin account
  migrate    apply the schema and migrations
  import     load books or students from YAML files

Common flags:
  -d, -db <path>          SQLite database path (default: knjiznica.sqlite3)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)

serve:
  -a, -addr <host:port>   listen address (default: :8080)
  -u, -user <name>        admin username on first run (default: admin)

init:
  -u, -user <name>        admin username (default: admin)

import:
  -books <file.yaml>      books to add to the catalog
  -students <file.yaml>   students to add to the directory

Every setting can also be given as KNJIZNICA_<NAME> in the environment or
in a .env file, e.g. KNJIZNICA_LOAN_PERIOD_DAYS=21. Flags win.
`

// commands maps subcommand names to their implementations.
var commands = map[string]func(cfg *config.Config, args []string) error{
	"serve":   cmdServe,
	"init":    cmdInit,
	"migrate": cmdMigrate,
	"import":  cmdImport,
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	name, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	if name == "help" {
		fmt.Fprint(os.Stdout, usage)
		return
	}

	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", name, usage)
		os.Exit(1)
	}

	if err := run(cfg, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("command failed", "command", name, "error", err)
		os.Exit(1)
	}
}

// newFlagSet registers the flags every command shares. Defaults come from
// cfg, so a flag only overrides what it is given for.
func newFlagSet(name string, cfg *config.Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Database.Path, "db", cfg.Database.Path, "")
	fs.StringVar(&cfg.Database.Path, "d", cfg.Database.Path, "")
	fs.StringVar(&cfg.Log.Path, "log", cfg.Log.Path, "")
	fs.StringVar(&cfg.Log.Path, "l", cfg.Log.Path, "")
	return fs
}

// parseFlags parses args and sets up logging. The returned function closes
// the log file.
func parseFlags(fs *flag.FlagSet, cfg *config.Config, args []string) (func(), error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stdout, usage)
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		return nil, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n\n%s", fs.Arg(0), usage)
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return setupLogger(cfg.Log.Path)
}
