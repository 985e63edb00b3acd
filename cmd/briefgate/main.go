package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/briefgate/pkg/config"
	"github.com/Mindburn-Labs/briefgate/pkg/delivery"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Build metadata, set with -ldflags.
var (
	version = "dev"
	commit  = "none"
)

// app carries the per-invocation state shared by all commands.
type app struct {
	stdout  io.Writer
	stderr  io.Writer
	getenv  func(string) string
	cfgPath string
	jsonOut bool
	cfg     *config.Config
	code    int
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: stdout, stderr: stderr, getenv: os.Getenv}
	root := a.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return delivery.ExitUsage
	}
	return a.code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "briefgate",
		Short: "Render executive briefs and gate them through strict preflight",
		Long: `briefgate renders a normalized brief payload through the approved design
template (primary) or a hosted PDF API (fallback), then refuses delivery
unless the exported PDF passes every preflight gate.

Exit codes:
  0  PASS
  1  FAIL
  2  usage or runtime error
  4  PENDING (a human must finish the export)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Config file (default: $BRIEFGATE_CONFIG)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		a.renderCmd(),
		a.batchCmd(),
		a.preflightCmd(),
		a.watchCmd(),
		a.verifyTemplateCmd(),
		a.handoffCmd(),
		a.credentialsCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads configuration and installs the JSON logger on stderr.
func (a *app) setup() error {
	path := a.cfgPath
	if path == "" {
		path = a.getenv("BRIEFGATE_CONFIG")
	}
	cfg, err := config.Load(path, a.getenv)
	if err != nil {
		return err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: level})))
	a.cfg = cfg
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// exitFor maps a resolved status to the process exit code.
func (a *app) exitFor(s delivery.Status) {
	a.code = delivery.ExitCode(s)
}

