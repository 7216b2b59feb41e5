package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyaverett/mcp-agent/internal/config"
	"github.com/codyaverett/mcp-agent/internal/protocol"
	"github.com/codyaverett/mcp-agent/internal/runctx"
	"github.com/codyaverett/mcp-agent/internal/version"
)

type options struct {
	configPath    string
	backend       string
	transactional bool
	timeout       time.Duration
	logLevel      string
	logFormat     string

	stdout io.Writer
	stderr io.Writer
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(stderr, err)
		return protocol.ExitCode(err)
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   `mcpagent [flags] "<task>"`,
		Short: "Run a task against an MCP tool backend",
		Long: `mcpagent discovers the tools matching a task, loads only their schemas,
infers arguments and executes them, as one call or as a batch.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, opts, args[0])
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	f.StringVar(&opts.backend, "backend", "", "backend command line, ws:// URL or grpc:// address")
	f.BoolVar(&opts.transactional, "transactional", false, "ask the backend to run batches transactionally")
	f.DurationVarP(&opts.timeout, "timeout", "t", 0, "timeout for each backend call")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")

	root.AddCommand(
		newRunFileCmd(opts),
		newScheduleCmd(opts),
		newRunsCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend.Command = opts.backend
	}
	if flags.Changed("transactional") {
		cfg.Orchestrator.Transactional = opts.transactional
	}
	if flags.Changed("timeout") {
		cfg.Backend.Timeout = opts.timeout
	}
	if flags.Changed("log-level") {
		cfg.Observe.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Observe.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runTask(cmd *cobra.Command, opts *options, task string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, opts.stderr, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Orchestrator().Run(runctx.WithTrigger(cmd.Context(), "cli"), task)
	if err != nil {
		return err
	}
	return printResult(opts.stdout, "=== RESULT ===", res.Payload)
}

func printResult(w io.Writer, header string, payload json.RawMessage) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", header, buf.Bytes())
	return err
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "=== ERROR ===\n%s\n", err)
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(opts.stdout, version.Get())
			return err
		},
	}
}
