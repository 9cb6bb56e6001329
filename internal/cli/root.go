package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Ning0612/treesync/internal/config"
	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/logger"
	"github.com/Ning0612/treesync/internal/service"
)

// Exit codes
const (
	ExitOK        = 0
	ExitFailures  = 1   // some operations failed
	ExitFatal     = 2   // bad arguments, missing root, held lock
	ExitCancelled = 130 // interrupted
)

// ExitError carries the process exit code out of a command.
// Err is printed when set; a nil Err means the reporter already said why.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewRootCmd builds the treesync command tree
func NewRootCmd(version string) *cobra.Command {
	var (
		verbose    int
		configPath string
	)

	rootCmd := &cobra.Command{
		Use:   "treesync [flags] SOURCE TARGET",
		Short: "Make a target directory tree mirror a source tree",
		Long: `treesync makes TARGET an exact mirror of SOURCE.

Only entries that differ are copied. Entries present only in TARGET are
deleted unless --no-delete is given. Files are compared by size and
modification time, or by content with --checksum.`,
		Version:       version,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, configPath, VerbosityFromCount(verbose), args[0], args[1])
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default: treesync.yaml in ., the user config dir or ~/.treesync)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("log-file", "", "also write logs to this rotated file")
	pf.Bool("no-color", false, "disable colored output")
	pf.String("history-dir", "", "directory holding the run history database")
	pf.String("lock-dir", "", "directory holding per-target lock files")

	f := rootCmd.Flags()
	f.CountVarP(&verbose, "verbose", "v", "increase output: -v terse, -vv verbose")
	f.Bool("no-delete", false, "keep entries that exist only in the target")
	f.Bool("checksum", false, "compare file content instead of size and modification time")
	f.Bool("fail-fast", false, "stop dispatching after the first failed operation")
	f.IntP("concurrency", "j", runtime.NumCPU(), "number of operations applied in parallel")
	f.Duration("time-tolerance", domain.DefaultTimeTolerance, "modification time difference treated as equal")
	f.Bool("copy-links", false, "copy the files symlinks point to instead of the links")
	f.StringArray("exclude", nil, "gitignore-style pattern to leave out of both trees (repeatable)")
	f.Bool("dry-run", false, "plan and report without touching the target")
	f.Bool("mkdir", false, "create the target directory if it does not exist")
	f.Int("buffer-size", domain.DefaultBufferSize, "copy buffer size in bytes")
	f.Bool("history", false, "record the run in the history database")
	f.String("metrics-file", "", "write Prometheus metrics of the run to this file")

	rootCmd.AddCommand(newHistoryCmd(&configPath))

	return rootCmd
}

// loadConfig reads the configuration and applies the color setting
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Log.NoColor {
		color.NoColor = true
	}
	return cfg, nil
}

// initLogger starts the global logger with stderr bound to the command's error stream
func initLogger(cmd *cobra.Command, cfg *config.Config) error {
	lc := cfg.LoggerConfig()
	for i := range lc.Outputs {
		if lc.Outputs[i].Type == logger.OutputStderr {
			lc.Outputs[i].Writer = cmd.ErrOrStderr()
		}
	}
	return logger.Init(lc)
}

func runSync(cmd *cobra.Command, configPath string, verbosity Verbosity, source, target string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}

	if err := initLogger(cmd, cfg); err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer logger.Shutdown()

	svc, err := service.NewSyncService(cfg, logger.Get())
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer svc.Close()

	reporter := NewConsoleReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), verbosity)
	reporter.Begin(source, target)

	outcome, err := svc.Run(cmd.Context(), source, target, reporter)
	return exitError(outcome, err)
}

// exitError maps the result of a run to its exit code; nil means success
func exitError(outcome *domain.Outcome, err error) error {
	switch {
	case errors.Is(err, domain.ErrCancelled):
		return &ExitError{Code: ExitCancelled, Err: err}
	case err != nil:
		return &ExitError{Code: ExitFatal, Err: err}
	case outcome == nil:
		return nil
	case outcome.Cancelled:
		return &ExitError{Code: ExitCancelled}
	case outcome.HasFailures():
		return &ExitError{Code: ExitFailures}
	}
	return nil
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd(version)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		// argument and flag errors from cobra
		_, _ = errorColor.Fprintf(stderr, "✗ %v\n", err)
		fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", rootCmd.CommandPath())
		return ExitFatal
	}
	if exitErr.Err != nil {
		_, _ = errorColor.Fprintf(stderr, "✗ %v\n", exitErr.Err)
	}
	return exitErr.Code
}
