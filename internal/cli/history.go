package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/treesync/internal/logger"
	"github.com/Ning0612/treesync/internal/service"
	"github.com/Ning0612/treesync/internal/state"
)

const defaultHistoryLimit = 20

func newHistoryCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [TARGET]",
		Short: "Show recorded runs, for one target or for all",
		Long: `Show the runs recorded with --history, most recent first.

With TARGET, only runs into that directory are listed and the current
holder of its lock is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runHistory(cmd, *configPath, target, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "maximum number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, configPath, target string, limit int) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	// reading the history does not depend on recording being switched on
	cfg.History.Enabled = true

	if err := initLogger(cmd, cfg); err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer logger.Shutdown()

	svc, err := service.NewSyncService(cfg, logger.Get())
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer svc.Close()

	records, err := svc.History(target, limit)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}

	out := cmd.OutOrStdout()
	if target != "" {
		holder, err := svc.LockHolder(target)
		if err != nil {
			logger.Get().Debug("Failed to read lock holder", "target", target, "error", err)
		} else if holder != nil {
			_, _ = warningColor.Fprintf(out, "⚠ locked by pid %d on %s since %s\n\n",
				holder.PID, holder.Hostname, humanize.Time(holder.StartTime))
		}
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	printHistory(out, records)
	return nil
}

func printHistory(out io.Writer, records []state.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTARGET\tCHANGED\tSKIPPED\tFAILED\tBYTES\tDURATION\tSTATUS")

	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.StartTime.Local().Format(time.DateTime),
			r.TargetRoot,
			r.Succeeded,
			r.Skipped,
			r.Failed,
			humanize.IBytes(uint64(r.BytesSynced)),
			r.Duration().Round(time.Millisecond),
			statusLabel(r))
	}
	w.Flush()
}

// statusLabel colors the status; it is the last column so escapes do not skew alignment
func statusLabel(r state.RunRecord) string {
	label := r.Status
	if r.DryRun {
		label += " (dry run)"
	}

	switch r.Status {
	case state.StatusSuccess:
		return successColor.Sprint(label)
	case state.StatusPartial, state.StatusCancelled:
		return warningColor.Sprint(label)
	default:
		if r.Error != "" {
			label += ": " + r.Error
		}
		return errorColor.Sprint(label)
	}
}
