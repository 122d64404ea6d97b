package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Operational alerting over audit history",
}

// -- monitor check --

var monitorCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Collect audit health over the lookback window and evaluate alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback, _ := cmd.Flags().GetInt("lookback")
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}
		send, _ := cmd.Flags().GetBool("send")

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "monitor check")
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)

		formatSnapshot(os.Stdout, snap, alerts)

		if send && len(alerts) > 0 {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "Sent %d/%d alerts.\n", sent, len(alerts))
		}
		return nil
	},
}

// -- monitor replay --

var monitorReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Retry audit writes waiting in the dead-letter list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initAudit(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		res, err := env.Persister.ReplayDeadLetters(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "monitor replay")
		}

		remaining, err := env.Store.CountDeadLetters(ctx)
		if err != nil {
			return eris.Wrap(err, "monitor replay: count dead letters")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Replayed:\t%d\n", res.Replayed)
		_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Failed)
		_, _ = fmt.Fprintf(w, "Abandoned:\t%d\n", res.Abandoned)
		_, _ = fmt.Fprintf(w, "Remaining:\t%d\n", remaining)
		return w.Flush()
	},
}

// -- monitor watch --

var monitorWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the alert checker until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAudit(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store, env.Metrics),
			monitoring.NewAlerter(cfg.Monitoring),
			env.Persister,
			cfg.Monitoring,
		)

		// First pass runs immediately; the loop waits a full interval.
		checker.Check(ctx, zap.L())
		checker.Run(ctx)
		return nil
	},
}

func init() {
	monitorCheckCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")
	monitorCheckCmd.Flags().Bool("send", false, "post triggered alerts to the configured webhook")

	monitorReplayCmd.Flags().Int("limit", 100, "max dead letters to replay from the store")

	monitorCmd.AddCommand(monitorCheckCmd)
	monitorCmd.AddCommand(monitorReplayCmd)
	monitorCmd.AddCommand(monitorWatchCmd)
	rootCmd.AddCommand(monitorCmd)
}

// formatSnapshot writes a metrics snapshot and any triggered alerts.
func formatSnapshot(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Audits:\t%d (%d passed, %d failed)\n", snap.AuditTotal, snap.AuditPassed, snap.AuditFailed)
	_, _ = fmt.Fprintf(w, "Fail rate:\t%.1f%%\n", snap.FailRate*100)
	_, _ = fmt.Fprintf(w, "Avg score:\t%.1f\n", snap.AvgScore)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", snap.RecordsTotal)
	_, _ = fmt.Fprintf(w, "Critical alerts:\t%d\n", snap.CriticalAlerts)
	_, _ = fmt.Fprintf(w, "Dead letters:\t%d\n", snap.DeadLetters)
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts triggered.")
		return
	}

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEVERITY\tTYPE\tMESSAGE")
	_, _ = fmt.Fprintln(w, "--------\t----\t-------")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", a.Severity, a.Type, a.Message)
	}
	_ = w.Flush()
}
