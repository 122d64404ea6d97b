package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect audit history",
	Long:  "Commands for listing, viewing, and summarizing persisted audits and rejections.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit logs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		caller, _ := cmd.Flags().GetString("caller")
		session, _ := cmd.Flags().GetString("session")
		failed, _ := cmd.Flags().GetBool("failed")
		limit, _ := cmd.Flags().GetInt("limit")

		logs, err := st.ListAuditLogs(ctx, store.AuditLogFilter{
			CallerID:   caller,
			SessionID:  session,
			FailedOnly: failed,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "No audits found.")
			return nil
		}

		formatAuditList(os.Stdout, logs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <audit-id>",
	Short: "Show the full report of an audit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entry, err := st.GetAuditLog(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

// -- runs rejections --

var runsRejectionsCmd = &cobra.Command{
	Use:   "rejections",
	Short: "List rejected records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		session, _ := cmd.Flags().GetString("session")
		agent, _ := cmd.Flags().GetString("agent")
		limit, _ := cmd.Flags().GetInt("limit")

		rejections, err := st.ListRejections(ctx, store.RejectionFilter{
			SessionID: session,
			Agent:     agent,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs rejections")
		}

		if len(rejections) == 0 {
			fmt.Fprintln(os.Stderr, "No rejections found.")
			return nil
		}

		formatRejectionList(os.Stdout, rejections)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate audit statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.AuditLogFilter{Limit: 10000}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		logs, err := st.ListAuditLogs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatAuditStats(os.Stdout, computeAuditStats(logs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("caller", "", "filter by caller id")
	runsListCmd.Flags().String("session", "", "filter by session id")
	runsListCmd.Flags().Bool("failed", false, "only show failed audits")
	runsListCmd.Flags().Int("limit", 50, "max number of audits to display")

	runsRejectionsCmd.Flags().String("session", "", "filter by session id")
	runsRejectionsCmd.Flags().String("agent", "", "filter by agent (dedup, relevance)")
	runsRejectionsCmd.Flags().Int("limit", 50, "max number of rejections to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsRejectionsCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// auditStats holds aggregate statistics computed from a set of audit logs.
type auditStats struct {
	Total          int
	Passed         int
	Failed         int
	Records        int
	Alerts         int
	CriticalAlerts int
	AvgScore       float64
	MinScore       int
	MaxScore       int
}

// computeAuditStats computes aggregate statistics from a list of audit logs.
func computeAuditStats(logs []model.AuditLogEntry) auditStats {
	var s auditStats
	s.Total = len(logs)

	var totalScore int
	for i, l := range logs {
		if l.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
		s.Records += l.TotalRecords
		s.Alerts += l.AlertsCount
		s.CriticalAlerts += l.CriticalCount
		totalScore += l.OverallScore
		if i == 0 || l.OverallScore < s.MinScore {
			s.MinScore = l.OverallScore
		}
		if l.OverallScore > s.MaxScore {
			s.MaxScore = l.OverallScore
		}
	}

	if s.Total > 0 {
		s.AvgScore = float64(totalScore) / float64(s.Total)
	}
	return s
}

// formatAuditList writes a tabular list of audit logs to w.
func formatAuditList(out io.Writer, logs []model.AuditLogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCALLER\tSESSION\tSCORE\tVERDICT\tRECORDS\tALERTS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t-----\t-------\t-------\t------\t-------")

	for _, l := range logs {
		alerts := fmt.Sprintf("%d", l.AlertsCount)
		if l.CriticalCount > 0 {
			alerts = fmt.Sprintf("%d (%d critical)", l.AlertsCount, l.CriticalCount)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
			truncateID(l.ID),
			l.CallerID,
			truncateID(l.SessionID),
			l.OverallScore,
			verdict(l.Pass),
			l.TotalRecords,
			alerts,
			l.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRejectionList writes a tabular list of rejections to w.
func formatRejectionList(out io.Writer, rejections []model.RejectionLogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSESSION\tRECORD\tAGENT\tREASON\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-----\t------\t-------")

	for _, r := range rejections {
		reason := r.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncateID(r.SessionID),
			r.RecordIndex,
			r.Agent,
			reason,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatAuditStats writes aggregate stats to w.
func formatAuditStats(out io.Writer, s auditStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total audits:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Passed:\t%d\n", s.Passed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", s.Records)
	_, _ = fmt.Fprintf(w, "Alerts:\t%d\n", s.Alerts)
	_, _ = fmt.Fprintf(w, "  Critical:\t%d\n", s.CriticalAlerts)
	if s.Total > 0 {
		_, _ = fmt.Fprintf(w, "Avg score:\t%.1f\n", s.AvgScore)
		_, _ = fmt.Fprintf(w, "Score range:\t%d-%d\n", s.MinScore, s.MaxScore)
	}
	_ = w.Flush()
}

func verdict(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
