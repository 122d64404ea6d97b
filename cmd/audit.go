package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/ingest"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/pipeline"
)

// errAuditFailed is returned by --fail-on-reject when the audit does not pass.
var errAuditFailed = eris.New("audit did not pass")

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit a batch of scraped listings",
	Long:  "Reads a listing batch (JSON, CSV or XLSX), runs every audit agent and prints the report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		inputFormat, _ := cmd.Flags().GetString("input-format")
		sheet, _ := cmd.Flags().GetString("sheet")
		buyBoxPath, _ := cmd.Flags().GetString("buy-boxes")
		caller, _ := cmd.Flags().GetString("caller")
		session, _ := cmd.Flags().GetString("session")
		offline, _ := cmd.Flags().GetBool("offline")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		failOnReject, _ := cmd.Flags().GetBool("fail-on-reject")

		if err := checkFormat(format); err != nil {
			return err
		}

		records, err := ingest.LoadRecords(ctx, input, ingest.Options{
			Format:     inputFormat,
			MaxResults: cfg.Audit.MaxResults,
			SheetName:  sheet,
		})
		if err != nil {
			return eris.Wrap(err, "audit: load records")
		}

		var boxes []model.BuyBox
		if buyBoxPath != "" {
			boxes, err = ingest.LoadBuyBoxes(buyBoxPath)
			if err != nil {
				return eris.Wrap(err, "audit: load buy boxes")
			}
		}

		if session == "" {
			session = uuid.New().String()
		}

		env, err := initAudit(ctx, offline)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.Run(ctx, pipeline.Request{
			Records:   records,
			BuyBoxes:  boxes,
			CallerID:  caller,
			SessionID: session,
		})
		if err != nil {
			return eris.Wrap(err, "audit")
		}

		w, closeOut, err := openOutput(output)
		if err != nil {
			return err
		}
		defer closeOut() //nolint:errcheck

		if format == formatText {
			formatReport(w, report)
		} else if err := writeJSON(w, report); err != nil {
			return eris.Wrap(err, "audit: write report")
		}

		zap.L().Info("audit finished",
			zap.String("session", session),
			zap.Int("score", report.OverallScore),
			zap.Bool("pass", report.Pass),
		)

		if failOnReject && !report.Pass {
			fmt.Fprintf(os.Stderr, "audit failed: score %d, %d critical alerts\n",
				report.OverallScore, report.CriticalAlerts())
			return errAuditFailed
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringP("input", "i", "-", "listing batch file (json, csv, xlsx) or - for stdin")
	auditCmd.Flags().String("input-format", "", "input format override (json, csv, xlsx)")
	auditCmd.Flags().String("sheet", "", "xlsx sheet name (default first sheet)")
	auditCmd.Flags().String("buy-boxes", "", "buy box file (yaml or json)")
	auditCmd.Flags().String("caller", "cli", "caller id recorded in the audit log")
	auditCmd.Flags().String("session", "", "session id (default random)")
	auditCmd.Flags().Bool("offline", false, "run without a store; nothing is read or recorded")
	auditCmd.Flags().String("format", formatJSON, "output format (json, text)")
	auditCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	auditCmd.Flags().Bool("fail-on-reject", false, "exit non-zero when the audit does not pass")
	rootCmd.AddCommand(auditCmd)
}
