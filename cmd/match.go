package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/ingest"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/pipeline"
	"github.com/sells-group/deal-audit/internal/scorer"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Score listings against investor buy boxes",
	Long:  "Recalculates each listing's deal metrics and ranks its fit against every buy box, best fit first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		inputFormat, _ := cmd.Flags().GetString("input-format")
		buyBoxPath, _ := cmd.Flags().GetString("buy-boxes")
		offline, _ := cmd.Flags().GetBool("offline")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		if err := checkFormat(format); err != nil {
			return err
		}

		records, err := ingest.LoadRecords(ctx, input, ingest.Options{
			Format:     inputFormat,
			MaxResults: cfg.Audit.MaxResults,
		})
		if err != nil {
			return eris.Wrap(err, "match: load records")
		}
		boxes, err := ingest.LoadBuyBoxes(buyBoxPath)
		if err != nil {
			return eris.Wrap(err, "match: load buy boxes")
		}

		gov, err := resolveGovernance(ctx, offline)
		if err != nil {
			return err
		}

		results := matchRecords(records, boxes, gov)

		w, closeOut, err := openOutput(output)
		if err != nil {
			return err
		}
		defer closeOut() //nolint:errcheck

		if format == formatText {
			formatMatches(w, results)
			return nil
		}
		return writeJSON(w, results)
	},
}

func init() {
	matchCmd.Flags().StringP("input", "i", "-", "listing file (json, csv, xlsx) or - for stdin")
	matchCmd.Flags().String("input-format", "", "input format override (json, csv, xlsx)")
	matchCmd.Flags().String("buy-boxes", "", "buy box file (yaml or json)")
	matchCmd.Flags().Bool("offline", false, "ignore governance overrides in the config store")
	matchCmd.Flags().String("format", formatJSON, "output format (json, text)")
	matchCmd.Flags().StringP("output", "o", "", "write results to a file instead of stdout")
	_ = matchCmd.MarkFlagRequired("buy-boxes")
	rootCmd.AddCommand(matchCmd)
}

// resolveGovernance returns the configured governance, overlaid with the
// config store unless offline.
func resolveGovernance(ctx context.Context, offline bool) (dealmath.Governance, error) {
	if offline {
		return pipeline.SettingsFromConfig(cfg).Governance, nil
	}
	st, err := initStore(ctx)
	if err != nil {
		return dealmath.Governance{}, err
	}
	defer st.Close() //nolint:errcheck

	p := pipeline.New(st, nil, pipeline.SettingsFromConfig(cfg))
	return p.ResolveSettings(ctx).Governance, nil
}

// matchRecords coerces each record and scores it against every buy box.
func matchRecords(records []model.RawRecord, boxes []model.BuyBox, gov dealmath.Governance) []recordMatches {
	out := make([]recordMatches, 0, len(records))
	for i, rec := range records {
		coerced, _ := pipeline.Coerce(rec)
		l := model.DecodeListing(coerced)
		out = append(out, recordMatches{
			RecordIndex: i,
			Title:       l.Title,
			Matches:     scorer.MatchAll(l, boxes, gov),
		})
	}
	return out
}
