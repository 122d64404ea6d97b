package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Calculate deal metrics and governance findings for one deal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		price, _ := cmd.Flags().GetFloat64("price")
		arv, _ := cmd.Flags().GetFloat64("arv")
		repairs, _ := cmd.Flags().GetFloat64("repairs")
		fee, _ := cmd.Flags().GetFloat64("assignment-fee")
		sqft, _ := cmd.Flags().GetFloat64("sqft")
		condition, _ := cmd.Flags().GetString("condition")
		offline, _ := cmd.Flags().GetBool("offline")
		format, _ := cmd.Flags().GetString("format")

		if err := checkFormat(format); err != nil {
			return err
		}

		gov, err := resolveGovernance(ctx, offline)
		if err != nil {
			return err
		}

		res := dealmath.Audit(dealmath.DealInput{
			AskingPrice:    price,
			ARV:            arv,
			RepairEstimate: repairs,
			AssignmentFee:  fee,
			Sqft:           sqft,
			Condition:      condition,
		}, gov)

		if format == formatText {
			formatGovernance(cmd.OutOrStdout(), res)
			return nil
		}
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return eris.Wrap(err, "analyze: write result")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Float64("price", 0, "asking price")
	analyzeCmd.Flags().Float64("arv", 0, "after-repair value")
	analyzeCmd.Flags().Float64("repairs", 0, "repair estimate")
	analyzeCmd.Flags().Float64("assignment-fee", 0, "assignment fee")
	analyzeCmd.Flags().Float64("sqft", 0, "living area in square feet")
	analyzeCmd.Flags().String("condition", "", "property condition (excellent, good, fair, poor, distressed)")
	analyzeCmd.Flags().Bool("offline", false, "ignore governance overrides in the config store")
	analyzeCmd.Flags().String("format", formatJSON, "output format (json, text)")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeRecord coerces a raw record and audits its deal math.
func analyzeRecord(rec model.RawRecord, gov dealmath.Governance) dealmath.GovernanceResult {
	coerced, _ := pipeline.Coerce(rec)
	return dealmath.Audit(model.DecodeListing(coerced).DealInput(), gov)
}
