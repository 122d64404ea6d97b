package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/pipeline"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage audit thresholds stored in the config table",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored config overrides",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kv, err := st.FetchConfig(ctx)
		if err != nil {
			return eris.Wrap(err, "config list")
		}
		if len(kv) == 0 {
			fmt.Fprintln(os.Stderr, "No config overrides stored.")
			return nil
		}

		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "KEY\tVALUE")
		_, _ = fmt.Fprintln(w, "---\t-----")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", k, kv[k])
		}
		return w.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a config override",
	Long:  "Stores a threshold override. Known keys: " + strings.Join(pipeline.ConfigKeys, ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := pipeline.ValidateConfigValue(args[0], args[1]); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetConfig(ctx, args[0], strings.TrimSpace(args[1])); err != nil {
			return eris.Wrap(err, "config set")
		}
		fmt.Fprintf(os.Stderr, "Set %s = %s\n", args[0], args[1])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings after store overrides",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(st, nil, pipeline.SettingsFromConfig(cfg))
		return writeJSON(os.Stdout, p.ResolveSettings(ctx))
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage source domain whitelist and blacklist rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domain rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rules, err := st.FetchDomainRules(ctx)
		if err != nil {
			return eris.Wrap(err, "rules list")
		}
		if len(rules) == 0 {
			fmt.Fprintln(os.Stderr, "No domain rules.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "DOMAIN\tRULE")
		_, _ = fmt.Fprintln(w, "------\t----")
		for _, r := range rules {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", r.Domain, r.RuleType)
		}
		return w.Flush()
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <domain> <whitelist|blacklist>",
	Short: "Add a domain rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ruleType := strings.ToLower(args[1])
		if ruleType != model.RuleWhitelist && ruleType != model.RuleBlacklist {
			return eris.Errorf("rule type must be %s or %s", model.RuleWhitelist, model.RuleBlacklist)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.AddDomainRule(ctx, model.DomainRule{Domain: args[0], RuleType: ruleType}); err != nil {
			return eris.Wrap(err, "rules add")
		}
		fmt.Fprintf(os.Stderr, "Added %s rule for %s\n", ruleType, args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(rulesCmd)
}
