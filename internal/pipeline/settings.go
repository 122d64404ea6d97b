package pipeline

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/dealmath"
	"github.com/sells-group/deal-audit/internal/scorer"
)

// Settings is the configuration of one audit run. It is resolved once per
// invocation and passed by value to every agent.
type Settings struct {
	PassThreshold        int
	DedupPriceVariance   float64
	RelevanceThreshold   int
	MinDescriptionLength int
	MinRequiredFields    int
	MaxResults           int
	BaselineWindow       int
	FetchTimeout         time.Duration
	Weights              config.WeightsConfig
	EntityWeights        config.EntityWeightsConfig
	Governance           dealmath.Governance
}

// DefaultSettings returns the built-in settings used when no config is
// available.
func DefaultSettings() Settings {
	return Settings{
		PassThreshold:        60,
		DedupPriceVariance:   5,
		RelevanceThreshold:   30,
		MinDescriptionLength: 20,
		MinRequiredFields:    4,
		MaxResults:           500,
		BaselineWindow:       20,
		FetchTimeout:         5 * time.Second,
		Weights:              scorer.DefaultWeights(),
		EntityWeights:        scorer.DefaultEntityWeights(),
		Governance:           dealmath.DefaultGovernance(),
	}
}

// SettingsFromConfig builds settings from the loaded application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	a := cfg.Audit
	s.PassThreshold = a.PassThreshold
	s.DedupPriceVariance = a.DedupPriceVariance
	s.RelevanceThreshold = a.RelevanceThreshold
	s.MinDescriptionLength = a.MinDescriptionLength
	s.MinRequiredFields = a.MinRequiredFields
	s.MaxResults = a.MaxResults
	s.BaselineWindow = a.BaselineWindow
	if a.FetchTimeoutSecs > 0 {
		s.FetchTimeout = time.Duration(a.FetchTimeoutSecs) * time.Second
	}
	s.Weights = a.Weights
	s.EntityWeights = a.EntityWeights
	s.Governance = cfg.Governance
	return s
}

// Overlay applies config-store key/value overrides on top of s. Unknown keys
// are ignored; values that fail to parse are logged and skipped.
func (s Settings) Overlay(kv map[string]string) Settings {
	for key, raw := range kv {
		raw = strings.TrimSpace(raw)
		var err error
		switch key {
		case "pass_threshold":
			s.PassThreshold, err = overlayInt(raw, s.PassThreshold)
		case "dedup_price_variance":
			s.DedupPriceVariance, err = overlayFloat(raw, s.DedupPriceVariance)
		case "relevance_threshold":
			s.RelevanceThreshold, err = overlayInt(raw, s.RelevanceThreshold)
		case "min_description_length":
			s.MinDescriptionLength, err = overlayInt(raw, s.MinDescriptionLength)
		case "min_required_fields":
			s.MinRequiredFields, err = overlayInt(raw, s.MinRequiredFields)
		case "max_results":
			s.MaxResults, err = overlayInt(raw, s.MaxResults)
		case "default_closing_costs":
			s.Governance.ClosingCostsPct, err = overlayFloat(raw, s.Governance.ClosingCostsPct)
		case "default_holding_costs":
			s.Governance.HoldingCostsPct, err = overlayFloat(raw, s.Governance.HoldingCostsPct)
		case "max_allowable_offer_factor":
			s.Governance.MAOFactor, err = overlayFloat(raw, s.Governance.MAOFactor)
		case "high_roi_threshold":
			s.Governance.HighROIWarningThreshold, err = overlayFloat(raw, s.Governance.HighROIWarningThreshold)
		case "low_equity_threshold":
			s.Governance.LowEquityThreshold, err = overlayFloat(raw, s.Governance.LowEquityThreshold)
		default:
			continue
		}
		if err != nil {
			zap.L().Warn("pipeline: ignoring invalid config value",
				zap.String("key", key),
				zap.String("value", raw),
				zap.Error(err),
			)
		}
	}
	return s
}

// ConfigKeys lists the config-store keys Overlay understands.
var ConfigKeys = []string{
	"pass_threshold",
	"dedup_price_variance",
	"relevance_threshold",
	"min_description_length",
	"min_required_fields",
	"max_results",
	"default_closing_costs",
	"default_holding_costs",
	"max_allowable_offer_factor",
	"high_roi_threshold",
	"low_equity_threshold",
}

// ValidateConfigValue checks that key is known and raw parses as a number.
func ValidateConfigValue(key, raw string) error {
	if !slices.Contains(ConfigKeys, key) {
		return eris.Errorf("pipeline: unknown config key %q", key)
	}
	if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err != nil {
		return eris.Wrapf(err, "pipeline: config %s must be numeric", key)
	}
	return nil
}

func overlayInt(raw string, current int) (int, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return current, err
	}
	return int(f), nil
}

func overlayFloat(raw string, current float64) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return current, err
	}
	return f, nil
}

func (s Settings) relevanceOptions() RelevanceOptions {
	return RelevanceOptions{
		Threshold:            s.RelevanceThreshold,
		MinDescriptionLength: s.MinDescriptionLength,
		MinRequiredFields:    s.MinRequiredFields,
		EntityWeights:        s.EntityWeights,
		Governance:           s.Governance,
	}
}
