package model

// BuyBox describes an investor's acquisition criteria. Empty lists and nil
// bounds mean "no constraint".
type BuyBox struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	PropertyTypes       []string `json:"property_types,omitempty" yaml:"property_types"`
	DealTypes           []string `json:"deal_types,omitempty" yaml:"deal_types"`
	MinPrice            *float64 `json:"min_price,omitempty" yaml:"min_price"`
	MaxPrice            *float64 `json:"max_price,omitempty" yaml:"max_price"`
	MinARV              *float64 `json:"min_arv,omitempty" yaml:"min_arv"`
	MaxARV              *float64 `json:"max_arv,omitempty" yaml:"max_arv"`
	MinEquity           *float64 `json:"min_equity,omitempty" yaml:"min_equity"`
	TargetCities        []string `json:"target_cities,omitempty" yaml:"target_cities"`
	TargetStates        []string `json:"target_states,omitempty" yaml:"target_states"`
	TargetZipCodes      []string `json:"target_zip_codes,omitempty" yaml:"target_zip_codes"`
	PreferredConditions []string `json:"preferred_conditions,omitempty" yaml:"preferred_conditions"`
}

// Label returns the name, falling back to the id.
func (b BuyBox) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}
