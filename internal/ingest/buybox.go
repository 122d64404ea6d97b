package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deal-audit/internal/model"
)

type buyBoxFile struct {
	BuyBoxes []model.BuyBox `json:"buy_boxes" yaml:"buy_boxes"`
}

// LoadBuyBoxes reads buy boxes from a YAML or JSON file. The file holds
// either a list of buy boxes or an object with a "buy_boxes" list.
func LoadBuyBoxes(path string) ([]model.BuyBox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read buy boxes")
	}

	var boxes []model.BuyBox
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		boxes, err = parseBuyBoxesYAML(data)
	default:
		boxes, err = parseBuyBoxesJSON(data)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidateBuyBoxes(boxes); err != nil {
		return nil, err
	}
	return boxes, nil
}

func parseBuyBoxesYAML(data []byte) ([]model.BuyBox, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, eris.Wrap(err, "ingest: parse buy box yaml")
	}
	if len(node.Content) == 0 {
		return []model.BuyBox{}, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		var boxes []model.BuyBox
		if err := node.Decode(&boxes); err != nil {
			return nil, eris.Wrap(err, "ingest: decode buy box list")
		}
		return boxes, nil
	}
	var f buyBoxFile
	if err := node.Decode(&f); err != nil {
		return nil, eris.Wrap(err, "ingest: decode buy box file")
	}
	return f.BuyBoxes, nil
}

func parseBuyBoxesJSON(data []byte) ([]model.BuyBox, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var boxes []model.BuyBox
		if err := json.Unmarshal(trimmed, &boxes); err != nil {
			return nil, eris.Wrap(err, "ingest: decode buy box list")
		}
		return boxes, nil
	}
	var f buyBoxFile
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, eris.Wrap(err, "ingest: decode buy box file")
	}
	return f.BuyBoxes, nil
}

// ValidateBuyBoxes fills missing ids and rejects inverted bounds.
func ValidateBuyBoxes(boxes []model.BuyBox) error {
	for i := range boxes {
		b := &boxes[i]
		if b.ID == "" {
			b.ID = fmt.Sprintf("buybox-%d", i+1)
		}
		if b.MinPrice != nil && b.MaxPrice != nil && *b.MinPrice > *b.MaxPrice {
			return eris.Errorf("ingest: buy box %s: min_price exceeds max_price", b.ID)
		}
		if b.MinARV != nil && b.MaxARV != nil && *b.MinARV > *b.MaxARV {
			return eris.Errorf("ingest: buy box %s: min_arv exceeds max_arv", b.ID)
		}
	}
	return nil
}
