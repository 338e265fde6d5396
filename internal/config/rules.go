package config

import (
	"fmt"
	"log"
	"os"

	"phrase_trading/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// marketEntry is the YAML shape of one rule. Numeric fields come in as
// floats and are converted to decimals before validation:
//
//	markets:
//	  - market_id: crypto_market
//	    token_id: "3660410095..."
//	    keywords: [crypto, bitcoin, cryptocurrency]
//	    trigger_type: ANY
//	    side: BUY
//	    price: 0.9
//	    size: 432
type marketEntry struct {
	MarketID      string   `yaml:"market_id"`
	TokenID       string   `yaml:"token_id"`
	Keywords      []string `yaml:"keywords"`
	TriggerType   string   `yaml:"trigger_type"`
	MatchMode     string   `yaml:"match_mode"`
	Side          string   `yaml:"side"`
	Price         float64  `yaml:"price"`
	Size          float64  `yaml:"size"`
	MaxPosition   float64  `yaml:"max_position"`
	MinConfidence float64  `yaml:"min_confidence"`
	Disabled      bool     `yaml:"disabled"`
}

type rulesFile struct {
	Markets []marketEntry `yaml:"markets"`
}

// LoadRules reads and validates the market rule set. Rules missing a
// trigger_type, match_mode or min_confidence inherit the global defaults
// before validation, so the YAML stays short for the common case.
func LoadRules(cfg *Settings) (*models.RuleSet, error) {
	b, err := os.ReadFile(cfg.MarketsFile)
	if err != nil {
		return nil, fmt.Errorf("read markets file %s: %w", cfg.MarketsFile, err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse markets file %s: %w", cfg.MarketsFile, err)
	}

	rules := make([]models.MarketRule, 0, len(f.Markets))
	for _, m := range f.Markets {
		r := models.MarketRule{
			MarketID:      m.MarketID,
			TokenID:       m.TokenID,
			Keywords:      m.Keywords,
			TriggerType:   models.TriggerType(m.TriggerType),
			MatchMode:     models.MatchMode(m.MatchMode),
			Side:          models.Side(m.Side),
			Price:         decimal.NewFromFloat(m.Price),
			Size:          decimal.NewFromFloat(m.Size),
			MaxPosition:   decimal.NewFromFloat(m.MaxPosition),
			MinConfidence: m.MinConfidence,
			Disabled:      m.Disabled,
		}
		if r.TriggerType == "" {
			r.TriggerType = models.TriggerAny
		}
		if r.MatchMode == "" {
			r.MatchMode = cfg.DefaultMatchMode()
		}
		if r.MinConfidence == 0 {
			r.MinConfidence = cfg.MinConfidence
		}
		rules = append(rules, r)
	}

	rs, err := models.NewRuleSet(rules)
	if err != nil {
		return nil, err
	}

	log.Printf("Configuration loaded: %d markets from %s", rs.Len(), cfg.MarketsFile)
	return rs, nil
}
