package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"phrase_trading/internal/models"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Settings holds the global knobs that apply across all markets.
// Everything comes from the environment (optionally seeded from a .env file);
// per-market trading rules live in the YAML file named by MarketsFile.
type Settings struct {
	PreventDuplicateTrades bool    `env:"PREVENT_DUPLICATE_TRADES" envDefault:"true"`
	MaxDailyVolume         float64 `env:"MAX_DAILY_VOLUME" envDefault:"1000"`
	SlippageTolerancePct   float64 `env:"DEFAULT_SLIPPAGE_TOLERANCE" envDefault:"0.5"`
	RequireConfirmation    bool    `env:"REQUIRE_CONFIRMATION" envDefault:"false"`
	OrderTimeoutSec        int     `env:"ORDER_TIMEOUT_SEC" envDefault:"10"`
	MinConfidence          float64 `env:"MIN_CONFIDENCE" envDefault:"0.7"`
	ExactMatching          bool    `env:"EXACT_MATCHING" envDefault:"false"`
	ConfirmationTTLSec     int     `env:"CONFIRMATION_TTL_SEC" envDefault:"300"`
	TradingTimezone        string  `env:"TRADING_TIMEZONE" envDefault:"UTC"`

	MarketsFile      string `env:"MARKETS_FILE" envDefault:"markets.yaml"`
	RecognizerSource string `env:"RECOGNIZER_SOURCE" envDefault:"line"`
	RecognizerWSURL  string `env:"RECOGNIZER_WS_URL"`

	ClobAPIURL        string `env:"CLOB_API_URL" envDefault:"https://clob.polymarket.com"`
	ClobAPIKey        string `env:"CLOB_API_KEY"`
	ClobAPISecret     string `env:"CLOB_API_SECRET"`
	ClobAPIPassphrase string `env:"CLOB_API_PASSPHRASE"`

	MaxLogSizeMB  int64 `env:"MAX_LOG_SIZE_MB" envDefault:"10"`
	MaxLogBackups int   `env:"MAX_LOG_BACKUPS" envDefault:"3"`

	Version string `env:"-"`

	// DayLoc is the resolved TradingTimezone, used for the daily volume
	// boundary. Never nil after Load.
	DayLoc *time.Location `env:"-"`
}

// OrderTimeout is OrderTimeoutSec as a duration.
func (s *Settings) OrderTimeout() time.Duration {
	return time.Duration(s.OrderTimeoutSec) * time.Second
}

// ConfirmationTTL is ConfirmationTTLSec as a duration.
func (s *Settings) ConfirmationTTL() time.Duration {
	return time.Duration(s.ConfirmationTTLSec) * time.Second
}

// MaxDailyVolumeUSD is the daily cap as a decimal for the volume tracker.
func (s *Settings) MaxDailyVolumeUSD() decimal.Decimal {
	return decimal.NewFromFloat(s.MaxDailyVolume)
}

// Load initializes the configuration from .env plus the process environment.
// Missing credentials for the trading venue are fatal: we would rather not
// start than silently drop every order later.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	requiredSecretVars := []string{
		"CLOB_API_KEY",
		"CLOB_API_SECRET",
		"CLOB_API_PASSPHRASE",
	}
	var missing []string
	for _, key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.MaxDailyVolume <= 0 {
		return nil, fmt.Errorf("MAX_DAILY_VOLUME must be positive, got %f", cfg.MaxDailyVolume)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("MIN_CONFIDENCE must be in [0,1], got %f", cfg.MinConfidence)
	}
	if cfg.OrderTimeoutSec <= 0 {
		return nil, fmt.Errorf("ORDER_TIMEOUT_SEC must be positive, got %d", cfg.OrderTimeoutSec)
	}

	loc, err := time.LoadLocation(cfg.TradingTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TRADING_TIMEZONE %q: %w", cfg.TradingTimezone, err)
	}
	cfg.DayLoc = loc

	logEnvFile(requiredSecretVars)

	return cfg, nil
}

// logEnvFile echoes the variables found in .env with secrets masked, so a
// startup log is enough to diagnose most misconfigurations.
func logEnvFile(secretKeys []string) {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	secrets := make(map[string]bool, len(secretKeys))
	for _, k := range secretKeys {
		secrets[k] = true
	}
	log.Println("--- .env File Variables ---")
	for key, val := range envMap {
		if secrets[key] {
			masked := "***"
			if len(val) > 4 {
				masked = "***" + val[len(val)-4:]
			}
			log.Printf("%s=%s", key, masked)
		} else {
			log.Printf("%s=%s", key, val)
		}
	}
	log.Println("---------------------------")
}

// DefaultMatchMode maps the global EXACT_MATCHING flag to the mode used by
// rules that don't set one explicitly.
func (s *Settings) DefaultMatchMode() models.MatchMode {
	if s.ExactMatching {
		return models.MatchExact
	}
	return models.MatchFuzzy
}
