// Package config centralises runtime configuration for the gridline engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credentials captures API credentials used for authenticated requests.
type Credentials struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// VenueSettings aggregates transport and credential configuration for the venue.
type VenueSettings struct {
	Name         string        `yaml:"name"`
	RESTBaseURL  string        `yaml:"rest_base_url"`
	WSPublicURL  string        `yaml:"ws_public_url"`
	WSPrivateURL string        `yaml:"ws_private_url"`
	Credentials  Credentials   `yaml:"credentials"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	RecvWindow   time.Duration `yaml:"recv_window"`
}

// GridSettings describes the price ladder and reconciliation parameters.
type GridSettings struct {
	Symbol         string        `yaml:"symbol"`
	StepPercent    float64       `yaml:"step_percent"`
	MinPrice       float64       `yaml:"min_price"`
	MaxPrice       float64       `yaml:"max_price"`
	TargetLevels   int           `yaml:"target_levels"`
	QuotePerLevel  float64       `yaml:"quote_per_level"`
	PassInterval   time.Duration `yaml:"pass_interval"`
	CatalogPath    string        `yaml:"catalog_path"`
	PlacementDelay time.Duration `yaml:"placement_delay"`
}

// JournalSettings configures the optional order-event journal.
type JournalSettings struct {
	DSN           string `yaml:"dsn"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// TelemetrySettings configures metrics export.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Settings contains the gridline configuration tree loaded from defaults,
// an optional yaml file, and environment overrides.
type Settings struct {
	Venue     VenueSettings     `yaml:"venue"`
	Grid      GridSettings      `yaml:"grid"`
	Journal   JournalSettings   `yaml:"journal"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// Default returns the default gridline configuration.
func Default() Settings {
	return Settings{
		Venue: VenueSettings{
			Name:         "binance",
			RESTBaseURL:  "https://api.binance.com",
			WSPublicURL:  "wss://stream.binance.com:9443",
			WSPrivateURL: "wss://stream.binance.com:9443",
			HTTPTimeout:  15 * time.Second,
			RecvWindow:   5 * time.Second,
		},
		Grid: GridSettings{
			Symbol:         "BTCUSDT",
			StepPercent:    0.25,
			TargetLevels:   5,
			QuotePerLevel:  15,
			PassInterval:   5 * time.Second,
			CatalogPath:    "catalog.json",
			PlacementDelay: 250 * time.Millisecond,
		},
		Telemetry: TelemetrySettings{ServiceName: "gridline"},
	}
}

// Load builds the configuration from defaults, the yaml file at path when it
// exists, and environment overrides, in that order.
func Load(path string) (Settings, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_API_KEY")); v != "" {
		cfg.Venue.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_API_SECRET")); v != "" {
		cfg.Venue.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_REST_URL")); v != "" {
		cfg.Venue.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_WS_URL")); v != "" {
		cfg.Venue.WSPublicURL = v
		cfg.Venue.WSPrivateURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_SYMBOL")); v != "" {
		cfg.Grid.Symbol = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_JOURNAL_DSN")); v != "" {
		cfg.Journal.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDLINE_QUOTE_PER_LEVEL")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.Grid.QuotePerLevel = parsed
		}
	}
}

// Validate rejects configurations that cannot produce a working engine.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Venue.RESTBaseURL) == "" {
		return fmt.Errorf("config: venue rest_base_url required")
	}
	if strings.TrimSpace(s.Grid.Symbol) == "" {
		return fmt.Errorf("config: grid symbol required")
	}
	if s.Grid.StepPercent <= 0 {
		return fmt.Errorf("config: grid step_percent must be positive")
	}
	if s.Grid.MinPrice < 0 || s.Grid.MaxPrice < 0 {
		return fmt.Errorf("config: grid price bounds must be non-negative")
	}
	if s.Grid.MaxPrice > 0 && s.Grid.MinPrice >= s.Grid.MaxPrice {
		return fmt.Errorf("config: grid min_price must be below max_price")
	}
	if s.Grid.TargetLevels <= 0 {
		return fmt.Errorf("config: grid target_levels must be positive")
	}
	return nil
}
