package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "binance", cfg.Venue.Name)
	require.Equal(t, "https://api.binance.com", cfg.Venue.RESTBaseURL)
	require.Equal(t, "BTCUSDT", cfg.Grid.Symbol)
	require.Equal(t, 5, cfg.Grid.TargetLevels)
	require.Equal(t, 5*time.Second, cfg.Grid.PassInterval)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
venue:
  rest_base_url: https://testnet.binance.vision
  credentials:
    api_key: file-key
    api_secret: file-secret
grid:
  symbol: ethusdt
  step_percent: 0.5
  target_levels: 7
  quote_per_level: 25
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://testnet.binance.vision", cfg.Venue.RESTBaseURL)
	require.Equal(t, "file-key", cfg.Venue.Credentials.APIKey)
	require.Equal(t, "ethusdt", cfg.Grid.Symbol)
	require.Equal(t, 0.5, cfg.Grid.StepPercent)
	require.Equal(t, 7, cfg.Grid.TargetLevels)
	require.Equal(t, 25.0, cfg.Grid.QuotePerLevel)
	// Untouched keys keep their defaults.
	require.Equal(t, "wss://stream.binance.com:9443", cfg.Venue.WSPublicURL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
venue:
  credentials:
    api_key: file-key
`), 0o644))

	t.Setenv("GRIDLINE_API_KEY", "env-key")
	t.Setenv("GRIDLINE_API_SECRET", "env-secret")
	t.Setenv("GRIDLINE_SYMBOL", "solusdt")
	t.Setenv("GRIDLINE_QUOTE_PER_LEVEL", "42.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.Venue.Credentials.APIKey)
	require.Equal(t, "env-secret", cfg.Venue.Credentials.APISecret)
	require.Equal(t, "SOLUSDT", cfg.Grid.Symbol)
	require.Equal(t, 42.5, cfg.Grid.QuotePerLevel)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("venue: [broken"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
		ok     bool
	}{
		{"defaults", func(s *Settings) {}, true},
		{"missing rest url", func(s *Settings) { s.Venue.RESTBaseURL = "" }, false},
		{"missing symbol", func(s *Settings) { s.Grid.Symbol = " " }, false},
		{"zero step", func(s *Settings) { s.Grid.StepPercent = 0 }, false},
		{"negative bound", func(s *Settings) { s.Grid.MinPrice = -1 }, false},
		{"inverted bounds", func(s *Settings) { s.Grid.MinPrice = 10; s.Grid.MaxPrice = 5 }, false},
		{"zero levels", func(s *Settings) { s.Grid.TargetLevels = 0 }, false},
		{"bounds unset is fine", func(s *Settings) { s.Grid.MinPrice = 0; s.Grid.MaxPrice = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
