package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const marketsYAML = `
markets:
  - symbol: eth/usd
    max_leverage: 20
    risk_parameters:
      initial_margin_ratio: 1000
      maintenance_margin_ratio: 500
      liquidation_fee_ratio: 100
      insurance_fee_ratio: 50
      max_leverage: 10
      max_position_size: "1000000"
      liquidation_threshold: 300
      max_liquidation_ratio: 5000
  - symbol: BTC/USD
    max_leverage: 10
    active: false
`

func TestParseMarkets(t *testing.T) {
	seeds, err := ParseMarkets(strings.NewReader(marketsYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(seeds))
	}

	eth := seeds[0]
	if eth.Symbol != "ETH/USD" {
		t.Errorf("symbol should be normalized, got %s", eth.Symbol)
	}
	if eth.RiskParameters == nil || eth.RiskParameters.MaintenanceMarginRatio != 500 {
		t.Errorf("risk parameters not parsed: %+v", eth.RiskParameters)
	}
	if eth.RiskParameters.MaxPositionSize.String() != "1000000" {
		t.Errorf("max position size not parsed: %s", eth.RiskParameters.MaxPositionSize)
	}
	if eth.Active != nil {
		t.Error("active should be nil when omitted")
	}

	btc := seeds[1]
	if btc.Active == nil || *btc.Active {
		t.Error("BTC/USD should be inactive")
	}
	if btc.RiskParameters != nil {
		t.Error("BTC/USD should use default risk parameters")
	}
}

func TestParseMarkets_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad symbol", "markets:\n  - symbol: ETHUSD\n    max_leverage: 5\n", "market #1"},
		{"duplicate", "markets:\n  - symbol: ETH/USD\n    max_leverage: 5\n  - symbol: eth/usd\n    max_leverage: 5\n", "duplicate"},
		{"zero leverage", "markets:\n  - symbol: ETH/USD\n    max_leverage: 0\n", "max_leverage"},
		{"unknown field", "markets:\n  - symbol: ETH/USD\n    max_leverage: 5\n    leverage: 5\n", "invalid yaml"},
		{"invalid risk", "markets:\n  - symbol: ETH/USD\n    max_leverage: 5\n    risk_parameters:\n      initial_margin_ratio: 100\n      maintenance_margin_ratio: 500\n", "ETH/USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMarkets(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseMarkets_Empty(t *testing.T) {
	seeds, err := ParseMarkets(strings.NewReader(""))
	if err != nil || seeds != nil {
		t.Errorf("empty file should yield no markets, got %v %v", seeds, err)
	}
}

func TestLoadFromEnv_MarketsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	if err := os.WriteFile(path, []byte(marketsYAML), 0o600); err != nil {
		t.Fatalf("write markets file: %v", err)
	}
	setEnv(t, map[string]string{"GOVERNANCE_ADDRESS": governanceHex, "MARKETS_FILE": path})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Markets) != 2 {
		t.Errorf("expected 2 markets, got %d", len(cfg.Markets))
	}

	t.Setenv("MARKETS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadFromEnv(); err == nil {
		t.Error("missing markets file should fail")
	}
}

func TestLoadMarkets_ExampleFile(t *testing.T) {
	seeds, err := LoadMarkets(filepath.Join("..", "..", "markets.example.yaml"))
	if err != nil {
		t.Fatalf("example file should parse: %v", err)
	}
	if len(seeds) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(seeds))
	}
	if seeds[1].RiskParameters == nil || seeds[1].RiskParameters.MaxPositionSize.String() != "5000000" {
		t.Errorf("BTC/USD risk parameters not loaded: %+v", seeds[1].RiskParameters)
	}
	if seeds[2].Active == nil || *seeds[2].Active {
		t.Error("SOL/USD should be inactive")
	}
}
