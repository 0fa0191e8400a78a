package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const minimalPaperConfig = `
gateway:
  paper: true
  initialBalances:
    USDT: 1000
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalPaperConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("env = %s", cfg.Env)
	}
	if cfg.Engine.CycleIntervalSec != 20 || cfg.Engine.MaxRetries != 3 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Risk.MaxDailyTrades != 50 || cfg.Risk.MaxDailyLossPct != 2.0 {
		t.Errorf("risk defaults = %+v", cfg.Risk)
	}
	if cfg.Sizing.ReinvestmentRate != 0.3 || cfg.Sizing.MaxMultiplier != 2.0 {
		t.Errorf("sizing defaults = %+v", cfg.Sizing)
	}
	if cfg.Metrics.Listen != ":9090" || !cfg.Metrics.Enabled {
		t.Errorf("metrics defaults = %+v", cfg.Metrics)
	}

	sc := cfg.Symbols["BTCUSDT"]
	if !sc.SellQuantityUsesCenterPrice {
		t.Error("sellQuantityUsesCenterPrice should default to true")
	}
	if sc.GridSizePercent != 2.0 || sc.NumGrids != 5 {
		t.Errorf("grid defaults = %+v", sc)
	}
	if sc.ResetThresholdPct != 15.0 || sc.ResetCooldownMin != 60 {
		t.Errorf("reset defaults = %+v", sc)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
engine:
  cycleIntervalSec: 30
  sellLossTolerancePct: 0.5
gateway:
  paper: true
symbols:
  ETHUSDT:
    baseAsset: ETH
    quoteAsset: USDT
    baseOrderSize: 50
    gridSizePercent: 1.5
    numGrids: 8
    sellQuantityUsesCenterPrice: false
    stepSize: 0.001
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.CycleIntervalSec != 30 || cfg.Engine.SellLossTolerancePct != 0.5 {
		t.Errorf("engine overrides = %+v", cfg.Engine)
	}
	// 没写的字段仍保持默认。
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("maxRetries = %d, want default 3", cfg.Engine.MaxRetries)
	}

	sc := cfg.Symbols["ETHUSDT"]
	if sc.SellQuantityUsesCenterPrice {
		t.Error("explicit false should survive defaults")
	}
	if sc.GridSizePercent != 1.5 || sc.NumGrids != 8 || sc.StepSize != 0.001 {
		t.Errorf("symbol overrides = %+v", sc)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "live mode without keys",
			yaml: `
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
`,
			wantErr: "apiKey",
		},
		{
			name: "no symbols",
			yaml: `
gateway:
  paper: true
`,
			wantErr: "at least one symbol",
		},
		{
			name: "zero order size",
			yaml: `
gateway:
  paper: true
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
`,
			wantErr: "baseOrderSize",
		},
		{
			name: "missing assets",
			yaml: `
gateway:
  paper: true
symbols:
  BTCUSDT:
    baseOrderSize: 100
`,
			wantErr: "baseAsset",
		},
		{
			name: "bad grid size",
			yaml: `
gateway:
  paper: true
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
    gridSizePercent: 100
`,
			wantErr: "gridSizePercent",
		},
		{
			name: "zero grids",
			yaml: `
gateway:
  paper: true
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
    numGrids: -1
`,
			wantErr: "numGrids",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
`)
	t.Setenv("GT_API_KEY", "env-key")
	t.Setenv("GT_API_SECRET", "env-secret")
	t.Setenv("GT_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("GT_TELEGRAM_CHAT_ID", "env-chat")

	cfg, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.APIKey != "env-key" || cfg.Gateway.APISecret != "env-secret" {
		t.Errorf("gateway overrides = %+v", cfg.Gateway)
	}
	if cfg.Alert.Telegram.BotToken != "env-token" || cfg.Alert.Telegram.ChatID != "env-chat" {
		t.Errorf("telegram overrides = %+v", cfg.Alert.Telegram)
	}
}

func TestLoadYamlKeysWinOverDefaultsButLoseToEnv(t *testing.T) {
	path := writeTempConfig(t, `
gateway:
  apiKey: yaml-key
  apiSecret: yaml-secret
symbols:
  BTCUSDT:
    baseAsset: BTC
    quoteAsset: USDT
    baseOrderSize: 100
`)
	t.Setenv("GT_API_KEY", "env-key")

	cfg, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.APIKey != "env-key" {
		t.Errorf("apiKey = %s, env should win", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.APISecret != "yaml-secret" {
		t.Errorf("apiSecret = %s, yaml should stay", cfg.Gateway.APISecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
