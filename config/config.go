package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"grid-trader-go/infrastructure/logger"
)

// AppConfig 运行时总配置。
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Engine  EngineConfig            `yaml:"engine"`
	Risk    RiskConfig              `yaml:"risk"`
	Sizing  SizingConfig            `yaml:"sizing"`
	Gateway GatewayConfig           `yaml:"gateway"`
	Journal JournalConfig           `yaml:"journal"`
	Alert   AlertConfig             `yaml:"alert"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Log     logger.Config           `yaml:"log"`
	Symbols map[string]SymbolConfig `yaml:"symbols"`
}

// EngineConfig 执行协调器参数。间隔/超时用带单位后缀的整数表达。
type EngineConfig struct {
	CycleIntervalSec        int     `yaml:"cycleIntervalSec"`
	MaxRetries              int     `yaml:"maxRetries"`
	RetryBackoffMs          int     `yaml:"retryBackoffMs"`
	SubmitTimeoutSec        int     `yaml:"submitTimeoutSec"`
	ConsecutiveFailureLimit int     `yaml:"consecutiveFailureLimit"`
	MaxOrdersPerCycle       int     `yaml:"maxOrdersPerCycle"`
	SellLossTolerancePct    float64 `yaml:"sellLossTolerancePct"`
	BuyPremiumTolerancePct  float64 `yaml:"buyPremiumTolerancePct"`
	PriceStaleSec           int     `yaml:"priceStaleSec"`
}

// RiskConfig 风控闸门参数。
type RiskConfig struct {
	MaxDailyTrades  int     `yaml:"maxDailyTrades"`
	MaxDailyLossPct float64 `yaml:"maxDailyLossPct"`
	MaxOrderValue   float64 `yaml:"maxOrderValue"`
}

// SizingConfig 复利仓位参数,作用于每个符号各自的 Sizer。
type SizingConfig struct {
	ReinvestmentRate   float64 `yaml:"reinvestmentRate"`
	MaxMultiplier      float64 `yaml:"maxMultiplier"`
	MinProfitThreshold float64 `yaml:"minProfitThreshold"`
	MinDelta           float64 `yaml:"minDelta"`
}

// GatewayConfig 交易所接入配置。
type GatewayConfig struct {
	APIKey           string             `yaml:"apiKey"`
	APISecret        string             `yaml:"apiSecret"`
	BaseURL          string             `yaml:"baseURL"`
	WSURL            string             `yaml:"wsURL"`
	RateLimitPerSec  float64            `yaml:"rateLimitPerSec"`
	RateBurst        int                `yaml:"rateBurst"`
	Paper            bool               `yaml:"paper"`
	PaperSlippageBps float64            `yaml:"paperSlippageBps"`
	InitialBalances  map[string]float64 `yaml:"initialBalances"`
}

// JournalConfig 成交日志配置。Path 为空时使用内存日志。
type JournalConfig struct {
	Path string `yaml:"path"`
}

// AlertConfig 告警配置。
type AlertConfig struct {
	ThrottleMinutes int            `yaml:"throttleMinutes"`
	Telegram        TelegramConfig `yaml:"telegram"`
}

// TelegramConfig Telegram 通道配置。
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatID"`
}

// MetricsConfig 指标暴露配置。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SymbolConfig 单个交易对的网格与精度配置。
type SymbolConfig struct {
	BaseAsset  string `yaml:"baseAsset"`
	QuoteAsset string `yaml:"quoteAsset"`

	GridSizePercent             float64 `yaml:"gridSizePercent"`
	NumGrids                    int     `yaml:"numGrids"`
	BaseOrderSize               float64 `yaml:"baseOrderSize"`
	SellQuantityUsesCenterPrice bool    `yaml:"sellQuantityUsesCenterPrice"`
	ResetThresholdPct           float64 `yaml:"resetThresholdPct"`
	ResetCooldownMin            int     `yaml:"resetCooldownMin"`

	StepSize    float64 `yaml:"stepSize"`
	MinQty      float64 `yaml:"minQty"`
	MaxQty      float64 `yaml:"maxQty"`
	MinNotional float64 `yaml:"minNotional"`
}

// UnmarshalYAML 先落默认值再解码,缺省字段保持默认。
func (s *SymbolConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw SymbolConfig
	r := raw(defaultSymbolConfig())
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = SymbolConfig(r)
	return nil
}

func defaultSymbolConfig() SymbolConfig {
	return SymbolConfig{
		GridSizePercent:             2.0,
		NumGrids:                    5,
		SellQuantityUsesCenterPrice: true,
		ResetThresholdPct:           15.0,
		ResetCooldownMin:            60,
	}
}

// DefaultConfig 返回缺省总配置,Load 在其上解码。
func DefaultConfig() AppConfig {
	return AppConfig{
		Env: "dev",
		Engine: EngineConfig{
			CycleIntervalSec:        20,
			MaxRetries:              3,
			RetryBackoffMs:          500,
			SubmitTimeoutSec:        10,
			ConsecutiveFailureLimit: 5,
			SellLossTolerancePct:    1.0,
			BuyPremiumTolerancePct:  2.0,
			PriceStaleSec:           30,
		},
		Risk: RiskConfig{
			MaxDailyTrades:  50,
			MaxDailyLossPct: 2.0,
		},
		Sizing: SizingConfig{
			ReinvestmentRate:   0.3,
			MaxMultiplier:      2.0,
			MinProfitThreshold: 5.0,
			MinDelta:           0.05,
		},
		Gateway: GatewayConfig{
			BaseURL:         "https://api.binance.com",
			WSURL:           "wss://stream.binance.com:9443",
			RateLimitPerSec: 10,
			RateBurst:       20,
		},
		Journal: JournalConfig{
			Path: "grid_trader.db",
		},
		Alert: AlertConfig{
			ThrottleMinutes: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
		Log: logger.DefaultConfig(),
	}
}

// Validate 检查配置完整性。纸面模式不要求密钥。
func Validate(cfg AppConfig) error {
	if cfg.Engine.CycleIntervalSec <= 0 {
		return fmt.Errorf("engine.cycleIntervalSec must be > 0")
	}
	if cfg.Engine.MaxRetries < 1 {
		return fmt.Errorf("engine.maxRetries must be >= 1")
	}
	if cfg.Risk.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.maxDailyTrades must be > 0")
	}
	if cfg.Risk.MaxDailyLossPct <= 0 {
		return fmt.Errorf("risk.maxDailyLossPct must be > 0")
	}
	if cfg.Sizing.ReinvestmentRate < 0 || cfg.Sizing.ReinvestmentRate > 1 {
		return fmt.Errorf("sizing.reinvestmentRate must be in [0, 1]")
	}
	if cfg.Sizing.MaxMultiplier < 1 {
		return fmt.Errorf("sizing.maxMultiplier must be >= 1")
	}
	if !cfg.Gateway.Paper && (cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "") {
		return fmt.Errorf("gateway.apiKey/apiSecret is required for live mode (or env overrides)")
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	for sym, sc := range cfg.Symbols {
		if sc.BaseAsset == "" || sc.QuoteAsset == "" {
			return fmt.Errorf("symbol %s: baseAsset/quoteAsset is required", sym)
		}
		if sc.BaseOrderSize <= 0 {
			return fmt.Errorf("symbol %s: baseOrderSize must be > 0", sym)
		}
		if sc.GridSizePercent <= 0 || sc.GridSizePercent >= 100 {
			return fmt.Errorf("symbol %s: gridSizePercent must be in (0, 100)", sym)
		}
		if sc.NumGrids < 1 {
			return fmt.Errorf("symbol %s: numGrids must be >= 1", sym)
		}
		if sc.StepSize < 0 || sc.MinQty < 0 || sc.MaxQty < 0 || sc.MinNotional < 0 {
			return fmt.Errorf("symbol %s: filter values must be >= 0", sym)
		}
	}
	return nil
}
