package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load 读取 YAML 配置。文件里没写的字段保持 DefaultConfig 的缺省值。
func Load(path string) (AppConfig, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnv 在 Load 基础上用环境变量覆盖敏感字段。
// 工作目录存在 .env 时先装载(缺失不报错),再读 GT_* 变量。
func LoadWithEnv(path string) (AppConfig, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}

	if v := os.Getenv("GT_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GT_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("GT_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alert.Telegram.BotToken = v
	}
	if v := os.Getenv("GT_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alert.Telegram.ChatID = v
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
