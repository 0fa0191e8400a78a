package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
)

// 在线核对交易对的 LOT_SIZE / NOTIONAL 过滤器，
// 并与配置里的快照对比，提示需要回填的漂移。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "BTCUSDT", "查询的交易对(如 BTCUSDT)")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	client := gateway.NewBinanceClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.APISecret,
		gateway.NewTokenBucketLimiter(cfg.Gateway.RateLimitPerSec, cfg.Gateway.RateBurst))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sym := strings.ToUpper(strings.TrimSpace(*symbol))
	info, err := client.GetSymbolInfo(ctx, sym)
	if err != nil {
		log.Fatalf("获取交易对信息失败: %v", err)
	}

	fmt.Printf("%s 状态=%s base=%s quote=%s\n", info.Symbol, info.Status, info.Base, info.Quote)
	fmt.Printf("  StepSize=%.8f MinQty=%.8f MaxQty=%.2f MinNotional=%.4f\n",
		info.Filters.StepSize, info.Filters.MinQty, info.Filters.MaxQty, info.Filters.MinNotional)

	for name, sc := range cfg.Symbols {
		if strings.ToUpper(name) != sym {
			continue
		}
		fmt.Printf("配置快照:\n")
		fmt.Printf("  StepSize=%.8f MinQty=%.8f MaxQty=%.2f MinNotional=%.4f\n",
			sc.StepSize, sc.MinQty, sc.MaxQty, sc.MinNotional)
		if sc.StepSize != info.Filters.StepSize || sc.MinQty != info.Filters.MinQty ||
			sc.MaxQty != info.Filters.MaxQty || sc.MinNotional != info.Filters.MinNotional {
			fmt.Printf("警告: 配置快照与交易所过滤器不一致，请回填配置\n")
		}
		return
	}
	fmt.Printf("提示: %s 不在配置 symbols 中\n", sym)
}
