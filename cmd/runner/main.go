package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"grid-trader-go/config"
	"grid-trader-go/engine"
	"grid-trader-go/gateway"
	"grid-trader-go/grid"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/journal"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/risk"
	"grid-trader-go/sizing"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	paper := flag.Bool("paper", false, "强制纸面模式，忽略配置中的开关")
	adminAddr := flag.String("adminAddr", "", "管理端监听地址，覆盖配置 metrics.listen")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *paper {
		cfg.Gateway.Paper = true
	}
	if *adminAddr != "" {
		cfg.Metrics.Listen = *adminAddr
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cfgPath, cfg, lg); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("runner exited with error", zap.Error(err))
	}
	lg.Info("runner exit")
}

func run(ctx context.Context, cfgPath string, cfg config.AppConfig, lg *logger.Logger) error {
	collector := metrics.New(metrics.DefaultConfig())
	cache := market.NewPriceCache()

	grids := make(map[string]*grid.Engine)
	sizers := make(map[string]*sizing.Sizer)
	filters := make(map[string]gateway.SymbolFilters)
	pairs := make(map[string]gateway.AssetPair)
	symbols := make([]string, 0, len(cfg.Symbols))

	for name, sc := range cfg.Symbols {
		sym := strings.ToUpper(name)
		g, err := grid.NewEngine(grid.Config{
			Symbol:                      sym,
			GridSizePercent:             sc.GridSizePercent,
			NumGrids:                    sc.NumGrids,
			BaseOrderSize:               sc.BaseOrderSize,
			SellQuantityUsesCenterPrice: sc.SellQuantityUsesCenterPrice,
			ResetThreshold:              sc.ResetThresholdPct / 100,
			ResetCooldown:               time.Duration(sc.ResetCooldownMin) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("grid %s: %w", sym, err)
		}
		s, err := sizing.New(sizing.Config{
			BaseOrderSize:      sc.BaseOrderSize,
			ReinvestmentRate:   cfg.Sizing.ReinvestmentRate,
			MaxMultiplier:      cfg.Sizing.MaxMultiplier,
			MinProfitThreshold: cfg.Sizing.MinProfitThreshold,
			MinDelta:           cfg.Sizing.MinDelta,
		})
		if err != nil {
			return fmt.Errorf("sizer %s: %w", sym, err)
		}
		grids[sym] = g
		sizers[sym] = s
		filters[sym] = gateway.SymbolFilters{
			StepSize:    sc.StepSize,
			MinQty:      sc.MinQty,
			MaxQty:      sc.MaxQty,
			MinNotional: sc.MinNotional,
		}
		pairs[sym] = gateway.AssetPair{Base: sc.BaseAsset, Quote: sc.QuoteAsset}
		symbols = append(symbols, sym)
	}

	jrnl, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("打开成交日志: %w", err)
	}
	defer jrnl.Close()

	// 重放历史成交恢复 FIFO 账本与复利状态，网格围绕首个行情价惰性铺设。
	book, err := journal.ReplayLedger(ctx, jrnl)
	if err != nil {
		return fmt.Errorf("重放成交日志: %w", err)
	}
	for sym, s := range sizers {
		profit := book.SymbolProfit(sym)
		s.Update(profit)
		if err := grids[sym].SetBaseOrderSize(s.OrderSize()); err != nil {
			return fmt.Errorf("replay sizing %s: %w", sym, err)
		}
		collector.UpdateMultiplier(sym, s.Multiplier())
		collector.UpdateRealizedProfit(sym, profit)
	}
	lg.Info("journal replayed",
		zap.Int("trades", book.TradeCount()),
		zap.Float64("realized_profit", book.RealizedProfit()))

	exchange, err := buildExchange(cfg.Gateway, cache, pairs, lg)
	if err != nil {
		return err
	}

	gate, err := risk.NewGate(risk.Config{
		MaxDailyTrades:  cfg.Risk.MaxDailyTrades,
		MaxDailyLossPct: cfg.Risk.MaxDailyLossPct,
		MaxOrderValue:   cfg.Risk.MaxOrderValue,
	}, nil)
	if err != nil {
		return fmt.Errorf("风控闸门: %w", err)
	}

	alerts := buildAlerts(cfg.Alert)

	eng, err := engine.New(engine.Config{
		CycleInterval:           time.Duration(cfg.Engine.CycleIntervalSec) * time.Second,
		SubmitTimeout:           time.Duration(cfg.Engine.SubmitTimeoutSec) * time.Second,
		MaxRetries:              cfg.Engine.MaxRetries,
		RetryBackoff:            time.Duration(cfg.Engine.RetryBackoffMs) * time.Millisecond,
		ConsecutiveFailureLimit: cfg.Engine.ConsecutiveFailureLimit,
		MaxOrdersPerCycle:       cfg.Engine.MaxOrdersPerCycle,
		SellLossTolerance:       cfg.Engine.SellLossTolerancePct / 100,
		BuyPremiumTolerance:     cfg.Engine.BuyPremiumTolerancePct / 100,
		PriceStaleAfter:         time.Duration(cfg.Engine.PriceStaleSec) * time.Second,
	}, engine.Components{
		Exchange: exchange,
		Prices:   cache,
		Grids:    grids,
		Sizers:   sizers,
		Filters:  filters,
		Pairs:    pairs,
		Ledger:   book,
		Journal:  jrnl,
		Gate:     gate,
		Logger:   lg,
		Alerts:   alerts,
		Metrics:  collector,
	})
	if err != nil {
		return fmt.Errorf("创建引擎: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// 行情流断线重连由内部处理，引擎靠缓存新鲜度兜底 REST。
	stream, err := gateway.NewPriceStream(cfg.Gateway.WSURL, symbols, cache)
	if err != nil {
		return fmt.Errorf("行情流: %w", err)
	}
	stream.OnDisconnect = func(err error) {
		collector.RecordWSReconnect()
		lg.Warn("price stream disconnected", zap.Error(err))
	}
	g.Go(func() error { return stream.Run(ctx) })

	if cfg.Metrics.Enabled {
		startAdminServer(ctx, g, cfg.Metrics.Listen, eng, gate, collector, lg)
	}

	// 配置热更新作用于风控阈值、盈利保护容差与每个交易对的基础
	// 名义金额；其余改动需重启。
	watcher, err := config.NewWatcher(cfgPath, config.DefaultWatchConfig(), func(next config.AppConfig) {
		if next.Risk != cfg.Risk {
			if err := gate.UpdateLimits(risk.Config{
				MaxDailyTrades:  next.Risk.MaxDailyTrades,
				MaxDailyLossPct: next.Risk.MaxDailyLossPct,
				MaxOrderValue:   next.Risk.MaxOrderValue,
			}); err != nil {
				lg.Error("hot reload risk limits", zap.Error(err))
			} else {
				lg.Info("risk limits updated",
					zap.Int("max_daily_trades", next.Risk.MaxDailyTrades),
					zap.Float64("max_daily_loss_pct", next.Risk.MaxDailyLossPct),
					zap.Float64("max_order_value", next.Risk.MaxOrderValue))
			}
		}
		if next.Engine.SellLossTolerancePct != cfg.Engine.SellLossTolerancePct ||
			next.Engine.BuyPremiumTolerancePct != cfg.Engine.BuyPremiumTolerancePct {
			if err := eng.UpdateProtection(next.Engine.SellLossTolerancePct/100, next.Engine.BuyPremiumTolerancePct/100); err != nil {
				lg.Error("hot reload protection tolerances", zap.Error(err))
			}
		}
		for name, sc := range next.Symbols {
			sym := strings.ToUpper(name)
			if cur, ok := cfg.Symbols[name]; ok && cur.BaseOrderSize != sc.BaseOrderSize {
				if err := eng.UpdateBaseOrderSize(sym, sc.BaseOrderSize); err != nil {
					lg.Error("hot reload base order size", zap.String("symbol", sym), zap.Error(err))
					continue
				}
			}
		}
		cfg = next
	})
	if err != nil {
		return fmt.Errorf("配置监视: %w", err)
	}
	watcher.OnError = func(err error) {
		lg.Warn("config reload failed, keeping previous config", zap.Error(err))
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("配置监视: %w", err)
	}
	defer watcher.Stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("启动引擎: %w", err)
	}

	// systemd 就绪与看门狗心跳；非 systemd 环境这些调用是空操作。
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if stopErr := eng.Stop(); stopErr != nil {
		lg.Error("stop engine", zap.Error(stopErr))
	}
	return err
}

func openJournal(cfg config.JournalConfig) (journal.Journal, error) {
	if cfg.Path == "" {
		return journal.NewMemory(), nil
	}
	return journal.NewSQLite(cfg.Path)
}

func buildExchange(cfg config.GatewayConfig, cache *market.PriceCache, pairs map[string]gateway.AssetPair, lg *logger.Logger) (gateway.Exchange, error) {
	if cfg.Paper {
		if len(cfg.InitialBalances) == 0 {
			lg.Warn("paper mode with empty initial balances, all buys will be rejected")
		}
		ex, err := gateway.NewPaperExchange(cache, pairs, cfg.InitialBalances, cfg.PaperSlippageBps)
		if err != nil {
			return nil, fmt.Errorf("纸面交易所: %w", err)
		}
		lg.Info("paper exchange ready", zap.Float64("slippage_bps", cfg.PaperSlippageBps))
		return ex, nil
	}
	limiter := gateway.NewTokenBucketLimiter(cfg.RateLimitPerSec, cfg.RateBurst)
	lg.Info("binance exchange ready", zap.String("base_url", cfg.BaseURL))
	return gateway.NewBinanceClient(cfg.BaseURL, cfg.APIKey, cfg.APISecret, limiter), nil
}

func buildAlerts(cfg config.AlertConfig) *alert.Manager {
	channels := []alert.Channel{alert.NewLogChannel("log", nil)}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		channels = append(channels, alert.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	return alert.NewManager(channels, time.Duration(cfg.ThrottleMinutes)*time.Minute)
}

// startAdminServer 挂载指标、健康检查与运行时控制端点。
func startAdminServer(ctx context.Context, g *errgroup.Group, addr string, eng *engine.Engine, gate *risk.Gate, collector *metrics.Collector, lg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"state": eng.GetState().String(),
			"mode":  gate.GetStatus().Mode.String(),
		})
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, eng.Status())
	})
	mux.HandleFunc("POST /pause", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Pause(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": eng.GetState().String()})
	})
	mux.HandleFunc("POST /resume", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Resume(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": eng.GetState().String()})
	})
	mux.HandleFunc("POST /grid/reset", func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
		if symbol == "" {
			http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
			return
		}
		if err := eng.ResetGrid(symbol); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"symbol": symbol})
	})
	mux.HandleFunc("POST /risk/reset", func(w http.ResponseWriter, r *http.Request) {
		gate.ResetToNormal()
		writeJSON(w, http.StatusOK, map[string]any{"mode": gate.GetStatus().Mode.String()})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	g.Go(func() error {
		lg.Info("admin server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
