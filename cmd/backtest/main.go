package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/grid"
	"grid-trader-go/ledger"
	"grid-trader-go/market"
	"grid-trader-go/posttrade"
	"grid-trader-go/sizing"
)

type summary struct {
	Symbol         string
	Ticks          int
	Buys           int
	Sells          int
	Skips          int
	Resets         int
	Matches        int
	WinRate        float64
	RealizedPnL    float64
	Multiplier     float64
	OpenQty        float64
	MinPrice       float64
	MaxPrice       float64
	MaxDrawdownPct float64
}

// 配置驱动的离线回测：把 CSV 价格序列灌进网格/复利/FIFO 台账全链路，
// 成交由纸面撮合模拟（含滑点与余额约束）。
// 用法：
//
//	go run ./cmd/backtest -config configs/config.yaml -symbols BTCUSDT:data/btc.csv,ETHUSDT:data/eth.csv -out summaries.csv
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbolFiles := flag.String("symbols", "", "symbol:csv 列表，逗号分隔")
	outPath := flag.String("out", "", "若指定则写入 CSV 汇总")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	entries := parseSymbolFiles(*symbolFiles)
	if len(entries) == 0 {
		log.Fatal("未指定任何 symbol:csv")
	}

	var summaries []summary
	for _, entry := range entries {
		sym := strings.ToUpper(entry.symbol)
		sc, ok := findSymbol(cfg, sym)
		if !ok {
			log.Printf("symbol %s 不在配置中，跳过", sym)
			continue
		}
		prices, err := loadPrices(entry.path)
		if err != nil {
			log.Printf("symbol %s 读取 %s 失败: %v", sym, entry.path, err)
			continue
		}
		if len(prices) == 0 {
			log.Printf("symbol %s 数据为空: %s", sym, entry.path)
			continue
		}
		sum, err := replay(sym, sc, cfg, prices)
		if err != nil {
			log.Printf("symbol %s 回测失败: %v", sym, err)
			continue
		}
		log.Printf("symbol=%s ticks=%d buys=%d sells=%d skips=%d resets=%d matches=%d winRate=%.2f%% pnl=%.4f mult=%.4f openQty=%.6f maxDD=%.2f%%",
			sum.Symbol, sum.Ticks, sum.Buys, sum.Sells, sum.Skips, sum.Resets,
			sum.Matches, sum.WinRate*100, sum.RealizedPnL, sum.Multiplier, sum.OpenQty, sum.MaxDrawdownPct)
		summaries = append(summaries, sum)
	}

	if *outPath != "" {
		if err := writeSummaryCSV(*outPath, summaries); err != nil {
			log.Printf("写入汇总 CSV 失败: %v", err)
		} else {
			log.Printf("已写入汇总: %s", *outPath)
		}
	}
}

// replay 逐笔推进价格：漂移重铺、信号触发、纸面成交、台账与复利更新。
// 回测没有墙钟，重铺冷却压缩为 1ns，由价格序列自身节奏决定重铺频率。
func replay(sym string, sc config.SymbolConfig, cfg config.AppConfig, prices []float64) (summary, error) {
	ctx := context.Background()
	cache := market.NewPriceCache()
	pairs := map[string]gateway.AssetPair{sym: {Base: sc.BaseAsset, Quote: sc.QuoteAsset}}
	paper, err := gateway.NewPaperExchange(cache, pairs, cfg.Gateway.InitialBalances, cfg.Gateway.PaperSlippageBps)
	if err != nil {
		return summary{}, err
	}
	g, err := grid.NewEngine(grid.Config{
		Symbol:                      sym,
		GridSizePercent:             sc.GridSizePercent,
		NumGrids:                    sc.NumGrids,
		BaseOrderSize:               sc.BaseOrderSize,
		SellQuantityUsesCenterPrice: sc.SellQuantityUsesCenterPrice,
		ResetThreshold:              sc.ResetThresholdPct / 100,
		ResetCooldown:               time.Nanosecond,
	})
	if err != nil {
		return summary{}, err
	}
	sizer, err := sizing.New(sizing.Config{
		BaseOrderSize:      sc.BaseOrderSize,
		ReinvestmentRate:   cfg.Sizing.ReinvestmentRate,
		MaxMultiplier:      cfg.Sizing.MaxMultiplier,
		MinProfitThreshold: cfg.Sizing.MinProfitThreshold,
		MinDelta:           cfg.Sizing.MinDelta,
	})
	if err != nil {
		return summary{}, err
	}
	filters := gateway.SymbolFilters{
		StepSize:    sc.StepSize,
		MinQty:      sc.MinQty,
		MaxQty:      sc.MaxQty,
		MinNotional: sc.MinNotional,
	}

	book := ledger.New()
	var trades []ledger.Trade
	sum := summary{Symbol: sym, Ticks: len(prices)}
	base := time.Now().UTC().Add(-time.Duration(len(prices)) * time.Minute)

	for i, px := range prices {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := cache.Update(sym, px, at); err != nil {
			return summary{}, err
		}
		if g.Center() == 0 {
			if err := g.Setup(px); err != nil {
				return summary{}, err
			}
		}
		if ev, err := g.AutoReset(px); err == nil && ev != nil {
			sum.Resets++
		}
		signals, err := g.CheckSignals(px)
		if err != nil {
			return summary{}, err
		}
		for _, sig := range signals {
			qty := filters.RoundQty(sig.Quantity)
			if qty <= 0 || filters.Validate(px, qty) != nil {
				sum.Skips++
				continue
			}
			res, err := paper.PlaceMarketOrder(ctx, sym, string(sig.Side), qty)
			if err != nil {
				sum.Skips++
				continue
			}
			tr := ledger.Trade{
				ID:         res.OrderID,
				Symbol:     sym,
				Side:       ledger.Side(sig.Side),
				Quantity:   res.ExecutedQty,
				Price:      res.AvgPrice,
				LevelIndex: sig.LevelIndex,
				ExecutedAt: at,
			}
			if _, err := book.Apply(tr); err != nil {
				return summary{}, err
			}
			trades = append(trades, tr)
			sizer.Update(book.SymbolProfit(sym))
			if err := g.SetBaseOrderSize(sizer.OrderSize()); err != nil {
				return summary{}, err
			}
			_ = g.RecordFill(grid.Fill{
				OrderID:    res.OrderID,
				Symbol:     sym,
				Side:       sig.Side,
				Price:      res.AvgPrice,
				Quantity:   res.ExecutedQty,
				LevelIndex: sig.LevelIndex,
				FilledAt:   at,
			})
			if sig.Side == grid.SideBuy {
				sum.Buys++
			} else {
				sum.Sells++
			}
		}
	}

	matches, err := ledger.ComputeMatches(trades)
	if err != nil {
		return summary{}, err
	}
	st := posttrade.Compute(matches)
	sum.Matches = st.TotalMatches
	sum.WinRate = st.WinRate
	sum.RealizedPnL = book.SymbolProfit(sym)
	sum.Multiplier = sizer.Multiplier()
	sum.OpenQty = book.Position(sym).Quantity
	sum.MinPrice, sum.MaxPrice, sum.MaxDrawdownPct = priceStats(prices)
	return sum, nil
}

func findSymbol(cfg config.AppConfig, sym string) (config.SymbolConfig, bool) {
	for name, sc := range cfg.Symbols {
		if strings.ToUpper(name) == sym {
			return sc, true
		}
	}
	return config.SymbolConfig{}, false
}

type symbolFile struct {
	symbol string
	path   string
}

func parseSymbolFiles(arg string) []symbolFile {
	var out []symbolFile
	for _, p := range strings.Split(arg, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items := strings.SplitN(p, ":", 2)
		if len(items) != 2 {
			continue
		}
		out = append(out, symbolFile{
			symbol: strings.TrimSpace(items[0]),
			path:   strings.TrimSpace(items[1]),
		})
	}
	return out
}

func priceStats(series []float64) (min, max, maxDDPct float64) {
	if len(series) == 0 {
		return 0, 0, 0
	}
	min, max = series[0], series[0]
	peak := series[0]
	for _, v := range series {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > maxDDPct {
				maxDDPct = dd
			}
		}
	}
	return min, max, maxDDPct
}

// loadPrices 读取 CSV 首列为价格的序列；无法解析的行（如表头）跳过。
func loadPrices(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func writeSummaryCSV(path string, sums []summary) error {
	if len(sums) == 0 {
		return fmt.Errorf("no summary data")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	header := []string{"symbol", "ticks", "buys", "sells", "skips", "resets", "matches", "winRate", "realizedPnl", "multiplier", "openQty", "minPrice", "maxPrice", "maxDrawdownPct"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range sums {
		record := []string{
			s.Symbol,
			strconv.Itoa(s.Ticks),
			strconv.Itoa(s.Buys),
			strconv.Itoa(s.Sells),
			strconv.Itoa(s.Skips),
			strconv.Itoa(s.Resets),
			strconv.Itoa(s.Matches),
			fmt.Sprintf("%.4f", s.WinRate),
			fmt.Sprintf("%.6f", s.RealizedPnL),
			fmt.Sprintf("%.4f", s.Multiplier),
			fmt.Sprintf("%.8f", s.OpenQty),
			fmt.Sprintf("%.6f", s.MinPrice),
			fmt.Sprintf("%.6f", s.MaxPrice),
			fmt.Sprintf("%.4f", s.MaxDrawdownPct),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}
