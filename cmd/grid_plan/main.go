package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/grid"
)

// grid_plan 离线预览网格梯子：给定配置与中心价，打印将要挂出的
// 各档价位、数量与名义金额，便于上线前核对参数。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "", "交易对 (默认配置中的全部)")
	center := flag.Float64("center", 0, "网格中心价 (必填)")
	flag.Parse()

	if *center <= 0 {
		fmt.Fprintln(os.Stderr, "必须通过 -center 指定正的中心价")
		os.Exit(1)
	}

	cfg, err := config.LoadWithEnv(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for name := range cfg.Symbols {
		sym := strings.ToUpper(name)
		if *symbol != "" && sym != strings.ToUpper(*symbol) {
			continue
		}
		symbols = append(symbols, name)
	}
	if len(symbols) == 0 {
		fmt.Fprintf(os.Stderr, "配置中找不到交易对 %s\n", *symbol)
		os.Exit(1)
	}
	sort.Strings(symbols)

	for _, name := range symbols {
		if err := printPlan(name, cfg.Symbols[name], *center); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", strings.ToUpper(name), err)
			os.Exit(1)
		}
	}
}

func printPlan(name string, sc config.SymbolConfig, center float64) error {
	sym := strings.ToUpper(name)
	eng, err := grid.NewEngine(grid.Config{
		Symbol:                      sym,
		GridSizePercent:             sc.GridSizePercent,
		NumGrids:                    sc.NumGrids,
		BaseOrderSize:               sc.BaseOrderSize,
		SellQuantityUsesCenterPrice: sc.SellQuantityUsesCenterPrice,
		ResetThreshold:              sc.ResetThresholdPct / 100,
		ResetCooldown:               time.Duration(sc.ResetCooldownMin) * time.Minute,
	})
	if err != nil {
		return err
	}
	if err := eng.Setup(center); err != nil {
		return err
	}

	fmt.Printf("== %s  中心价 %.6f  网格 %.2f%% x %d  基础金额 %.2f ==\n",
		sym, center, sc.GridSizePercent, sc.NumGrids, sc.BaseOrderSize)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "档位\t方向\t价格\t数量\t名义\t")
	for _, lv := range eng.Levels() {
		fmt.Fprintf(w, "%d\t%s\t%.6f\t%.8f\t%.4f\t\n",
			lv.Index, lv.Side, lv.Price, lv.Quantity, lv.Price*lv.Quantity)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()
	return nil
}
