package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"grid-trader-go/journal"
	"grid-trader-go/ledger"
	"grid-trader-go/posttrade"
)

func main() {
	dbPath := flag.String("db", "grid_trader.db", "成交日志数据库路径")
	symbol := flag.String("symbol", "", "仅统计指定交易对 (默认全量)")
	sinceStr := flag.String("since", "", "仅统计此时间之后的成交 (RFC3339，例如 2026-08-01T00:00:00Z)")
	flag.Parse()

	var since time.Time
	var err error
	if *sinceStr != "" {
		since, err = time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
	}

	jrnl, err := journal.NewSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法打开成交日志: %v\n", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	recs, err := jrnl.List(context.Background(), journal.Filter{
		Symbol: strings.ToUpper(*symbol),
		Since:  since,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询成交记录失败: %v\n", err)
		os.Exit(1)
	}

	trades := journal.Trades(recs)
	matches, err := ledger.ComputeMatches(trades)
	if err != nil {
		fmt.Fprintf(os.Stderr, "回放 FIFO 配对失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("统计数据库: %s\n", *dbPath)
	if *symbol != "" {
		fmt.Printf("交易对: %s\n", strings.ToUpper(*symbol))
	}
	if !since.IsZero() {
		fmt.Printf("起始时间: %s\n", since.Format(time.RFC3339))
	}
	fmt.Printf("成交笔数: %d\n", len(recs))
	fmt.Printf("配对笔数: %d\n", len(matches))

	bySymbol := posttrade.BySymbol(matches)
	for _, sym := range posttrade.SortedSymbols(bySymbol) {
		printStats(sym, bySymbol[sym])
	}
	if len(bySymbol) > 1 {
		printStats("全部", posttrade.Compute(matches))
	}
}

func printStats(name string, st posttrade.Stats) {
	fmt.Printf("\n== %s ==\n", name)
	fmt.Printf("配对笔数: %d (胜 %d / 负 %d)\n", st.TotalMatches, st.Wins, st.Losses)
	fmt.Printf("胜率: %.2f%%\n", st.WinRate*100)
	fmt.Printf("毛利: %.6f\n", st.GrossProfit)
	fmt.Printf("毛损: %.6f\n", st.GrossLoss)
	fmt.Printf("净利: %.6f\n", st.NetProfit)
	if st.ProfitFactor > 0 {
		fmt.Printf("盈亏比: %.4f\n", st.ProfitFactor)
	}
	fmt.Printf("平均盈利: %.6f  平均亏损: %.6f\n", st.AvgWin, st.AvgLoss)
	fmt.Printf("最大盈利: %.6f  最大亏损: %.6f\n", st.MaxWin, st.MaxLoss)
	fmt.Printf("卖出名义: %.4f\n", st.TotalVolume)
}
