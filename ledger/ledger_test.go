package ledger

import (
	"errors"
	"math"
	"testing"
	"time"
)

const eps = 1e-6

func at(sec int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, sec, 0, time.UTC)
}

func mustApply(t *testing.T, l *Ledger, tr Trade) float64 {
	t.Helper()
	realized, err := l.Apply(tr)
	if err != nil {
		t.Fatalf("apply %+v: %v", tr, err)
	}
	return realized
}

func TestFIFOHandTrace(t *testing.T) {
	l := New()
	mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1.0, Price: 100, ExecutedAt: at(1)})
	mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.5, Price: 110, ExecutedAt: at(2)})
	realized := mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideSell, Quantity: 1.2, Price: 120, ExecutedAt: at(3)})

	// 1.0@100 全部冲销 (+20)，再从 0.5@110 中冲销 0.2 (+2)
	if math.Abs(realized-22.0) > eps {
		t.Fatalf("realized = %v, want 22.0", realized)
	}
	if got := l.RealizedProfit(); math.Abs(got-22.0) > eps {
		t.Fatalf("RealizedProfit = %v, want 22.0", got)
	}

	pos := l.Position("BTCUSDT")
	if math.Abs(pos.Quantity-0.3) > eps {
		t.Fatalf("position quantity = %v, want 0.3", pos.Quantity)
	}
	if math.Abs(pos.AvgPrice-110.0) > eps {
		t.Fatalf("position avg price = %v, want 110", pos.AvgPrice)
	}
	if math.Abs(pos.TotalInvested-33.0) > eps {
		t.Fatalf("position invested = %v, want 33", pos.TotalInvested)
	}
	if l.OpenLots("BTCUSDT") != 1 {
		t.Fatalf("open lots = %d, want 1", l.OpenLots("BTCUSDT"))
	}
}

func TestLosingMatchesNeverReduceProfit(t *testing.T) {
	l := New()
	mustApply(t, l, Trade{Symbol: "ETHUSDT", Side: SideBuy, Quantity: 1, Price: 100, ExecutedAt: at(1)})
	realized := mustApply(t, l, Trade{Symbol: "ETHUSDT", Side: SideSell, Quantity: 1, Price: 90, ExecutedAt: at(2)})
	if math.Abs(realized-(-10.0)) > eps {
		t.Fatalf("signed realized = %v, want -10", realized)
	}
	if got := l.RealizedProfit(); got != 0 {
		t.Fatalf("profit after losing match = %v, want 0", got)
	}

	mustApply(t, l, Trade{Symbol: "ETHUSDT", Side: SideBuy, Quantity: 1, Price: 100, ExecutedAt: at(3)})
	mustApply(t, l, Trade{Symbol: "ETHUSDT", Side: SideSell, Quantity: 1, Price: 105, ExecutedAt: at(4)})
	if got := l.RealizedProfit(); math.Abs(got-5.0) > eps {
		t.Fatalf("profit = %v, want 5.0 (accumulator only grows)", got)
	}
}

func TestMixedMatchSingleSell(t *testing.T) {
	// 一笔卖出同时产生盈利配对和亏损配对：只有盈利部分进入累计值。
	l := New()
	mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 100, ExecutedAt: at(1)})
	mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 120, ExecutedAt: at(2)})
	realized := mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideSell, Quantity: 2, Price: 110, ExecutedAt: at(3)})
	if math.Abs(realized-0.0) > eps {
		t.Fatalf("signed realized = %v, want 0 (+10-10)", realized)
	}
	if got := l.RealizedProfit(); math.Abs(got-10.0) > eps {
		t.Fatalf("profit = %v, want 10 (winning leg only)", got)
	}
}

func TestSellWithoutPositionIgnored(t *testing.T) {
	l := New()
	realized := mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideSell, Quantity: 1, Price: 100, ExecutedAt: at(1)})
	if realized != 0 {
		t.Fatalf("realized = %v, want 0", realized)
	}
	if got := l.RealizedProfit(); got != 0 {
		t.Fatalf("profit = %v, want 0", got)
	}

	// 部分超卖：只冲销现有批次，余量忽略。
	mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.5, Price: 100, ExecutedAt: at(2)})
	realized = mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideSell, Quantity: 2.0, Price: 110, ExecutedAt: at(3)})
	if math.Abs(realized-5.0) > eps {
		t.Fatalf("realized = %v, want 5.0", realized)
	}
	if pos := l.Position("BTCUSDT"); pos.Quantity != 0 {
		t.Fatalf("position after oversell = %v, want 0", pos.Quantity)
	}
}

func TestSymbolIsolation(t *testing.T) {
	l := New()
	mustApply(t, l, Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 100, ExecutedAt: at(1)})
	mustApply(t, l, Trade{Symbol: "ETHUSDT", Side: SideBuy, Quantity: 2, Price: 50, ExecutedAt: at(2)})
	mustApply(t, l, Trade{Symbol: "ETHUSDT", Side: SideSell, Quantity: 2, Price: 60, ExecutedAt: at(3)})

	if got := l.SymbolProfit("ETHUSDT"); math.Abs(got-20.0) > eps {
		t.Fatalf("ETHUSDT profit = %v, want 20", got)
	}
	if got := l.SymbolProfit("BTCUSDT"); got != 0 {
		t.Fatalf("BTCUSDT profit = %v, want 0", got)
	}
	if pos := l.Position("BTCUSDT"); math.Abs(pos.Quantity-1.0) > eps {
		t.Fatalf("BTCUSDT position = %v, want 1.0", pos.Quantity)
	}
	positions := l.Positions()
	if len(positions) != 1 || positions[0].Symbol != "BTCUSDT" {
		t.Fatalf("positions = %+v, want only BTCUSDT", positions)
	}
}

func TestComputeRealizedProfitPureAndIdempotent(t *testing.T) {
	trades := []Trade{
		{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 100, ExecutedAt: at(1)},
		{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 105, ExecutedAt: at(2)},
		{Symbol: "BTCUSDT", Side: SideSell, Quantity: 1.5, Price: 110, ExecutedAt: at(3)},
		{Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.5, Price: 95, ExecutedAt: at(4)},
	}
	first, err := ComputeRealizedProfit(trades)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := ComputeRealizedProfit(trades)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	// 10 + 2.5 盈利；最后 0.5@95 对 105 的批次是亏损，不计入。
	if math.Abs(first-12.5) > eps {
		t.Fatalf("profit = %v, want 12.5", first)
	}
	if first != second {
		t.Fatalf("recompute changed result: %v != %v", first, second)
	}

	empty, err := ComputeRealizedProfit(nil)
	if err != nil || empty != 0 {
		t.Fatalf("empty history = (%v, %v), want (0, nil)", empty, err)
	}
}

func TestReplayMatchesIncremental(t *testing.T) {
	trades := []Trade{
		{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.4, Price: 101.3, ExecutedAt: at(1)},
		{Symbol: "ETHUSDT", Side: SideBuy, Quantity: 3, Price: 48.7, ExecutedAt: at(2)},
		{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.6, Price: 99.1, ExecutedAt: at(3)},
		{Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.7, Price: 104.2, ExecutedAt: at(4)},
		{Symbol: "ETHUSDT", Side: SideSell, Quantity: 1.5, Price: 47.9, ExecutedAt: at(5)},
		{Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.3, Price: 97.4, ExecutedAt: at(6)},
		{Symbol: "ETHUSDT", Side: SideSell, Quantity: 1.5, Price: 52.0, ExecutedAt: at(7)},
	}

	incremental := New()
	for _, tr := range trades {
		mustApply(t, incremental, tr)
	}
	replayed, err := Replay(trades)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if a, b := incremental.RealizedProfit(), replayed.RealizedProfit(); math.Abs(a-b) > eps {
		t.Fatalf("incremental profit %v != replayed profit %v", a, b)
	}
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		pa, pb := incremental.Position(sym), replayed.Position(sym)
		if math.Abs(pa.Quantity-pb.Quantity) > eps || math.Abs(pa.TotalInvested-pb.TotalInvested) > eps {
			t.Fatalf("%s position diverged: %+v vs %+v", sym, pa, pb)
		}
	}
}

func TestReplaySortsByExecutionTime(t *testing.T) {
	shuffled := []Trade{
		{Symbol: "BTCUSDT", Side: SideSell, Quantity: 1, Price: 110, ExecutedAt: at(3)},
		{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 100, ExecutedAt: at(1)},
	}
	got, err := ComputeRealizedProfit(shuffled)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if math.Abs(got-10.0) > eps {
		t.Fatalf("profit = %v, want 10 (sell matched after sorting)", got)
	}
}

func TestManySmallMatchesNoDrift(t *testing.T) {
	l := New()
	for i := 0; i < 1000; i++ {
		mustApply(t, l, Trade{Symbol: "DOGEUSDT", Side: SideBuy, Quantity: 0.001, Price: 100.0, ExecutedAt: at(i)})
	}
	mustApply(t, l, Trade{Symbol: "DOGEUSDT", Side: SideSell, Quantity: 1.0, Price: 101.0, ExecutedAt: at(2000)})
	if got := l.RealizedProfit(); math.Abs(got-1.0) > eps {
		t.Fatalf("profit = %v, want 1.0 across 1000 micro matches", got)
	}
	if pos := l.Position("DOGEUSDT"); pos.Quantity != 0 {
		t.Fatalf("residual position = %v, want 0", pos.Quantity)
	}
}

func TestComputeMatchesDetail(t *testing.T) {
	trades := []Trade{
		{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 100, ExecutedAt: at(1)},
		{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: 120, ExecutedAt: at(2)},
		{Symbol: "BTCUSDT", Side: SideSell, Quantity: 2, Price: 110, ExecutedAt: at(3)},
	}
	matches, err := ComputeMatches(trades)
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].BuyPrice != 100 || math.Abs(matches[0].Profit-10) > eps {
		t.Fatalf("first match = %+v, want buy@100 profit 10", matches[0])
	}
	if matches[1].BuyPrice != 120 || math.Abs(matches[1].Profit-(-10)) > eps {
		t.Fatalf("second match = %+v, want buy@120 profit -10", matches[1])
	}
}

func TestInvalidTrades(t *testing.T) {
	l := New()
	if _, err := l.Apply(Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0, Price: 100}); !errors.Is(err, ErrInvalidTrade) {
		t.Fatalf("zero quantity err = %v, want ErrInvalidTrade", err)
	}
	if _, err := l.Apply(Trade{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Price: -5}); !errors.Is(err, ErrInvalidTrade) {
		t.Fatalf("negative price err = %v, want ErrInvalidTrade", err)
	}
	if _, err := l.Apply(Trade{Symbol: "BTCUSDT", Side: Side("HOLD"), Quantity: 1, Price: 100}); !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("bad side err = %v, want ErrInvalidSide", err)
	}
	if _, err := ComputeRealizedProfit([]Trade{{Symbol: "X", Side: SideBuy, Quantity: -1, Price: 1}}); !errors.Is(err, ErrInvalidTrade) {
		t.Fatalf("replay invalid err = %v, want ErrInvalidTrade", err)
	}
}
