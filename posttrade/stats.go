package posttrade

import (
	"math"
	"sort"

	"grid-trader-go/ledger"
)

// Stats summarizes round-trip performance over a set of matched trades.
type Stats struct {
	TotalMatches int
	Wins         int
	Losses       int
	WinRate      float64
	GrossProfit  float64
	GrossLoss    float64
	NetProfit    float64
	ProfitFactor float64
	AvgWin       float64
	AvgLoss      float64
	MaxWin       float64
	MaxLoss      float64
	TotalVolume  float64
}

// Compute builds Stats from FIFO matches. Matches with zero profit count
// toward TotalMatches but neither Wins nor Losses.
func Compute(matches []ledger.Match) Stats {
	var s Stats
	s.TotalMatches = len(matches)

	for _, m := range matches {
		s.NetProfit += m.Profit
		s.TotalVolume += m.Quantity * m.SellPrice
		switch {
		case m.Profit > 0:
			s.Wins++
			s.GrossProfit += m.Profit
			if m.Profit > s.MaxWin {
				s.MaxWin = m.Profit
			}
		case m.Profit < 0:
			s.Losses++
			s.GrossLoss += -m.Profit
			if -m.Profit > s.MaxLoss {
				s.MaxLoss = -m.Profit
			}
		}
	}

	if s.TotalMatches > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalMatches)
	}
	if s.Wins > 0 {
		s.AvgWin = s.GrossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = s.GrossLoss / float64(s.Losses)
	}
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}

// BySymbol groups matches per symbol and computes Stats for each group.
// Symbols are returned in the map; iterate SortedSymbols for stable output.
func BySymbol(matches []ledger.Match) map[string]Stats {
	grouped := make(map[string][]ledger.Match)
	for _, m := range matches {
		grouped[m.Symbol] = append(grouped[m.Symbol], m)
	}
	out := make(map[string]Stats, len(grouped))
	for sym, ms := range grouped {
		out[sym] = Compute(ms)
	}
	return out
}

// SortedSymbols returns the keys of a BySymbol result in lexical order.
func SortedSymbols(stats map[string]Stats) []string {
	syms := make([]string, 0, len(stats))
	for sym := range stats {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}
