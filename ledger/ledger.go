package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Side 成交方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ErrInvalidTrade 成交的数量或价格非正。
var ErrInvalidTrade = errors.New("ledger: trade quantity and price must be positive")

// ErrInvalidSide 成交方向非法。
var ErrInvalidSide = errors.New("ledger: side must be BUY or SELL")

// Trade 账本的最小输入单元，按成交时间升序回放。
type Trade struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	LevelIndex int
	ExecutedAt time.Time
}

// lot 尚未被卖出冲销的买入批次。
type lot struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

// Match 一次卖出与最早买入批次的配对明细；Profit 为带符号金额，可能为负。
type Match struct {
	Symbol    string
	Quantity  float64
	BuyPrice  float64
	SellPrice float64
	Profit    float64
	MatchedAt time.Time
}

// Position 某交易对当前持仓的汇总视图。
type Position struct {
	Symbol        string
	Quantity      float64
	AvgPrice      float64
	TotalInvested float64
}

// Ledger 按 FIFO 规则维护每个交易对的买入批次队列，并累计已实现利润。
// 复利口径只累加盈利配对，亏损配对不回减；这是有意的保守偏置，
// 与风控层使用的带符号日内盈亏分开统计。所有方法并发安全。
type Ledger struct {
	mu     sync.RWMutex
	lots   map[string][]lot
	profit decimal.Decimal
	bySym  map[string]decimal.Decimal
	count  int

	// onMatch 仅在离线回放明细时设置，常开路径保持 nil 以免累积内存。
	onMatch func(Match)
}

// New 创建空账本。
func New() *Ledger {
	return &Ledger{
		lots:  make(map[string][]lot),
		bySym: make(map[string]decimal.Decimal),
	}
}

// Apply 将一笔成交并入账本，返回该笔成交带符号的已实现盈亏。
// 买入只建仓不实现盈亏；卖出按 FIFO 逐批冲销；无可冲销批次的
// 卖出剩余部分被忽略（不建模做空）。
func (l *Ledger) Apply(t Trade) (float64, error) {
	if err := validateTrade(t); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	realized := l.apply(t)
	return realized.InexactFloat64(), nil
}

func validateTrade(t Trade) error {
	if t.Quantity <= 0 || t.Price <= 0 {
		return ErrInvalidTrade
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return ErrInvalidSide
	}
	return nil
}

// apply 持锁调用；返回带符号的已实现盈亏。
func (l *Ledger) apply(t Trade) decimal.Decimal {
	l.count++
	qty := decimal.NewFromFloat(t.Quantity)
	price := decimal.NewFromFloat(t.Price)

	if t.Side == SideBuy {
		l.lots[t.Symbol] = append(l.lots[t.Symbol], lot{qty: qty, price: price})
		return decimal.Zero
	}

	queue := l.lots[t.Symbol]
	remaining := qty
	realized := decimal.Zero
	for len(queue) > 0 && remaining.IsPositive() {
		head := &queue[0]
		matched := decimal.Min(head.qty, remaining)
		gain := price.Sub(head.price).Mul(matched)
		realized = realized.Add(gain)
		if gain.IsPositive() {
			l.profit = l.profit.Add(gain)
			l.bySym[t.Symbol] = l.bySym[t.Symbol].Add(gain)
		}
		if l.onMatch != nil {
			l.onMatch(Match{
				Symbol:    t.Symbol,
				Quantity:  matched.InexactFloat64(),
				BuyPrice:  head.price.InexactFloat64(),
				SellPrice: price.InexactFloat64(),
				Profit:    gain.InexactFloat64(),
				MatchedAt: t.ExecutedAt,
			})
		}
		head.qty = head.qty.Sub(matched)
		remaining = remaining.Sub(matched)
		if !head.qty.IsPositive() {
			queue = queue[1:]
		}
	}
	if len(queue) == 0 {
		delete(l.lots, t.Symbol)
	} else {
		l.lots[t.Symbol] = queue
	}
	return realized
}

// RealizedProfit 返回全局累计的只计盈利已实现利润。
func (l *Ledger) RealizedProfit() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profit.InexactFloat64()
}

// SymbolProfit 返回某交易对累计的只计盈利已实现利润。
func (l *Ledger) SymbolProfit(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bySym[symbol].InexactFloat64()
}

// Position 返回某交易对的持仓汇总；无持仓时数量为零。
func (l *Ledger) Position(symbol string) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positionLocked(symbol)
}

func (l *Ledger) positionLocked(symbol string) Position {
	qty := decimal.Zero
	invested := decimal.Zero
	for _, lt := range l.lots[symbol] {
		qty = qty.Add(lt.qty)
		invested = invested.Add(lt.qty.Mul(lt.price))
	}
	p := Position{Symbol: symbol}
	if qty.IsPositive() {
		p.Quantity = qty.InexactFloat64()
		p.TotalInvested = invested.InexactFloat64()
		p.AvgPrice = invested.Div(qty).InexactFloat64()
	}
	return p
}

// Positions 返回所有仍有持仓的交易对，按符号排序。
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	symbols := make([]string, 0, len(l.lots))
	for sym := range l.lots {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	out := make([]Position, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, l.positionLocked(sym))
	}
	return out
}

// OpenLots 返回某交易对尚未冲销完的买入批次数。
func (l *Ledger) OpenLots(symbol string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lots[symbol])
}

// TradeCount 返回已并入的成交笔数。
func (l *Ledger) TradeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Replay 按成交时间稳定排序后从零回放完整历史，重建等价账本。
// 回放与逐笔 Apply 走同一条配对路径，两者收敛到相同的累计利润；
// 这是冷启动与故障恢复路径，常开路径使用增量 Apply。
func Replay(trades []Trade) (*Ledger, error) {
	l := New()
	if err := replayInto(l, trades); err != nil {
		return nil, err
	}
	return l, nil
}

func replayInto(l *Ledger, trades []Trade) error {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
	})
	for _, t := range sorted {
		if err := validateTrade(t); err != nil {
			return err
		}
		l.apply(t)
	}
	return nil
}

// ComputeRealizedProfit 对完整成交历史做纯函数计算，返回只计盈利的
// 已实现利润。不修改任何共享状态，重复调用结果一致。
func ComputeRealizedProfit(trades []Trade) (float64, error) {
	l, err := Replay(trades)
	if err != nil {
		return 0, err
	}
	return l.RealizedProfit(), nil
}

// ComputeMatches 回放完整历史并返回每一次 FIFO 配对明细（含亏损配对），
// 供报表与统计使用。
func ComputeMatches(trades []Trade) ([]Match, error) {
	l := New()
	var out []Match
	l.onMatch = func(m Match) { out = append(out, m) }
	if err := replayInto(l, trades); err != nil {
		return nil, err
	}
	return out, nil
}
