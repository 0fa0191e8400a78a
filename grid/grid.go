package grid

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Side 信号方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

var (
	// ErrInvalidPrice 输入价格非正。
	ErrInvalidPrice = errors.New("grid: price must be positive")
	// ErrInvalidFill 成交回报字段非法。
	ErrInvalidFill = errors.New("grid: fill quantity, price and level index must be positive")
	// ErrNotReady 网格尚未初始化（未调用 Setup）。
	ErrNotReady = errors.New("grid: not set up")
)

// Config 单交易对网格参数。
type Config struct {
	Symbol          string
	GridSizePercent float64 // 相邻档位间距，2 表示 2%
	NumGrids        int     // 买卖各 N 档
	BaseOrderSize   float64 // 单档名义金额（计价货币）

	// SellQuantityUsesCenterPrice 为真时卖单数量按中心价折算
	// （各档名义金额随档位价格变化），为假时按档位价折算。
	// 源策略的既有口径是按中心价，保持为显式开关以便将来有意识地修正。
	SellQuantityUsesCenterPrice bool

	ResetThreshold float64       // 偏离中心价超过该比例才允许重置
	ResetCooldown  time.Duration // 两次重置的最小间隔
}

func validateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return errors.New("grid: symbol is required")
	}
	if cfg.GridSizePercent <= 0 || cfg.GridSizePercent >= 100 {
		return fmt.Errorf("grid: grid size percent %v out of (0, 100)", cfg.GridSizePercent)
	}
	if cfg.NumGrids < 1 {
		return fmt.Errorf("grid: num grids %d must be >= 1", cfg.NumGrids)
	}
	if cfg.BaseOrderSize <= 0 {
		return fmt.Errorf("grid: base order size %v must be > 0", cfg.BaseOrderSize)
	}
	return nil
}

// Level 网格中的一个触发档位；一个世代内不可变，重置时整体重建。
type Level struct {
	Index    int
	Side     Side
	Price    float64
	Quantity float64
}

// Signal 档位被当前价触发后产生的候选订单。
type Signal struct {
	Symbol     string
	Side       Side
	Price      float64 // 触发档位价
	Quantity   float64
	LevelIndex int
}

// Fill 已成交订单的回报，追加进本世代的成交历史。
type Fill struct {
	OrderID    string
	Symbol     string
	Side       Side
	Price      float64
	Quantity   float64
	LevelIndex int
	FilledAt   time.Time
}

// ResetEvent 一次自动重置的可观测描述。
type ResetEvent struct {
	Symbol    string
	OldCenter float64
	NewCenter float64
	At        time.Time
}

// Status 网格当前状态快照。
type Status struct {
	Symbol      string
	CenterPrice float64
	Generation  int
	NumLevels   int
	FilledBuys  int
	FilledSells int
	FillCount   int
	LastReset   time.Time
}

type levelKey struct {
	side  Side
	index int
}

// Engine 维护单个交易对的一个可变"世代"的网格档位。
// 纯状态迁移，不做任何外部 IO；并发安全。
type Engine struct {
	mu  sync.RWMutex
	cfg Config

	centerPrice float64
	generation  int
	levels      []Level
	fills       []Fill
	filled      map[levelKey]bool
	lastReset   time.Time

	now func() time.Time
}

// NewEngine 校验配置并创建网格；档位在首次 Setup 时生成。
// ResetThreshold/ResetCooldown 非正时取 0.15 / 1h。
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.ResetThreshold <= 0 {
		cfg.ResetThreshold = 0.15
	}
	if cfg.ResetCooldown <= 0 {
		cfg.ResetCooldown = time.Hour
	}
	return &Engine{
		cfg:    cfg,
		filled: make(map[levelKey]bool),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Setup 围绕中心价重建全部档位并清空本世代的成交记忆。
// 买档在中心价下方按 (1-g)^i 递推，卖档对称在上方按 (1+g)^i 递推。
func (e *Engine) Setup(centerPrice float64) error {
	if centerPrice <= 0 {
		return ErrInvalidPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setupLocked(centerPrice)
	return nil
}

func (e *Engine) setupLocked(centerPrice float64) {
	g := e.cfg.GridSizePercent / 100.0
	levels := make([]Level, 0, 2*e.cfg.NumGrids)
	for i := 1; i <= e.cfg.NumGrids; i++ {
		price := centerPrice * math.Pow(1-g, float64(i))
		levels = append(levels, Level{
			Index:    i,
			Side:     SideBuy,
			Price:    price,
			Quantity: e.cfg.BaseOrderSize / price,
		})
	}
	for i := 1; i <= e.cfg.NumGrids; i++ {
		price := centerPrice * math.Pow(1+g, float64(i))
		qtyPrice := centerPrice
		if !e.cfg.SellQuantityUsesCenterPrice {
			qtyPrice = price
		}
		levels = append(levels, Level{
			Index:    i,
			Side:     SideSell,
			Price:    price,
			Quantity: e.cfg.BaseOrderSize / qtyPrice,
		})
	}

	e.centerPrice = centerPrice
	e.generation++
	e.levels = levels
	e.fills = nil
	e.filled = make(map[levelKey]bool)
	e.lastReset = e.now()
}

// SetBaseOrderSize 更新单档名义金额；只影响之后的 Setup，
// 不回溯调整已生成的档位。
func (e *Engine) SetBaseOrderSize(size float64) error {
	if size <= 0 {
		return fmt.Errorf("grid: base order size %v must be > 0", size)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.BaseOrderSize = size
	return nil
}

// CheckSignals 返回当前价触发且本世代尚未成交过的全部档位。
// 买档触发条件 current <= 档位价，卖档对称；同一次检查可能返回多个。
func (e *Engine) CheckSignals(currentPrice float64) ([]Signal, error) {
	if currentPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.centerPrice == 0 {
		return nil, ErrNotReady
	}

	var signals []Signal
	for _, lv := range e.levels {
		if e.filled[levelKey{side: lv.Side, index: lv.Index}] {
			continue
		}
		fire := (lv.Side == SideBuy && currentPrice <= lv.Price) ||
			(lv.Side == SideSell && currentPrice >= lv.Price)
		if !fire {
			continue
		}
		signals = append(signals, Signal{
			Symbol:     e.cfg.Symbol,
			Side:       lv.Side,
			Price:      lv.Price,
			Quantity:   lv.Quantity,
			LevelIndex: lv.Index,
		})
	}
	return signals, nil
}

// RecordFill 追加一条成交并把对应 (side, index) 标记为已成交。
// 已成交标记在一个世代内不会回退，只能由 Setup 清空。
func (e *Engine) RecordFill(f Fill) error {
	if f.Quantity <= 0 || f.Price <= 0 || f.LevelIndex < 1 {
		return ErrInvalidFill
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.centerPrice == 0 {
		return ErrNotReady
	}
	if f.FilledAt.IsZero() {
		f.FilledAt = e.now()
	}
	e.fills = append(e.fills, f)
	e.filled[levelKey{side: f.Side, index: f.LevelIndex}] = true
	return nil
}

// ShouldReset 判定是否满足重置条件：偏离超阈值且冷却期已过。
func (e *Engine) ShouldReset(currentPrice float64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shouldResetLocked(currentPrice)
}

func (e *Engine) shouldResetLocked(currentPrice float64) bool {
	if e.centerPrice <= 0 || currentPrice <= 0 {
		return false
	}
	drift := math.Abs(currentPrice-e.centerPrice) / e.centerPrice
	if drift <= e.cfg.ResetThreshold {
		return false
	}
	return e.now().Sub(e.lastReset) > e.cfg.ResetCooldown
}

// AutoReset 在满足重置条件时围绕当前价重建网格；未触发返回 (nil, nil)。
// 这是趋势行情后网格不被"搁浅"的唯一自愈手段。
func (e *Engine) AutoReset(currentPrice float64) (*ResetEvent, error) {
	if currentPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.shouldResetLocked(currentPrice) {
		return nil, nil
	}
	old := e.centerPrice
	e.setupLocked(currentPrice)
	return &ResetEvent{
		Symbol:    e.cfg.Symbol,
		OldCenter: old,
		NewCenter: currentPrice,
		At:        e.lastReset,
	}, nil
}

// Symbol 返回网格绑定的交易对。
func (e *Engine) Symbol() string {
	return e.cfg.Symbol
}

// Center 返回当前中心价；未初始化为 0。
func (e *Engine) Center() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.centerPrice
}

// Levels 返回当前世代档位的副本。
func (e *Engine) Levels() []Level {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Level, len(e.levels))
	copy(out, e.levels)
	return out
}

// Fills 返回本世代成交历史的副本。
func (e *Engine) Fills() []Fill {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fill, len(e.fills))
	copy(out, e.fills)
	return out
}

// GetStatus 返回网格状态快照。
func (e *Engine) GetStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Symbol:      e.cfg.Symbol,
		CenterPrice: e.centerPrice,
		Generation:  e.generation,
		NumLevels:   len(e.levels),
		FillCount:   len(e.fills),
		LastReset:   e.lastReset,
	}
	for key, done := range e.filled {
		if !done {
			continue
		}
		if key.side == SideBuy {
			st.FilledBuys++
		} else {
			st.FilledSells++
		}
	}
	return st
}
