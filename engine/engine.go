package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/gateway"
	"grid-trader-go/grid"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/journal"
	"grid-trader-go/ledger"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/risk"
	"grid-trader-go/sizing"
)

// State 引擎状态。
type State int

const (
	// StateIdle 创建后尚未启动。
	StateIdle State = iota
	// StateRunning 周期循环运行中。
	StateRunning
	// StatePaused 暂停：循环仍在走表但跳过交易逻辑。
	StatePaused
	// StateStopped 已停止，可重新 Start。
	StateStopped
)

// String 返回状态名称。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎运行参数。
type Config struct {
	CycleInterval time.Duration // 周期间隔
	SubmitTimeout time.Duration // 单次外部调用超时
	MaxRetries    int           // 下单重试上限（含首次）
	RetryBackoff  time.Duration // 线性退避基数

	// ConsecutiveFailureLimit 连续下单失败达到该次数触发紧急停止。
	ConsecutiveFailureLimit int
	// MaxOrdersPerCycle 单周期下单上限，0 不限制。
	MaxOrdersPerCycle int

	// SellLossTolerance 卖出保护：现价低于档位价超过该比例时放弃卖出。
	SellLossTolerance float64
	// BuyPremiumTolerance 买入保护：现价高于档位价超过该比例时放弃买入。
	BuyPremiumTolerance float64

	// PriceStaleAfter 缓存价超过该时长未更新时回退 REST 询价。
	PriceStaleAfter time.Duration
}

// Components 引擎依赖组件。Grids 的键集决定引擎遍历的交易对；
// Sizers/Filters/Pairs 按交易对查表，缺项分别表示不复利、
// 无交易所约束、跳过余额预检。
type Components struct {
	Exchange gateway.Exchange
	Prices   *market.PriceCache
	Grids    map[string]*grid.Engine
	Sizers   map[string]*sizing.Sizer
	Filters  map[string]gateway.SymbolFilters
	Pairs    map[string]gateway.AssetPair
	Ledger   *ledger.Ledger
	Journal  journal.Journal
	Gate     *risk.Gate
	Logger   *logger.Logger
	Alerts   *alert.Manager
	Metrics  *metrics.Collector
}

// Engine 网格交易主引擎：单工作循环按固定周期顺序评估各交易对，
// 产生的信号依次过风控闸门、盈利保护、交易所约束与余额预检后
// 以市价单提交。所有外部调用都带超时，暂停与重置只在周期间隙生效。
type Engine struct {
	cfg Config

	exchange gateway.Exchange
	prices   *market.PriceCache
	grids    map[string]*grid.Engine
	sizers   map[string]*sizing.Sizer
	filters  map[string]gateway.SymbolFilters
	pairs    map[string]gateway.AssetPair
	book     *ledger.Ledger
	journal  journal.Journal
	gate     *risk.Gate
	logger   *logger.Logger
	alerts   *alert.Manager
	metrics  *metrics.Collector

	// symbols 固定遍历顺序，保证周期行为可复现。
	symbols []string

	mu             sync.RWMutex
	state          State
	stopChan       chan struct{}
	doneChan       chan struct{}
	consecFailures int
	pendingResets  map[string]bool

	stats engineStats
}

type engineStats struct {
	mu         sync.Mutex
	startTime  time.Time
	cycles     int64
	signals    int64
	orders     int64
	fills      int64
	errors     int64
	rejections int64
	lastCycle  time.Time
}

// Statistics 引擎统计快照。
type Statistics struct {
	StartTime  time.Time
	Cycles     int64
	Signals    int64
	Orders     int64
	Fills      int64
	Errors     int64
	Rejections int64
	LastCycle  time.Time
}

// Status 对外状态汇总，/status 与健康检查的数据源。
// 全部取自各组件的快照方法，不会被周期循环阻塞。
type Status struct {
	State               string
	Risk                risk.Status
	Grids               map[string]grid.Status
	Sizing              map[string]sizing.State
	Prices              map[string]float64
	RealizedProfit      float64
	ConsecutiveFailures int
	Stats               Statistics
}

// New 创建引擎并注册风控模式切换回调。
func New(cfg Config, components Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 20 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.ConsecutiveFailureLimit < 1 {
		cfg.ConsecutiveFailureLimit = 5
	}
	if cfg.SellLossTolerance <= 0 {
		cfg.SellLossTolerance = 0.01
	}
	if cfg.BuyPremiumTolerance <= 0 {
		cfg.BuyPremiumTolerance = 0.02
	}
	if cfg.PriceStaleAfter <= 0 {
		cfg.PriceStaleAfter = 30 * time.Second
	}

	mc := components.Metrics
	if mc == nil {
		mc = metrics.New(metrics.DefaultConfig())
	}

	symbols := make([]string, 0, len(components.Grids))
	for sym := range components.Grids {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	e := &Engine{
		cfg:           cfg,
		exchange:      components.Exchange,
		prices:        components.Prices,
		grids:         components.Grids,
		sizers:        components.Sizers,
		filters:       components.Filters,
		pairs:         components.Pairs,
		book:          components.Ledger,
		journal:       components.Journal,
		gate:          components.Gate,
		logger:        components.Logger,
		alerts:        components.Alerts,
		metrics:       mc,
		symbols:       symbols,
		state:         StateIdle,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
		pendingResets: make(map[string]bool),
	}
	e.setupRiskCallbacks()
	return e, nil
}

// Start 启动周期循环。从 STOPPED 复启时重建控制通道。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.stats.mu.Lock()
	e.stats.startTime = time.Now().UTC()
	e.stats.mu.Unlock()

	e.logger.Info("grid engine starting",
		zap.Strings("symbols", e.symbols),
		zap.Duration("cycle_interval", e.cfg.CycleInterval),
		zap.Int("max_retries", e.cfg.MaxRetries),
		zap.Int("consecutive_failure_limit", e.cfg.ConsecutiveFailureLimit))

	go e.run(ctx)
	return nil
}

// Stop 停止周期循环并等待其退出；在途订单不会被中断，
// 只是不再开启新的周期。重复调用幂等。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateIdle {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.logger.Info("grid engine stopping")

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.logger.Warn("timeout waiting for engine loop to exit")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("grid engine stopped")
	return nil
}

// Pause 暂停交易，下一个周期起生效；行情缓存与状态查询不受影响。
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.state = StatePaused
	e.logger.Info("grid engine paused")
	return nil
}

// Resume 恢复交易。
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return fmt.Errorf("engine not paused (state: %s)", e.state)
	}
	e.state = StateRunning
	e.logger.Info("grid engine resumed")
	return nil
}

// ResetGrid 请求围绕最新价重铺某交易对的网格。
// 请求被记账，在该交易对的下一次评估开始时执行，绝不打断在途提交。
func (e *Engine) ResetGrid(symbol string) error {
	if _, ok := e.grids[symbol]; !ok {
		return fmt.Errorf("engine: unknown symbol %s", symbol)
	}
	e.mu.Lock()
	e.pendingResets[symbol] = true
	e.mu.Unlock()
	e.logger.Info("grid reset requested", zap.String("symbol", symbol))
	return nil
}

// UpdateBaseOrderSize 热更新某交易对的基础名义金额。
// 复利倍率保持不变，新值从下一次网格重铺开始作用于档位数量。
func (e *Engine) UpdateBaseOrderSize(symbol string, size float64) error {
	g, ok := e.grids[symbol]
	if !ok {
		return fmt.Errorf("engine: unknown symbol %s", symbol)
	}
	effective := size
	if s := e.sizers[symbol]; s != nil {
		if err := s.SetBaseOrderSize(size); err != nil {
			return err
		}
		effective = s.OrderSize()
	}
	if err := g.SetBaseOrderSize(effective); err != nil {
		return err
	}
	e.logger.Info("base order size updated",
		zap.String("symbol", symbol),
		zap.Float64("base", size),
		zap.Float64("effective", effective))
	return nil
}

// UpdateProtection 热更新盈利保护容差，从下一次信号判定生效。
func (e *Engine) UpdateProtection(sellLossTol, buyPremiumTol float64) error {
	if sellLossTol < 0 || sellLossTol >= 1 {
		return fmt.Errorf("sell loss tolerance %v out of [0, 1)", sellLossTol)
	}
	if buyPremiumTol < 0 || buyPremiumTol >= 1 {
		return fmt.Errorf("buy premium tolerance %v out of [0, 1)", buyPremiumTol)
	}
	e.mu.Lock()
	e.cfg.SellLossTolerance = sellLossTol
	e.cfg.BuyPremiumTolerance = buyPremiumTol
	e.mu.Unlock()
	e.logger.Info("protection tolerances updated",
		zap.Float64("sell_loss", sellLossTol),
		zap.Float64("buy_premium", buyPremiumTol))
	return nil
}

// GetState 返回引擎状态。
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Statistics 返回统计快照。
func (e *Engine) Statistics() Statistics {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	return Statistics{
		StartTime:  e.stats.startTime,
		Cycles:     e.stats.cycles,
		Signals:    e.stats.signals,
		Orders:     e.stats.orders,
		Fills:      e.stats.fills,
		Errors:     e.stats.errors,
		Rejections: e.stats.rejections,
		LastCycle:  e.stats.lastCycle,
	}
}

// Status 汇总引擎、风控、网格与复利状态。
func (e *Engine) Status() Status {
	e.mu.RLock()
	state := e.state
	failures := e.consecFailures
	e.mu.RUnlock()

	st := Status{
		State:               state.String(),
		Risk:                e.gate.GetStatus(),
		Grids:               make(map[string]grid.Status, len(e.grids)),
		Sizing:              make(map[string]sizing.State, len(e.sizers)),
		Prices:              make(map[string]float64, len(e.symbols)),
		RealizedProfit:      e.book.RealizedProfit(),
		ConsecutiveFailures: failures,
		Stats:               e.Statistics(),
	}
	for sym, g := range e.grids {
		st.Grids[sym] = g.GetStatus()
	}
	for sym, s := range e.sizers {
		st.Sizing[sym] = s.GetState()
	}
	for _, sym := range e.symbols {
		if p, ok := e.prices.Price(sym); ok {
			st.Prices[sym] = p
		}
	}
	return st
}

// run 主循环。
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("context done, engine loop exiting")
			return
		case <-e.stopChan:
			e.logger.Info("stop signal received")
			return
		case <-ticker.C:
			e.onCycle(ctx)
		}
	}
}

// setupRiskCallbacks 把风控模式切换接到日志、指标与告警。
func (e *Engine) setupRiskCallbacks() {
	e.gate.SetModeChangeCallback(func(from, to risk.Mode, reason string) {
		e.logger.LogRisk("mode_change", map[string]any{
			"from":   from.String(),
			"to":     to.String(),
			"reason": reason,
		})
		e.metrics.UpdateRiskMode(int(to))
		if e.alerts == nil {
			return
		}
		if to == risk.ModeEmergencyStop {
			e.alerts.SendCritical(fmt.Sprintf("触发紧急停止: %s", reason), nil)
		} else {
			e.alerts.SendInfo(fmt.Sprintf("风控恢复正常: %s", reason), nil)
		}
	})
}

func (e *Engine) recordError() {
	e.stats.mu.Lock()
	e.stats.errors++
	e.stats.mu.Unlock()
}

func (e *Engine) recordRejection() {
	e.stats.mu.Lock()
	e.stats.rejections++
	e.stats.mu.Unlock()
}

func validateConfig(cfg Config) error {
	if cfg.SellLossTolerance < 0 || cfg.SellLossTolerance >= 1 {
		return fmt.Errorf("sell loss tolerance %v out of [0, 1)", cfg.SellLossTolerance)
	}
	if cfg.BuyPremiumTolerance < 0 || cfg.BuyPremiumTolerance >= 1 {
		return fmt.Errorf("buy premium tolerance %v out of [0, 1)", cfg.BuyPremiumTolerance)
	}
	if cfg.MaxOrdersPerCycle < 0 {
		return errors.New("max orders per cycle must be >= 0")
	}
	return nil
}

func validateComponents(comp Components) error {
	if comp.Exchange == nil {
		return errors.New("exchange is required")
	}
	if comp.Prices == nil {
		return errors.New("price cache is required")
	}
	if len(comp.Grids) == 0 {
		return errors.New("at least one grid is required")
	}
	for sym, g := range comp.Grids {
		if g == nil {
			return fmt.Errorf("grid for %s is nil", sym)
		}
	}
	if comp.Ledger == nil {
		return errors.New("ledger is required")
	}
	if comp.Gate == nil {
		return errors.New("risk gate is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
