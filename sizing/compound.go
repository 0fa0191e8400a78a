package sizing

import (
	"fmt"
	"math"
	"sync"
)

// Config 复利参数。
type Config struct {
	BaseOrderSize      float64 // 基础单档名义金额
	ReinvestmentRate   float64 // 利润再投入比例
	MaxMultiplier      float64 // 倍率上限
	MinProfitThreshold float64 // 低于该累计利润时倍率恒为 1.0
	MinDelta           float64 // 倍率变化小于该值时不发布，避免来回抖动
}

// DefaultConfig 返回默认复利参数。
func DefaultConfig(baseOrderSize float64) Config {
	return Config{
		BaseOrderSize:      baseOrderSize,
		ReinvestmentRate:   0.3,
		MaxMultiplier:      2.0,
		MinProfitThreshold: 5.0,
		MinDelta:           0.05,
	}
}

func validateConfig(cfg Config) error {
	if cfg.BaseOrderSize <= 0 {
		return fmt.Errorf("sizing: base order size %v must be > 0", cfg.BaseOrderSize)
	}
	if cfg.ReinvestmentRate < 0 || cfg.ReinvestmentRate > 1 {
		return fmt.Errorf("sizing: reinvestment rate %v out of [0, 1]", cfg.ReinvestmentRate)
	}
	if cfg.MaxMultiplier < 1 {
		return fmt.Errorf("sizing: max multiplier %v must be >= 1", cfg.MaxMultiplier)
	}
	if cfg.MinProfitThreshold < 0 {
		return fmt.Errorf("sizing: min profit threshold %v must be >= 0", cfg.MinProfitThreshold)
	}
	if cfg.MinDelta < 0 {
		return fmt.Errorf("sizing: min delta %v must be >= 0", cfg.MinDelta)
	}
	return nil
}

// State 复利状态快照，可随时由账本重建。
type State struct {
	AccumulatedProfit float64
	Multiplier        float64
	OrderSize         float64
}

// Sizer 把累计已实现利润折算成有界的下单倍率。
// 倍率只作用于下一次网格 Setup 的名义金额，不回溯改已生成档位。
type Sizer struct {
	mu          sync.Mutex
	cfg         Config
	accumulated float64
	multiplier  float64
}

// New 创建倍率计算器，初始倍率 1.0。
func New(cfg Config) (*Sizer, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Sizer{cfg: cfg, multiplier: 1.0}, nil
}

// Update 根据累计利润重算倍率并返回当前生效值。
// 公式 1 + profit*rate/base，夹在 [1.0, MaxMultiplier]；
// 利润未达激活阈值时恒为 1.0；与当前值的差不超过 MinDelta 时不更新。
func (s *Sizer) Update(accumulatedProfit float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulated = accumulatedProfit

	target := 1.0
	if accumulatedProfit >= s.cfg.MinProfitThreshold {
		raw := 1.0 + accumulatedProfit*s.cfg.ReinvestmentRate/s.cfg.BaseOrderSize
		target = math.Min(math.Max(raw, 1.0), s.cfg.MaxMultiplier)
	}
	if math.Abs(target-s.multiplier) > s.cfg.MinDelta {
		s.multiplier = target
	}
	return s.multiplier
}

// SetBaseOrderSize 更新基础名义金额；倍率不动，之后的
// Update 与 OrderSize 按新基数折算。
func (s *Sizer) SetBaseOrderSize(size float64) error {
	if size <= 0 {
		return fmt.Errorf("sizing: base order size %v must be > 0", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.BaseOrderSize = size
	return nil
}

// Multiplier 返回当前生效倍率。
func (s *Sizer) Multiplier() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multiplier
}

// OrderSize 返回倍率作用后的单档名义金额。
func (s *Sizer) OrderSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.BaseOrderSize * s.multiplier
}

// GetState 返回状态快照。
func (s *Sizer) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		AccumulatedProfit: s.accumulated,
		Multiplier:        s.multiplier,
		OrderSize:         s.cfg.BaseOrderSize * s.multiplier,
	}
}
