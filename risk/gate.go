package risk

import (
	"fmt"
	"sync"
	"time"
)

// Mode 风控模式。
type Mode int

const (
	// ModeNormal 正常交易。
	ModeNormal Mode = iota
	// ModeEmergencyStop 紧急停止：拒绝一切新订单，直到人工复位。
	ModeEmergencyStop
)

// String 返回模式名称。
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeEmergencyStop:
		return "EMERGENCY_STOP"
	default:
		return "UNKNOWN"
	}
}

// Config 风控阈值。
type Config struct {
	MaxDailyTrades  int     // 单日最大成交笔数，0 不限制
	MaxDailyLossPct float64 // 日内亏损阈值（与 UpdateDailyPnL 传入值同单位），0 不启用
	MaxOrderValue   float64 // 单笔名义金额上限，0 不限制
}

// DefaultConfig 返回默认风控阈值。
func DefaultConfig() Config {
	return Config{
		MaxDailyTrades:  50,
		MaxDailyLossPct: 2.0,
		MaxOrderValue:   0,
	}
}

func validateConfig(cfg Config) error {
	if cfg.MaxDailyTrades < 0 {
		return fmt.Errorf("risk: max daily trades %d must be >= 0", cfg.MaxDailyTrades)
	}
	if cfg.MaxDailyLossPct < 0 {
		return fmt.Errorf("risk: max daily loss %v must be >= 0", cfg.MaxDailyLossPct)
	}
	if cfg.MaxOrderValue < 0 {
		return fmt.Errorf("risk: max order value %v must be >= 0", cfg.MaxOrderValue)
	}
	return nil
}

// Decision 交易许可结论。拒绝属于正常控制流，不是错误。
type Decision struct {
	Allowed bool
	Reason  string
}

// Status 风控状态快照。
type Status struct {
	Mode            Mode
	DailyPnL        float64
	DailyTradeCount int
	Day             time.Time // UTC 自然日零点
	EmergencyReason string
}

// ModeChangeFunc 模式切换回调，在锁外调用。
type ModeChangeFunc func(from, to Mode, reason string)

// Gate 单实例风控闸门：维护日内盈亏与成交计数，在 NORMAL 与
// EMERGENCY_STOP 之间迁移。EMERGENCY_STOP 只能由 ResetToNormal 解除。
// 日计数在 UTC 日期翻转后的首次访问时惰性清零，不依赖定时器。
type Gate struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock

	mode            Mode
	emergencyReason string
	dailyPnL        float64
	dailyTradeCount int
	day             time.Time

	onModeChange ModeChangeFunc
}

// NewGate 创建风控闸门；clock 为 nil 时使用真实时钟。
func NewGate(cfg Config, clock Clock) (*Gate, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = NowUTC
	}
	return &Gate{
		cfg:   cfg,
		clock: clock,
		mode:  ModeNormal,
		day:   dayOf(clock.Now()),
	}, nil
}

// SetModeChangeCallback 注册模式切换回调。
func (g *Gate) SetModeChangeCallback(fn ModeChangeFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onModeChange = fn
}

// UpdateLimits 热更新风控阈值；日计数与模式不动，下一次检查生效。
func (g *Gate) UpdateLimits(cfg Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
	return nil
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// rolloverLocked 惰性清零日计数；模式不受日期翻转影响。
func (g *Gate) rolloverLocked() {
	d := dayOf(g.clock.Now())
	if !d.Equal(g.day) {
		g.dailyPnL = 0
		g.dailyTradeCount = 0
		g.day = d
	}
}

// setModeLocked 切换模式并返回待在锁外执行的回调；无变化返回 nil。
func (g *Gate) setModeLocked(to Mode, reason string) func() {
	if g.mode == to {
		return nil
	}
	from := g.mode
	g.mode = to
	if to == ModeEmergencyStop {
		g.emergencyReason = reason
	} else {
		g.emergencyReason = ""
	}
	if g.onModeChange == nil {
		return nil
	}
	fn := g.onModeChange
	return func() { fn(from, to, reason) }
}

// CheckTradePermission 判定一笔候选交易是否放行。
// 日亏损阈值被突破时除拒绝外还会把模式切到 EMERGENCY_STOP。
func (g *Gate) CheckTradePermission(tradeValue float64) Decision {
	g.mu.Lock()
	g.rolloverLocked()

	if g.mode == ModeEmergencyStop {
		g.mu.Unlock()
		return Decision{Reason: "emergency stop active"}
	}
	if g.cfg.MaxDailyTrades > 0 && g.dailyTradeCount >= g.cfg.MaxDailyTrades {
		reason := fmt.Sprintf("daily trade limit reached: %d/%d", g.dailyTradeCount, g.cfg.MaxDailyTrades)
		g.mu.Unlock()
		return Decision{Reason: reason}
	}
	if g.cfg.MaxDailyLossPct > 0 && g.dailyPnL <= -g.cfg.MaxDailyLossPct {
		reason := fmt.Sprintf("daily loss limit breached: %.4f <= -%.4f", g.dailyPnL, g.cfg.MaxDailyLossPct)
		notify := g.setModeLocked(ModeEmergencyStop, reason)
		g.mu.Unlock()
		if notify != nil {
			notify()
		}
		return Decision{Reason: reason}
	}
	if g.cfg.MaxOrderValue > 0 && tradeValue > g.cfg.MaxOrderValue {
		reason := fmt.Sprintf("order value %.2f above limit %.2f", tradeValue, g.cfg.MaxOrderValue)
		g.mu.Unlock()
		return Decision{Reason: reason}
	}

	g.mu.Unlock()
	return Decision{Allowed: true}
}

// UpdateDailyPnL 并入一笔已完成交易的带符号盈亏并累加成交计数。
// 调用方保证每笔成交恰好调用一次；本方法不做去重。
func (g *Gate) UpdateDailyPnL(tradePnL float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.dailyPnL += tradePnL
	g.dailyTradeCount++
}

// TriggerEmergencyStop 外部紧急信号入口（如连续执行失败）。
func (g *Gate) TriggerEmergencyStop(reason string) {
	g.mu.Lock()
	notify := g.setModeLocked(ModeEmergencyStop, reason)
	g.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// ResetToNormal 人工复位：恢复 NORMAL 并清零日计数，
// 否则同日内复位会在下一次检查立即再次触发。
func (g *Gate) ResetToNormal() {
	g.mu.Lock()
	g.dailyPnL = 0
	g.dailyTradeCount = 0
	g.day = dayOf(g.clock.Now())
	notify := g.setModeLocked(ModeNormal, "operator reset")
	g.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// GetStatus 返回状态快照；访问本身会触发惰性日翻转。
func (g *Gate) GetStatus() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return Status{
		Mode:            g.mode,
		DailyPnL:        g.dailyPnL,
		DailyTradeCount: g.dailyTradeCount,
		Day:             g.day,
		EmergencyReason: g.emergencyReason,
	}
}
