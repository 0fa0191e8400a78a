package risk

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGate(t *testing.T, cfg Config) (*Gate, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	g, err := NewGate(cfg, clk)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return g, clk
}

func TestFreshGateAllows(t *testing.T) {
	g, _ := newTestGate(t, DefaultConfig())
	d := g.CheckTradePermission(100)
	if !d.Allowed {
		t.Fatalf("fresh gate denied: %s", d.Reason)
	}
}

func TestLossBreachTripsEmergencyStop(t *testing.T) {
	g, clk := newTestGate(t, Config{MaxDailyTrades: 10, MaxDailyLossPct: 2.0})
	g.UpdateDailyPnL(-2.5)

	d := g.CheckTradePermission(10)
	if d.Allowed {
		t.Fatal("breached gate allowed a trade")
	}
	if !strings.Contains(d.Reason, "daily loss limit") {
		t.Fatalf("reason = %q, want loss limit breach", d.Reason)
	}
	if st := g.GetStatus(); st.Mode != ModeEmergencyStop {
		t.Fatalf("mode = %s, want EMERGENCY_STOP", st.Mode)
	}

	// 二次检查仍拒绝，理由变为紧急停止。
	d = g.CheckTradePermission(10)
	if d.Allowed || !strings.Contains(d.Reason, "emergency stop") {
		t.Fatalf("second check = %+v, want emergency stop denial", d)
	}

	// 跨 UTC 日翻转不解除紧急停止。
	clk.Advance(24 * time.Hour)
	if d := g.CheckTradePermission(10); d.Allowed {
		t.Fatal("date rollover cleared emergency stop")
	}
	if st := g.GetStatus(); st.Mode != ModeEmergencyStop {
		t.Fatalf("mode after rollover = %s, want EMERGENCY_STOP", st.Mode)
	}

	g.ResetToNormal()
	if d := g.CheckTradePermission(10); !d.Allowed {
		t.Fatalf("after reset denied: %s", d.Reason)
	}
	if st := g.GetStatus(); st.DailyPnL != 0 || st.DailyTradeCount != 0 {
		t.Fatalf("reset left counters: %+v", st)
	}
}

func TestDailyTradeLimit(t *testing.T) {
	g, clk := newTestGate(t, Config{MaxDailyTrades: 2, MaxDailyLossPct: 100})
	g.UpdateDailyPnL(0.5)
	g.UpdateDailyPnL(0.3)

	d := g.CheckTradePermission(10)
	if d.Allowed || !strings.Contains(d.Reason, "daily trade limit") {
		t.Fatalf("decision = %+v, want trade limit denial", d)
	}
	if st := g.GetStatus(); st.Mode != ModeNormal {
		t.Fatalf("trade limit flipped mode: %s", st.Mode)
	}

	// 日翻转后计数清零，恢复放行。
	clk.Advance(24 * time.Hour)
	if d := g.CheckTradePermission(10); !d.Allowed {
		t.Fatalf("after rollover denied: %s", d.Reason)
	}
	if st := g.GetStatus(); st.DailyTradeCount != 0 || st.DailyPnL != 0 {
		t.Fatalf("rollover kept counters: %+v", st)
	}
}

func TestLazyRolloverOnFirstAccess(t *testing.T) {
	g, clk := newTestGate(t, DefaultConfig())
	g.UpdateDailyPnL(1.5)
	before := g.GetStatus()
	if before.DailyTradeCount != 1 || before.DailyPnL != 1.5 {
		t.Fatalf("status = %+v, want 1 trade pnl 1.5", before)
	}

	// 翻转可以远晚于午夜，但必然发生在新一天的首次访问上。
	clk.Advance(30 * time.Hour)
	after := g.GetStatus()
	if after.DailyTradeCount != 0 || after.DailyPnL != 0 {
		t.Fatalf("status after rollover = %+v, want zeroed", after)
	}
	if !after.Day.After(before.Day) {
		t.Fatalf("day did not advance: %v -> %v", before.Day, after.Day)
	}
}

func TestExternalEmergencyIsTerminal(t *testing.T) {
	g, clk := newTestGate(t, DefaultConfig())
	g.TriggerEmergencyStop("5 consecutive submission failures")

	if d := g.CheckTradePermission(1); d.Allowed {
		t.Fatal("emergency gate allowed a trade")
	}
	g.UpdateDailyPnL(10) // 盈利也不解除
	clk.Advance(48 * time.Hour)
	if d := g.CheckTradePermission(1); d.Allowed {
		t.Fatal("emergency cleared without operator reset")
	}
	if st := g.GetStatus(); st.EmergencyReason == "" {
		t.Fatal("emergency reason lost")
	}

	g.ResetToNormal()
	if st := g.GetStatus(); st.Mode != ModeNormal || st.EmergencyReason != "" {
		t.Fatalf("status after reset = %+v", st)
	}
}

func TestMaxOrderValue(t *testing.T) {
	g, _ := newTestGate(t, Config{MaxOrderValue: 100})
	if d := g.CheckTradePermission(150); d.Allowed || !strings.Contains(d.Reason, "order value") {
		t.Fatalf("decision = %+v, want order value denial", d)
	}
	// 单笔超限只拒绝该笔，不触发紧急停止。
	if st := g.GetStatus(); st.Mode != ModeNormal {
		t.Fatalf("order value denial flipped mode: %s", st.Mode)
	}
	if d := g.CheckTradePermission(50); !d.Allowed {
		t.Fatalf("within-limit trade denied: %s", d.Reason)
	}
}

func TestModeChangeCallback(t *testing.T) {
	g, _ := newTestGate(t, Config{MaxDailyLossPct: 2.0})

	type change struct {
		from, to Mode
		reason   string
	}
	var mu sync.Mutex
	var changes []change
	g.SetModeChangeCallback(func(from, to Mode, reason string) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{from, to, reason})
	})

	g.UpdateDailyPnL(-3)
	g.CheckTradePermission(1)
	g.TriggerEmergencyStop("again") // 已处于紧急状态，不重复回调
	g.ResetToNormal()

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 {
		t.Fatalf("got %d mode changes, want 2: %+v", len(changes), changes)
	}
	if changes[0].from != ModeNormal || changes[0].to != ModeEmergencyStop {
		t.Fatalf("first change = %+v", changes[0])
	}
	if changes[1].to != ModeNormal {
		t.Fatalf("second change = %+v", changes[1])
	}
}

func TestConfigValidation(t *testing.T) {
	for i, cfg := range []Config{
		{MaxDailyTrades: -1},
		{MaxDailyLossPct: -0.5},
		{MaxOrderValue: -10},
	} {
		if _, err := NewGate(cfg, nil); err == nil {
			t.Fatalf("config %d accepted: %+v", i, cfg)
		}
	}
}

func TestUpdateLimitsAppliesNextCheck(t *testing.T) {
	g, _ := newTestGate(t, Config{MaxDailyTrades: 100, MaxDailyLossPct: 100, MaxOrderValue: 50})

	if d := g.CheckTradePermission(80); d.Allowed {
		t.Fatal("order above value limit allowed")
	}
	if err := g.UpdateLimits(Config{MaxDailyTrades: 100, MaxDailyLossPct: 100, MaxOrderValue: 200}); err != nil {
		t.Fatalf("update limits: %v", err)
	}
	if d := g.CheckTradePermission(80); !d.Allowed {
		t.Fatalf("after limit raise denied: %s", d.Reason)
	}

	// 计数在热更新中保留：收紧笔数上限立即约束既有计数。
	g.UpdateDailyPnL(0.1)
	g.UpdateDailyPnL(0.1)
	if err := g.UpdateLimits(Config{MaxDailyTrades: 2, MaxDailyLossPct: 100}); err != nil {
		t.Fatalf("update limits: %v", err)
	}
	if d := g.CheckTradePermission(10); d.Allowed || !strings.Contains(d.Reason, "daily trade limit") {
		t.Fatalf("decision = %+v, want trade limit denial", d)
	}

	if err := g.UpdateLimits(Config{MaxDailyTrades: -1}); err == nil {
		t.Fatal("invalid limits accepted")
	}
}
