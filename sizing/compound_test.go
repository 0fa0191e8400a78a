package sizing

import (
	"math"
	"testing"
)

const eps = 1e-9

func newTestSizer(t *testing.T) *Sizer {
	t.Helper()
	s, err := New(DefaultConfig(100))
	if err != nil {
		t.Fatalf("new sizer: %v", err)
	}
	return s
}

func TestZeroProfitKeepsBaseMultiplier(t *testing.T) {
	s := newTestSizer(t)
	if got := s.Update(0); got != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0", got)
	}
	if got := s.OrderSize(); got != 100 {
		t.Fatalf("order size = %v, want 100", got)
	}
}

func TestBelowActivationThresholdPinsToOne(t *testing.T) {
	s := newTestSizer(t)
	// 4.9 < 阈值 5.0，公式不生效。
	if got := s.Update(4.9); got != 1.0 {
		t.Fatalf("multiplier below threshold = %v, want 1.0", got)
	}
	// 阈值本身即激活，但 1.015 与 1.0 的差小于 MinDelta，不发布。
	if got := s.Update(5.0); got != 1.0 {
		t.Fatalf("multiplier at threshold = %v, want 1.0 (hysteresis)", got)
	}
}

func TestClampAtMaxMultiplier(t *testing.T) {
	s := newTestSizer(t)
	// 1000*0.3/100 = 3.0，raw 4.0，夹到 2.0。
	if got := s.Update(1000); got != 2.0 {
		t.Fatalf("multiplier = %v, want clamp at 2.0", got)
	}
	if got := s.OrderSize(); got != 200 {
		t.Fatalf("order size = %v, want 200", got)
	}
}

func TestHysteresisSuppressesSmallSteps(t *testing.T) {
	s := newTestSizer(t)
	if got := s.Update(100); math.Abs(got-1.3) > eps {
		t.Fatalf("multiplier = %v, want 1.3", got)
	}
	// 100 -> 110：目标 1.33，差 0.03 <= 0.05，保持 1.3。
	if got := s.Update(110); math.Abs(got-1.3) > eps {
		t.Fatalf("multiplier after +10 profit = %v, want unchanged 1.3", got)
	}
	// 100 -> 120：目标 1.36，差 0.06 > 0.05，发布新值。
	if got := s.Update(120); math.Abs(got-1.36) > eps {
		t.Fatalf("multiplier after +20 profit = %v, want 1.36", got)
	}
}

func TestMonotonicUnderGrowingProfit(t *testing.T) {
	s := newTestSizer(t)
	prev := s.Multiplier()
	for profit := 0.0; profit <= 500; profit += 7.3 {
		got := s.Update(profit)
		if got+eps < prev {
			t.Fatalf("multiplier decreased: %v -> %v at profit %v", prev, got, profit)
		}
		prev = got
	}
	// 死区允许停在上限下方不超过 MinDelta 处。
	if 2.0-prev > 0.05+eps {
		t.Fatalf("final multiplier = %v, want within MinDelta of 2.0", prev)
	}
}

func TestGetStateSnapshot(t *testing.T) {
	s := newTestSizer(t)
	s.Update(200)
	st := s.GetState()
	if st.AccumulatedProfit != 200 {
		t.Fatalf("accumulated = %v, want 200", st.AccumulatedProfit)
	}
	if math.Abs(st.Multiplier-1.6) > eps || math.Abs(st.OrderSize-160) > eps {
		t.Fatalf("state = %+v, want multiplier 1.6 order size 160", st)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := []Config{
		{BaseOrderSize: 0, ReinvestmentRate: 0.3, MaxMultiplier: 2},
		{BaseOrderSize: 100, ReinvestmentRate: -0.1, MaxMultiplier: 2},
		{BaseOrderSize: 100, ReinvestmentRate: 1.5, MaxMultiplier: 2},
		{BaseOrderSize: 100, ReinvestmentRate: 0.3, MaxMultiplier: 0.5},
		{BaseOrderSize: 100, ReinvestmentRate: 0.3, MaxMultiplier: 2, MinDelta: -1},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("config %d accepted: %+v", i, cfg)
		}
	}
}

func TestSetBaseOrderSizeKeepsMultiplier(t *testing.T) {
	s := newTestSizer(t)
	s.Update(200)
	if err := s.SetBaseOrderSize(50); err != nil {
		t.Fatalf("set base order size: %v", err)
	}
	// 倍率不随基数变化，名义金额按新基数折算。
	if math.Abs(s.Multiplier()-1.6) > eps {
		t.Fatalf("multiplier = %v, want 1.6", s.Multiplier())
	}
	if math.Abs(s.OrderSize()-80) > eps {
		t.Fatalf("order size = %v, want 80", s.OrderSize())
	}
	// 下一次 Update 按新基数重算：1 + 200*0.3/50 = 2.2，夹到上限 2.0。
	if got := s.Update(200); math.Abs(got-2.0) > eps {
		t.Fatalf("multiplier after update = %v, want 2.0", got)
	}
	if err := s.SetBaseOrderSize(0); err == nil {
		t.Fatal("zero base order size accepted")
	}
}
