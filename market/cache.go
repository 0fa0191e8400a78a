package market

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidPrice 价格更新非正。
var ErrInvalidPrice = errors.New("market: price must be positive")

// neverUpdated 无数据时返回的新鲜度，视为永远过期。
const neverUpdated = 365 * 24 * time.Hour

// Tick 某交易对的最新价更新。
type Tick struct {
	Symbol string
	Price  float64
	At     time.Time
}

// PriceCache 缓存各交易对最新价并记录新鲜度。
// 行情流负责写入，引擎每个周期只读取一次。
type PriceCache struct {
	mu   sync.RWMutex
	last map[string]Tick
	now  func() time.Time
}

// NewPriceCache 创建空缓存。
func NewPriceCache() *PriceCache {
	return &PriceCache{
		last: make(map[string]Tick),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Update 写入最新价；时间零值时取当前时间。
func (c *PriceCache) Update(symbol string, price float64, at time.Time) error {
	if price <= 0 {
		return ErrInvalidPrice
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if at.IsZero() {
		at = c.now()
	}
	c.last[symbol] = Tick{Symbol: symbol, Price: price, At: at}
	return nil
}

// Price 返回最新价；无数据时 ok 为 false。
func (c *PriceCache) Price(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.last[symbol]
	if !ok {
		return 0, false
	}
	return tick.Price, true
}

// Staleness 返回距离上次更新的间隔；无数据视为永远过期。
func (c *PriceCache) Staleness(symbol string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.last[symbol]
	if !ok {
		return neverUpdated
	}
	return c.now().Sub(tick.At)
}

// Snapshot 返回全部最新价的副本。
func (c *PriceCache) Snapshot() map[string]Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Tick, len(c.last))
	for sym, tick := range c.last {
		out[sym] = tick
	}
	return out
}
