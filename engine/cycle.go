package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grid-trader-go/gateway"
	"grid-trader-go/grid"
	"grid-trader-go/journal"
	"grid-trader-go/ledger"
)

// onCycle 执行一个交易周期：按固定顺序依次评估各交易对。
// 任何单个交易对的失败都只记录并继续，周期本身不会中断进程。
func (e *Engine) onCycle(ctx context.Context) {
	if e.GetState() == StatePaused {
		return
	}

	start := time.Now()
	e.stats.mu.Lock()
	e.stats.cycles++
	e.stats.lastCycle = start.UTC()
	e.stats.mu.Unlock()

	submitted := 0
	for _, sym := range e.symbols {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		default:
		}
		// 暂停在交易对评估间隙同样生效。
		if e.GetState() == StatePaused {
			break
		}
		e.evaluateSymbol(ctx, sym, &submitted)
	}
	e.metrics.RecordCycle(time.Since(start))
}

// evaluateSymbol 单交易对评估：取价、先处理重置再查信号，
// 信号按档位顺序逐个走提交管线。重置先行保证信号用的是重铺后的档位。
func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, submitted *int) {
	g := e.grids[symbol]

	price, err := e.currentPrice(ctx, symbol)
	if err != nil {
		e.logger.LogError(err, map[string]any{"symbol": symbol, "stage": "price"})
		e.recordError()
		return
	}
	e.metrics.UpdatePrice(symbol, price)

	// 首次见价时围绕它初始化网格。
	if g.Center() == 0 {
		if err := g.Setup(price); err != nil {
			e.logger.LogError(err, map[string]any{"symbol": symbol, "stage": "setup"})
			e.recordError()
			return
		}
		e.logger.Info("grid initialized",
			zap.String("symbol", symbol),
			zap.Float64("center", price))
		e.metrics.UpdateGridCenter(symbol, price)
	}

	e.applyResets(symbol, g, price)

	signals, err := g.CheckSignals(price)
	if err != nil {
		e.logger.LogError(err, map[string]any{"symbol": symbol, "stage": "signals"})
		e.recordError()
		return
	}
	if len(signals) == 0 {
		return
	}
	e.stats.mu.Lock()
	e.stats.signals += int64(len(signals))
	e.stats.mu.Unlock()
	e.metrics.RecordSignals(symbol, len(signals))

	for _, sig := range signals {
		if e.cfg.MaxOrdersPerCycle > 0 && *submitted >= e.cfg.MaxOrdersPerCycle {
			e.logger.Debug("order budget for cycle exhausted",
				zap.String("symbol", symbol),
				zap.Int("submitted", *submitted))
			return
		}
		if e.processSignal(ctx, symbol, sig, price) {
			*submitted++
		}
	}
}

// applyResets 先执行已记账的手动重置，否则尝试漂移自动重置。
// 两者都只发生在这里，周期间隙之外网格档位不变。
func (e *Engine) applyResets(symbol string, g *grid.Engine, price float64) {
	e.mu.Lock()
	manual := e.pendingResets[symbol]
	delete(e.pendingResets, symbol)
	e.mu.Unlock()

	if manual {
		old := g.Center()
		if err := g.Setup(price); err != nil {
			e.logger.LogError(err, map[string]any{"symbol": symbol, "stage": "reset"})
			e.recordError()
			return
		}
		e.afterReset(symbol, old, price, "manual")
		return
	}

	ev, err := g.AutoReset(price)
	if err != nil {
		e.logger.LogError(err, map[string]any{"symbol": symbol, "stage": "reset"})
		e.recordError()
		return
	}
	if ev != nil {
		e.afterReset(symbol, ev.OldCenter, ev.NewCenter, "drift")
	}
}

func (e *Engine) afterReset(symbol string, oldCenter, newCenter float64, cause string) {
	e.logger.LogReset(symbol, oldCenter, newCenter)
	e.metrics.RecordGridReset(symbol)
	e.metrics.UpdateGridCenter(symbol, newCenter)
	if e.alerts != nil {
		e.alerts.SendInfo(fmt.Sprintf("网格重铺: %s 中心价 %.4f -> %.4f", symbol, oldCenter, newCenter),
			map[string]any{"cause": cause})
	}
}

// processSignal 单信号提交管线。预检不通过返回 false；
// 只要进入提交步骤就返回 true，计入本周期下单预算。
func (e *Engine) processSignal(ctx context.Context, symbol string, sig grid.Signal, price float64) bool {
	// 信号来自周期评估价，提交前行情流可能已推进缓存；
	// 门控与保护都用最新价判定，防止在已走动的市场上机械执行。
	if p, ok := e.prices.Price(symbol); ok {
		price = p
	}
	e.mu.RLock()
	sellTol, buyTol := e.cfg.SellLossTolerance, e.cfg.BuyPremiumTolerance
	e.mu.RUnlock()

	// 1. 风控闸门。拒绝是正常控制流，只记录不重试。
	if d := e.gate.CheckTradePermission(price * sig.Quantity); !d.Allowed {
		e.logger.LogRisk("trade_rejected", map[string]any{
			"symbol": symbol,
			"side":   string(sig.Side),
			"level":  sig.LevelIndex,
			"reason": d.Reason,
		})
		e.metrics.RecordRiskRejection("risk_gate")
		e.recordRejection()
		return false
	}

	// 2. 盈利保护。
	if reason, ok := protectionReason(sig, price, sellTol, buyTol); !ok {
		e.logger.LogRisk("protection_rejected", map[string]any{
			"symbol":      symbol,
			"side":        string(sig.Side),
			"level":       sig.LevelIndex,
			"level_price": sig.Price,
			"price":       price,
			"reason":      reason,
		})
		e.metrics.RecordRiskRejection(reason)
		e.recordRejection()
		return false
	}

	// 3. 交易所约束：数量向下对齐步长后再校验。
	f := e.filters[symbol]
	qty := f.RoundQty(sig.Quantity)
	if qty <= 0 {
		e.logger.LogRisk("filter_rejected", map[string]any{
			"symbol": symbol,
			"side":   string(sig.Side),
			"qty":    sig.Quantity,
			"reason": "qty rounds to zero",
		})
		e.metrics.RecordRiskRejection("exchange_filter")
		e.recordRejection()
		return false
	}
	if err := f.Validate(price, qty); err != nil {
		e.logger.LogRisk("filter_rejected", map[string]any{
			"symbol": symbol,
			"side":   string(sig.Side),
			"qty":    qty,
			"reason": err.Error(),
		})
		e.metrics.RecordRiskRejection("exchange_filter")
		e.recordRejection()
		return false
	}

	// 4. 余额预检。
	if !e.hasBalance(ctx, symbol, sig.Side, price, qty) {
		return false
	}

	// 5. 提交。
	e.logger.LogOrder("submitting", symbol, string(sig.Side), map[string]any{
		"qty":         qty,
		"level":       sig.LevelIndex,
		"level_price": sig.Price,
	})
	res, err := e.submitOrder(ctx, symbol, string(sig.Side), qty)
	if err != nil {
		e.onSubmitFailure(symbol, sig, err)
		return true
	}
	e.onFill(ctx, symbol, sig, res)
	return true
}

// protectionReason 盈利保护：现价显著低于卖出档位价（割肉）或显著
// 高于买入档位价（追高）时放弃该信号。
func protectionReason(sig grid.Signal, currentPrice, sellLossTol, buyPremiumTol float64) (string, bool) {
	switch sig.Side {
	case grid.SideSell:
		if currentPrice < sig.Price*(1-sellLossTol) {
			return "sell_below_level", false
		}
	case grid.SideBuy:
		if currentPrice > sig.Price*(1+buyPremiumTol) {
			return "buy_above_level", false
		}
	}
	return "", true
}

// currentPrice 优先读行情缓存，缺失或过期时回退 REST 询价并回写缓存。
func (e *Engine) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := e.prices.Price(symbol); ok && e.prices.Staleness(symbol) <= e.cfg.PriceStaleAfter {
		return p, nil
	}
	rctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()
	p, err := e.exchange.GetPrice(rctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("get price %s: %w", symbol, err)
	}
	if err := e.prices.Update(symbol, p, time.Time{}); err != nil {
		return 0, err
	}
	return p, nil
}

// hasBalance 提交前确认余额足够。查询失败时放行交给交易所判定，
// 避免余额接口抖动吞掉整个周期。
func (e *Engine) hasBalance(ctx context.Context, symbol string, side grid.Side, price, qty float64) bool {
	pair, ok := e.pairs[symbol]
	if !ok {
		return true
	}
	asset, need := pair.Quote, price*qty
	if side == grid.SideSell {
		asset, need = pair.Base, qty
	}

	bctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()
	bal, err := e.exchange.GetBalance(bctx, asset)
	if err != nil {
		e.logger.Warn("balance check failed, deferring to exchange",
			zap.String("symbol", symbol),
			zap.String("asset", asset),
			zap.Error(err))
		return true
	}
	if bal < need {
		e.logger.LogRisk("insufficient_balance", map[string]any{
			"symbol": symbol,
			"side":   string(side),
			"asset":  asset,
			"have":   bal,
			"need":   need,
		})
		e.metrics.RecordRiskRejection("insufficient_balance")
		e.recordRejection()
		return false
	}
	return true
}

// submitOrder 市价下单，瞬时失败按线性退避重试。提交用脱离取消
// 链路的上下文，引擎停止不会腰斩已发出的订单；每次尝试各自限时。
func (e *Engine) submitOrder(ctx context.Context, symbol, side string, qty float64) (*gateway.OrderResult, error) {
	policy := RetryPolicy{Attempts: e.cfg.MaxRetries, Backoff: e.cfg.RetryBackoff}
	base := context.WithoutCancel(ctx)

	var res *gateway.OrderResult
	err := policy.Do(ctx, func() error {
		sctx, cancel := context.WithTimeout(base, e.cfg.SubmitTimeout)
		defer cancel()
		r, err := e.exchange.PlaceMarketOrder(sctx, symbol, side, qty)
		if err != nil {
			// 明确拒单与余额不足不会因重试变好。
			if errors.Is(err, gateway.ErrOrderRejected) || errors.Is(err, gateway.ErrInsufficientBalance) {
				return Permanent(err)
			}
			return err
		}
		if r.Status != gateway.StatusFilled {
			return Permanent(fmt.Errorf("order status %s: %w", r.Status, gateway.ErrOrderRejected))
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// onSubmitFailure 记一次失败周期并推进连续失败计数，
// 达到上限触发紧急停止。
func (e *Engine) onSubmitFailure(symbol string, sig grid.Signal, err error) {
	e.logger.LogError(err, map[string]any{
		"symbol": symbol,
		"side":   string(sig.Side),
		"level":  sig.LevelIndex,
		"stage":  "submit",
	})
	e.metrics.RecordOrderFailure(symbol)
	e.recordError()

	e.mu.Lock()
	e.consecFailures++
	n := e.consecFailures
	e.mu.Unlock()
	e.metrics.UpdateConsecutiveFailures(n)

	if n >= e.cfg.ConsecutiveFailureLimit {
		e.gate.TriggerEmergencyStop(fmt.Sprintf("%d consecutive order failures", n))
	}
}

// onFill 成交后的反馈链：日志账、FIFO 账本、复利倍率、网格档位标记，
// 最后刷新指标。连续失败计数清零。
func (e *Engine) onFill(ctx context.Context, symbol string, sig grid.Signal, res *gateway.OrderResult) {
	e.mu.Lock()
	e.consecFailures = 0
	e.mu.Unlock()
	e.metrics.UpdateConsecutiveFailures(0)

	e.stats.mu.Lock()
	e.stats.orders++
	e.stats.mu.Unlock()

	qty, avg := res.ExecutedQty, res.AvgPrice
	if qty <= 0 || avg <= 0 {
		e.logger.LogError(fmt.Errorf("fill with qty %v price %v", qty, avg),
			map[string]any{"symbol": symbol, "order_id": res.OrderID, "stage": "book"})
		e.recordError()
		return
	}

	id := res.OrderID
	if id == "" {
		id = res.ClientID
	}
	now := time.Now().UTC()
	trade := ledger.Trade{
		ID:         id,
		Symbol:     symbol,
		Side:       ledger.Side(sig.Side),
		Quantity:   qty,
		Price:      avg,
		LevelIndex: sig.LevelIndex,
		ExecutedAt: now,
	}

	// 先落持久账，再进内存账。持久化失败不回滚成交——交易所侧
	// 已经成交，只能告警并接受重启后少一笔回放。
	if e.journal != nil {
		if err := e.journal.Append(context.WithoutCancel(ctx), journal.FromTrade(trade)); err != nil {
			e.logger.LogError(err, map[string]any{"symbol": symbol, "order_id": id, "stage": "journal"})
			e.recordError()
			if e.alerts != nil {
				e.alerts.SendError(fmt.Sprintf("成交落盘失败: %s %s", symbol, id), nil)
			}
		}
	}

	pnl, err := e.book.Apply(trade)
	if err != nil {
		e.logger.LogError(err, map[string]any{"symbol": symbol, "order_id": id, "stage": "book"})
		e.recordError()
		return
	}
	e.gate.UpdateDailyPnL(pnl)

	profit := e.book.SymbolProfit(symbol)
	if s := e.sizers[symbol]; s != nil {
		s.Update(profit)
		if err := e.grids[symbol].SetBaseOrderSize(s.OrderSize()); err != nil {
			e.logger.LogError(err, map[string]any{"symbol": symbol, "stage": "sizing"})
		}
		e.metrics.UpdateMultiplier(symbol, s.Multiplier())
	}

	if err := e.grids[symbol].RecordFill(grid.Fill{
		OrderID:    id,
		Symbol:     symbol,
		Side:       sig.Side,
		Price:      avg,
		Quantity:   qty,
		LevelIndex: sig.LevelIndex,
		FilledAt:   now,
	}); err != nil {
		e.logger.LogError(err, map[string]any{"symbol": symbol, "stage": "grid"})
		e.recordError()
	}

	e.stats.mu.Lock()
	e.stats.fills++
	e.stats.mu.Unlock()

	e.metrics.RecordOrderSubmitted(symbol, string(sig.Side))
	e.metrics.UpdateRealizedProfit(symbol, profit)
	e.metrics.UpdateDailyPnL(e.gate.GetStatus().DailyPnL)
	e.metrics.UpdateOpenLots(symbol, e.book.OpenLots(symbol))
	e.logger.LogFill(symbol, string(sig.Side), avg, qty, sig.LevelIndex)
}
