// Package metrics 提供网格交易的 Prometheus 指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 持有私有 registry 的指标收集器。
type Collector struct {
	registry *prometheus.Registry

	// 订单指标
	ordersSubmitted *prometheus.CounterVec
	orderFailures   *prometheus.CounterVec

	// 网格指标
	gridResets   *prometheus.CounterVec
	gridCenter   *prometheus.GaugeVec
	openLots     *prometheus.GaugeVec
	currentPrice *prometheus.GaugeVec

	// 收益指标
	realizedProfit  *prometheus.GaugeVec
	orderMultiplier *prometheus.GaugeVec
	dailyPnL        prometheus.Gauge

	// 风控指标
	riskRejections *prometheus.CounterVec
	riskMode       prometheus.Gauge

	// 系统指标
	cyclesTotal    prometheus.Counter
	cycleDuration  prometheus.Histogram
	signalsTotal   *prometheus.CounterVec
	consecFailures prometheus.Gauge
	wsReconnects   prometheus.Counter
}

// Config 指标配置。
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Namespace: "grid",
		Subsystem: "trader",
	}
}

// New 创建 Collector。registry 为私有实例,互不干扰,测试可并行。
func New(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		ordersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_submitted_total",
			Help:      "提交成功的市价单总数",
		}, []string{"symbol", "side"}),
		orderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "order_failures_total",
			Help:      "重试耗尽后仍失败的订单总数",
		}, []string{"symbol"}),

		gridResets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "grid_resets_total",
			Help:      "网格重铺次数",
		}, []string{"symbol"}),
		gridCenter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "grid_center_price",
			Help:      "当前网格中心价",
		}, []string{"symbol"}),
		openLots: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "open_lots",
			Help:      "未配对的买入批次数",
		}, []string{"symbol"}),
		currentPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "current_price",
			Help:      "最新成交价",
		}, []string{"symbol"}),

		realizedProfit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "realized_profit",
			Help:      "按符号累计的已配对盈利",
		}, []string{"symbol"}),
		orderMultiplier: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "order_multiplier",
			Help:      "复利仓位乘数",
		}, []string{"symbol"}),
		dailyPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "daily_pnl",
			Help:      "当日已实现盈亏(UTC 日切)",
		}),

		riskRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "risk_rejections_total",
			Help:      "被风控拒绝的交易请求总数",
		}, []string{"reason"}),
		riskMode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "risk_mode",
			Help:      "风控模式(0=NORMAL, 1=EMERGENCY_STOP)",
		}),

		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycles_total",
			Help:      "完成的评估周期总数",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "单个评估周期耗时分布(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		signalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "signals_total",
			Help:      "触发的网格信号总数",
		}, []string{"symbol"}),
		consecFailures: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "consecutive_failures",
			Help:      "当前连续下单失败计数",
		}),
		wsReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_reconnects_total",
			Help:      "行情流断线重连次数",
		}),
	}
}

// RecordOrderSubmitted 记录一笔提交成功的订单。
func (c *Collector) RecordOrderSubmitted(symbol, side string) {
	c.ordersSubmitted.WithLabelValues(symbol, side).Inc()
}

// RecordOrderFailure 记录一笔最终失败的订单。
func (c *Collector) RecordOrderFailure(symbol string) {
	c.orderFailures.WithLabelValues(symbol).Inc()
}

// RecordGridReset 记录一次网格重铺。
func (c *Collector) RecordGridReset(symbol string) {
	c.gridResets.WithLabelValues(symbol).Inc()
}

// UpdateGridCenter 更新网格中心价。
func (c *Collector) UpdateGridCenter(symbol string, center float64) {
	c.gridCenter.WithLabelValues(symbol).Set(center)
}

// UpdateOpenLots 更新未配对批次数。
func (c *Collector) UpdateOpenLots(symbol string, lots int) {
	c.openLots.WithLabelValues(symbol).Set(float64(lots))
}

// UpdatePrice 更新最新价。
func (c *Collector) UpdatePrice(symbol string, price float64) {
	c.currentPrice.WithLabelValues(symbol).Set(price)
}

// UpdateRealizedProfit 更新累计盈利。
func (c *Collector) UpdateRealizedProfit(symbol string, profit float64) {
	c.realizedProfit.WithLabelValues(symbol).Set(profit)
}

// UpdateMultiplier 更新仓位乘数。
func (c *Collector) UpdateMultiplier(symbol string, multiplier float64) {
	c.orderMultiplier.WithLabelValues(symbol).Set(multiplier)
}

// UpdateDailyPnL 更新当日盈亏。
func (c *Collector) UpdateDailyPnL(pnl float64) {
	c.dailyPnL.Set(pnl)
}

// RecordRiskRejection 记录一次风控拒绝。
func (c *Collector) RecordRiskRejection(reason string) {
	c.riskRejections.WithLabelValues(reason).Inc()
}

// UpdateRiskMode 更新风控模式。
func (c *Collector) UpdateRiskMode(mode int) {
	c.riskMode.Set(float64(mode))
}

// RecordCycle 记录一个完成的评估周期及其耗时。
func (c *Collector) RecordCycle(d time.Duration) {
	c.cyclesTotal.Inc()
	c.cycleDuration.Observe(d.Seconds())
}

// RecordSignals 记录一次评估触发的信号数。
func (c *Collector) RecordSignals(symbol string, n int) {
	if n > 0 {
		c.signalsTotal.WithLabelValues(symbol).Add(float64(n))
	}
}

// UpdateConsecutiveFailures 更新连续失败计数。
func (c *Collector) UpdateConsecutiveFailures(n int) {
	c.consecFailures.Set(float64(n))
}

// RecordWSReconnect 记录一次行情流重连。
func (c *Collector) RecordWSReconnect() {
	c.wsReconnects.Inc()
}

// Handler 返回暴露指标的 HTTP handler。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
