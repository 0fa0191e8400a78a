package gateway

import (
	"context"
	"errors"
)

// 订单状态常量，与交易所回报对齐。
const (
	StatusFilled   = "FILLED"
	StatusRejected = "REJECTED"
)

var (
	// ErrPriceUnavailable 行情暂不可得，按瞬时失败处理。
	ErrPriceUnavailable = errors.New("gateway: price unavailable")
	// ErrOrderRejected 交易所明确拒单。
	ErrOrderRejected = errors.New("gateway: order rejected")
	// ErrInsufficientBalance 余额不足以成交。
	ErrInsufficientBalance = errors.New("gateway: insufficient balance")
)

// Fill 单笔成交明细。
type Fill struct {
	Price    float64
	Quantity float64
}

// OrderResult 下单回报。市价单要么整体成交要么失败，没有挂单中间态。
type OrderResult struct {
	OrderID     string
	ClientID    string
	Symbol      string
	Side        string
	Status      string
	ExecutedQty float64
	AvgPrice    float64
	Fills       []Fill
}

// Exchange 核心对外的交易所能力：询价、市价下单、查余额。
// 所有调用都是带超时的同步请求，超时与其它失败同样对待。
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (*OrderResult, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
}
