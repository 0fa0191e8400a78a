package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"grid-trader-go/market"
)

// AssetPair 交易对的基础/计价资产拆分。
type AssetPair struct {
	Base  string
	Quote string
}

// PaperExchange 纸面交易所：以价格缓存的最新价立即全量成交，
// 在内存里结算余额。用于干跑模式与端到端验证，不做撮合细节。
type PaperExchange struct {
	mu          sync.Mutex
	prices      *market.PriceCache
	pairs       map[string]AssetPair
	balances    map[string]float64
	slippageBps float64
	orderSeq    int64
}

// NewPaperExchange 创建纸面交易所。
// pairs 给出每个可交易符号的资产拆分，initial 为各资产初始余额。
func NewPaperExchange(prices *market.PriceCache, pairs map[string]AssetPair, initial map[string]float64, slippageBps float64) (*PaperExchange, error) {
	if prices == nil {
		return nil, fmt.Errorf("gateway: price cache required")
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("gateway: at least one asset pair required")
	}
	balances := make(map[string]float64, len(initial))
	for asset, amount := range initial {
		if amount < 0 {
			return nil, fmt.Errorf("gateway: negative initial balance for %s", asset)
		}
		balances[asset] = amount
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &PaperExchange{
		prices:      prices,
		pairs:       pairs,
		balances:    balances,
		slippageBps: slippageBps,
	}, nil
}

// GetPrice 读取缓存最新价。
func (p *PaperExchange) GetPrice(_ context.Context, symbol string) (float64, error) {
	price, ok := p.prices.Price(symbol)
	if !ok {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}

// PlaceMarketOrder 以最新价加滑点立即成交并结算余额。
func (p *PaperExchange) PlaceMarketOrder(_ context.Context, symbol, side string, quantity float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("gateway: quantity %v must be > 0", quantity)
	}
	pair, ok := p.pairs[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: unknown symbol %s", ErrOrderRejected, symbol)
	}
	price, ok := p.prices.Price(symbol)
	if !ok {
		return nil, ErrPriceUnavailable
	}

	slip := p.slippageBps / 10000.0
	switch side {
	case "BUY":
		price *= 1 + slip
	case "SELL":
		price *= 1 - slip
	default:
		return nil, fmt.Errorf("%w: unknown side %s", ErrOrderRejected, side)
	}
	notional := price * quantity

	p.mu.Lock()
	defer p.mu.Unlock()
	switch side {
	case "BUY":
		if p.balances[pair.Quote] < notional {
			return nil, fmt.Errorf("%w: %s %.8f < %.8f", ErrInsufficientBalance, pair.Quote, p.balances[pair.Quote], notional)
		}
		p.balances[pair.Quote] -= notional
		p.balances[pair.Base] += quantity
	case "SELL":
		if p.balances[pair.Base] < quantity {
			return nil, fmt.Errorf("%w: %s %.8f < %.8f", ErrInsufficientBalance, pair.Base, p.balances[pair.Base], quantity)
		}
		p.balances[pair.Base] -= quantity
		p.balances[pair.Quote] += notional
	}

	p.orderSeq++
	return &OrderResult{
		OrderID:     fmt.Sprintf("paper-%d", p.orderSeq),
		ClientID:    uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Status:      StatusFilled,
		ExecutedQty: quantity,
		AvgPrice:    price,
		Fills:       []Fill{{Price: price, Quantity: quantity}},
	}, nil
}

// GetBalance 读取内存余额。
func (p *PaperExchange) GetBalance(_ context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset], nil
}
