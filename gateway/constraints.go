package gateway

import (
	"fmt"
	"math"
)

// SymbolFilters 交易对的数量精度与名义限制，取自 exchangeInfo 的配置快照。
// 市价单不携带价格，故不含 tickSize。
type SymbolFilters struct {
	StepSize    float64
	MinQty      float64
	MaxQty      float64
	MinNotional float64
}

// RoundQty 把数量向下取整到 stepSize 的整数倍。
func (f SymbolFilters) RoundQty(qty float64) float64 {
	if f.StepSize <= 0 {
		return qty
	}
	steps := math.Floor(qty/f.StepSize + 1e-9)
	if steps < 0 {
		steps = 0
	}
	return steps * f.StepSize
}

// Validate 检查数量精度与最小数量/名义；price 用于估算名义金额。
func (f SymbolFilters) Validate(price, qty float64) error {
	if f.StepSize > 0 && !isMultiple(qty, f.StepSize) {
		return fmt.Errorf("qty %.8f not aligned to stepSize %.8f", qty, f.StepSize)
	}
	if f.MinQty > 0 && qty < f.MinQty {
		return fmt.Errorf("qty %.8f < minQty %.8f", qty, f.MinQty)
	}
	if f.MaxQty > 0 && qty > f.MaxQty {
		return fmt.Errorf("qty %.8f > maxQty %.8f", qty, f.MaxQty)
	}
	if f.MinNotional > 0 && price*qty < f.MinNotional {
		return fmt.Errorf("notional %.8f < minNotional %.8f", price*qty, f.MinNotional)
	}
	return nil
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
