package chain

import (
	"math/big"
)

// ToWei 將浮點數量轉為最小單位
func ToWei(amount float64, decimals int) *big.Int {
	f := new(big.Float).SetPrec(256).SetFloat64(amount)
	f.Mul(f, new(big.Float).SetPrec(256).SetInt(pow10(decimals)))
	out, _ := f.Int(nil)
	return out
}

// FromWei 將最小單位轉為浮點數
func FromWei(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetPrec(256).SetInt(raw)
	f.Quo(f, new(big.Float).SetPrec(256).SetInt(pow10(decimals)))
	out, _ := f.Float64()
	return out
}

// Percent 回傳 raw * pct / 100
func Percent(raw *big.Int, pct int) *big.Int {
	out := new(big.Int).Mul(raw, big.NewInt(int64(pct)))
	return out.Div(out, big.NewInt(100))
}

func pow10(n int) *big.Int {
	if n <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
