package position

import "math/big"

// proRataCost returns floor(costBasis * sold / totalShares) using int128
// intermediates so large chain-unit quantities cannot overflow int64.
func proRataCost(costBasis, sold, totalShares int64) int64 {
	num := new(big.Int).Mul(big.NewInt(costBasis), big.NewInt(sold))
	num.Quo(num, big.NewInt(totalShares))
	return num.Int64()
}

// scaledRatio returns floor(a * scale / b).
func scaledRatio(a, scale, b int64) int64 {
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(scale))
	num.Quo(num, big.NewInt(b))
	return num.Int64()
}
