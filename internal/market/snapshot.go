package market

import (
	"math"
	"time"
)

const (
	MinPrice = 0.001
	MaxPrice = 0.999
)

// Snapshot is one observation of a two-outcome market. Outcome prices are
// probabilities in [0,1] and need not sum to 1.
type Snapshot struct {
	ID            string
	Question      string
	OutcomePrices [2]float64 // [YES, NO]
	Volume        float64
	Liquidity     float64
	Active        bool
	Platform      string
	ObservedAt    time.Time
}

func (s Snapshot) YesPrice() float64 { return s.OutcomePrices[0] }
func (s Snapshot) NoPrice() float64  { return s.OutcomePrices[1] }

// ClampPrice bounds a price to the open interval (0,1) so it is safe to use as
// a divisor. NaN clamps to MinPrice.
func ClampPrice(p float64) float64 {
	if math.IsNaN(p) || p < MinPrice {
		return MinPrice
	}
	if p > MaxPrice {
		return MaxPrice
	}
	return p
}
