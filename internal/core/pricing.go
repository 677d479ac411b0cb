package core

import "math"

const (
	basePagePrice   = 0.10
	colorMultiplier = 2.0
	duplexDiscount  = 0.8
)

// PriceJob returns the cost of a print, rounded to cents.
func PriceJob(pages, copies int, color, duplex bool) float64 {
	cost := basePagePrice * float64(pages) * float64(copies)
	if color {
		cost *= colorMultiplier
	}
	if duplex {
		cost *= duplexDiscount
	}
	return math.Round(cost*100) / 100
}
