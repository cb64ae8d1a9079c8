// Package signal turns bars into the discrete Long/Short/Flat signal the
// core consumes. Indicator maths lives in goti; the evaluators here only
// combine it.
package signal

import "github.com/evdnx/goguard/types"

// PriceSource selects the bar price an evaluator reads.
type PriceSource int

const (
	Close PriceSource = iota
	Open
	High
	Low
	Median   // (high+low)/2
	Typical  // (high+low+close)/3
	Weighted // (high+low+2*close)/4
)

var sources = map[PriceSource]func(types.Bar) float64{
	Close:    func(b types.Bar) float64 { return b.Close },
	Open:     func(b types.Bar) float64 { return b.Open },
	High:     func(b types.Bar) float64 { return b.High },
	Low:      func(b types.Bar) float64 { return b.Low },
	Median:   func(b types.Bar) float64 { return (b.High + b.Low) / 2 },
	Typical:  func(b types.Bar) float64 { return (b.High + b.Low + b.Close) / 3 },
	Weighted: func(b types.Bar) float64 { return (b.High + b.Low + 2*b.Close) / 4 },
}

// Price reads the selected price from b. Unknown sources read the close.
func (s PriceSource) Price(b types.Bar) float64 {
	if f, ok := sources[s]; ok {
		return f(b)
	}
	return b.Close
}

// ParsePriceSource maps a config name to a PriceSource.
func ParsePriceSource(name string) (PriceSource, bool) {
	switch name {
	case "", "close":
		return Close, true
	case "open":
		return Open, true
	case "high":
		return High, true
	case "low":
		return Low, true
	case "median":
		return Median, true
	case "typical":
		return Typical, true
	case "weighted":
		return Weighted, true
	}
	return Close, false
}
