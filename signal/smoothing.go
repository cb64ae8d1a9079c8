package signal

import "github.com/markcheno/go-talib"

// SmoothingMethod selects the moving average used by MACross.
type SmoothingMethod int

const (
	Simple SmoothingMethod = iota
	Exponential
	Smoothed
	LinearWeighted
)

// averager returns the average of the last period values, or false when
// there is not enough history.
type averager func(values []float64, period int) (float64, bool)

var smoothing = map[SmoothingMethod]averager{
	Simple:         sma,
	Exponential:    ema,
	Smoothed:       smma,
	LinearWeighted: lwma,
}

// Average applies the method to values. Unknown methods fall back to a
// simple average.
func (m SmoothingMethod) Average(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	if f, ok := smoothing[m]; ok {
		return f(values, period)
	}
	return sma(values, period)
}

func ParseSmoothingMethod(name string) (SmoothingMethod, bool) {
	switch name {
	case "", "sma", "simple":
		return Simple, true
	case "ema", "exponential":
		return Exponential, true
	case "smma", "smoothed":
		return Smoothed, true
	case "lwma", "linear_weighted":
		return LinearWeighted, true
	}
	return Simple, false
}

func sma(values []float64, period int) (float64, bool) {
	return last(talib.Sma(values, period))
}

// ema is seeded with the SMA of the first period values.
func ema(values []float64, period int) (float64, bool) {
	return last(talib.Ema(values, period))
}

// smma is Wilder's smoothing (alpha = 1/period), the EMA of period 2n-1.
func smma(values []float64, period int) (float64, bool) {
	n := 2*period - 1
	if len(values) < n {
		return 0, false
	}
	return last(talib.Ema(values, n))
}

func lwma(values []float64, period int) (float64, bool) {
	return last(talib.Wma(values, period))
}

func last(out []float64) (float64, bool) {
	if len(out) == 0 {
		return 0, false
	}
	return out[len(out)-1], true
}
