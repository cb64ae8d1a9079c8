package signal

// priceBuffer keeps a rolling window of recent prices and exposes the
// trend and slope checks the suite evaluator falls back on while the
// indicators warm up.
type priceBuffer struct {
	max int
	buf []float64
}

func newPriceBuffer(max int) *priceBuffer {
	if max <= 0 {
		max = 16
	}
	return &priceBuffer{max: max}
}

func (p *priceBuffer) Add(v float64) {
	p.buf = append(p.buf, v)
	if len(p.buf) > p.max {
		p.buf = p.buf[len(p.buf)-p.max:]
	}
}

func (p *priceBuffer) Len() int { return len(p.buf) }

// lookbackStart returns the first index of the trailing window of n steps.
func (p *priceBuffer) lookbackStart(n int) int {
	if n >= len(p.buf) {
		n = len(p.buf) - 1
	}
	start := len(p.buf) - n - 1
	if start < 0 {
		start = 0
	}
	return start
}

// Trend scores the last six steps: +1 when rises outnumber falls by a
// third of the window, -1 for the mirror case, 0 otherwise.
func (p *priceBuffer) Trend() int {
	if len(p.buf) < 2 {
		return 0
	}
	start := p.lookbackStart(6)
	steps := len(p.buf) - 1 - start
	score := 0
	for i := start + 1; i < len(p.buf); i++ {
		switch {
		case p.buf[i] > p.buf[i-1]:
			score++
		case p.buf[i] < p.buf[i-1]:
			score--
		}
	}
	threshold := steps / 3
	if threshold < 2 {
		threshold = 2
	}
	switch {
	case score >= threshold:
		return 1
	case score <= -threshold:
		return -1
	}
	return 0
}

// Slope is the least-squares slope over the last eight steps.
func (p *priceBuffer) Slope() float64 {
	n := len(p.buf)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	count := 0.0
	for i := p.lookbackStart(8); i < n; i++ {
		x, y := count, p.buf[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
		count++
	}
	den := count*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (count*sumXY - sumX*sumY) / den
}

func (p *priceBuffer) bullish() bool { return p.Len() >= 3 && p.Trend() > 0 && p.Slope() > 0 }

func (p *priceBuffer) bearish() bool { return p.Len() >= 3 && p.Trend() < 0 && p.Slope() < 0 }
