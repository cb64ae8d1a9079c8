package signal

import (
	"github.com/evdnx/goti"

	"github.com/evdnx/goguard/logger"
	"github.com/evdnx/goguard/types"
)

// Evaluator turns closed bars into a directional signal. Flat means no
// opinion.
type Evaluator interface {
	OnBar(b types.Bar) types.Direction
}

// MACross signals the side of a fast moving average relative to a slow one.
type MACross struct {
	fast, slow int
	method     SmoothingMethod
	source     PriceSource
	prices     []float64
}

func NewMACross(fast, slow int, method SmoothingMethod, source PriceSource) *MACross {
	if fast <= 0 {
		fast = 1
	}
	if slow <= fast {
		slow = fast + 1
	}
	return &MACross{fast: fast, slow: slow, method: method, source: source}
}

func (m *MACross) OnBar(b types.Bar) types.Direction {
	m.prices = append(m.prices, m.source.Price(b))
	// EMA and SMMA need history beyond the window to settle.
	if limit := m.slow * 4; len(m.prices) > limit {
		m.prices = m.prices[len(m.prices)-limit:]
	}
	fast, ok := m.method.Average(m.prices, m.fast)
	if !ok {
		return types.Flat
	}
	slow, ok := m.method.Average(m.prices, m.slow)
	if !ok {
		return types.Flat
	}
	switch {
	case fast > slow:
		return types.Long
	case fast < slow:
		return types.Short
	}
	return types.Flat
}

// SuiteEvaluator combines goti's RSI, MFI and VWAO crossovers. Each
// oscillator may be replaced by the price-buffer trend while it is still
// warming up.
type SuiteEvaluator struct {
	suite  *goti.IndicatorSuite
	prices *priceBuffer
	warmup int
	log    logger.Logger
}

// NewSuiteEvaluator builds a suite with the usual oscillator thresholds.
func NewSuiteEvaluator(log logger.Logger) (*SuiteEvaluator, error) {
	ic := goti.DefaultConfig()
	ic.RSIOverbought = 70
	ic.RSIOversold = 30
	ic.MFIOverbought = 80
	ic.MFIOversold = 20
	ic.VWAOStrongTrend = 70
	suite, err := goti.NewIndicatorSuiteWithConfig(ic)
	if err != nil {
		return nil, err
	}
	return &SuiteEvaluator{
		suite:  suite,
		prices: newPriceBuffer(64),
		warmup: 15,
		log:    log,
	}, nil
}

func (s *SuiteEvaluator) OnBar(b types.Bar) types.Direction {
	if err := s.suite.Add(b.High, b.Low, b.Close, b.Volume); err != nil {
		s.log.Warn("suite_add_error", logger.String("instrument", b.InstrumentID), logger.Err(err))
		return types.Flat
	}
	s.prices.Add(b.Close)
	if s.prices.Len() < s.warmup {
		return types.Flat
	}

	bull, bear := s.prices.bullish(), s.prices.bearish()
	rsiBull, rsiBear := bull, bear
	if ok, err := s.suite.GetRSI().IsBullishCrossover(); err == nil {
		rsiBull = rsiBull || ok
	}
	if ok, err := s.suite.GetRSI().IsBearishCrossover(); err == nil {
		rsiBear = rsiBear || ok
	}
	mfiBull, mfiBear := bull, bear
	if ok, err := s.suite.GetMFI().IsBullishCrossover(); err == nil {
		mfiBull = mfiBull || ok
	}
	if ok, err := s.suite.GetMFI().IsBearishCrossover(); err == nil {
		mfiBear = mfiBear || ok
	}
	vwaoBull, vwaoBear := bull, bear
	if ok, err := s.suite.GetVWAO().IsBullishCrossover(); err == nil {
		vwaoBull = vwaoBull || ok
	}
	if ok, err := s.suite.GetVWAO().IsBearishCrossover(); err == nil {
		vwaoBear = vwaoBear || ok
	}

	long := rsiBull && mfiBull && vwaoBull
	short := rsiBear && mfiBear && vwaoBear
	switch {
	case long && !short:
		return types.Long
	case short && !long:
		return types.Short
	}
	return types.Flat
}
