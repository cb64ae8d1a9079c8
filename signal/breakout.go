package signal

import (
	"github.com/evdnx/goti"

	"github.com/evdnx/goguard/logger"
	"github.com/evdnx/goguard/types"
)

// BreakoutEvaluator signals momentum bursts: HMA, VWAO and ATSO must all
// cross the same way on one bar.
type BreakoutEvaluator struct {
	suite  *goti.IndicatorSuite
	prices *priceBuffer
	warmup int
	log    logger.Logger
}

func NewBreakoutEvaluator(log logger.Logger) (*BreakoutEvaluator, error) {
	suite, err := goti.NewIndicatorSuiteWithConfig(goti.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &BreakoutEvaluator{
		suite:  suite,
		prices: newPriceBuffer(64),
		warmup: 15,
		log:    log,
	}, nil
}

func (s *BreakoutEvaluator) OnBar(b types.Bar) types.Direction {
	if err := s.suite.Add(b.High, b.Low, b.Close, b.Volume); err != nil {
		s.log.Warn("suite_add_error", logger.String("instrument", b.InstrumentID), logger.Err(err))
		return types.Flat
	}
	s.prices.Add(b.Close)
	if s.prices.Len() < s.warmup {
		return types.Flat
	}

	bull, bear := s.prices.bullish(), s.prices.bearish()
	hmaBull, hmaBear := bull, bear
	if ok, err := s.suite.GetHMA().IsBullishCrossover(); err == nil {
		hmaBull = hmaBull || ok
	}
	if ok, err := s.suite.GetHMA().IsBearishCrossover(); err == nil {
		hmaBear = hmaBear || ok
	}
	vwaoBull, vwaoBear := bull, bear
	if ok, err := s.suite.GetVWAO().IsBullishCrossover(); err == nil {
		vwaoBull = vwaoBull || ok
	}
	if ok, err := s.suite.GetVWAO().IsBearishCrossover(); err == nil {
		vwaoBear = vwaoBear || ok
	}
	atsBull := bull || s.suite.GetATSO().IsBullishCrossover()
	atsBear := bear || s.suite.GetATSO().IsBearishCrossover()

	long := hmaBull && vwaoBull && atsBull
	short := hmaBear && vwaoBear && atsBear
	switch {
	case long && !short:
		return types.Long
	case short && !long:
		return types.Short
	}
	return types.Flat
}
