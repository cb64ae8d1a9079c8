// Package protect arms and trails the stop-loss, take-profit and
// break-even levels of a single leg.
package protect

import (
	"math"

	"github.com/evdnx/goguard/config"
	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/types"
)

// Outcome of one evaluation.
type Outcome int

const (
	None Outcome = iota
	StopHit
	TakeProfitHit
	TrailingUpdated
)

func (o Outcome) String() string {
	switch o {
	case StopHit:
		return "stop_hit"
	case TakeProfitHit:
		return "take_profit_hit"
	case TrailingUpdated:
		return "trailing_updated"
	default:
		return "none"
	}
}

// Exit reports whether the outcome closes the leg.
func (o Outcome) Exit() bool { return o == StopHit || o == TakeProfitHit }

// Levels are owned by one leg; 0 means "not set".
type Levels struct {
	Stop           float64
	TakeProfit     float64
	TrailingAnchor float64 // best favourable price seen since the trail armed
	BreakEvenArmed bool
}

// priceEpsilon tolerates float residue when comparing against the
// minimum trailing step.
const priceEpsilon = 1e-9

// Engine holds the protective state of one leg.
type Engine struct {
	inst instrument.Instrument

	stopDist, takeDist   float64
	trailDist, trailStep float64
	beTrigger, beBuffer  float64

	dir    types.Direction
	entry  float64
	levels Levels
}

// NewEngine converts the pip distances of cfg into price distances for inst.
func NewEngine(cfg config.Protection, inst instrument.Instrument) *Engine {
	return &Engine{
		inst:      inst,
		stopDist:  inst.Pips(cfg.StopLossPips),
		takeDist:  inst.Pips(cfg.TakeProfitPips),
		trailDist: inst.Pips(cfg.TrailingStopPips),
		trailStep: inst.Pips(cfg.TrailingStepPips),
		beTrigger: inst.Pips(cfg.BreakEvenTriggerPips),
		beBuffer:  inst.Pips(cfg.BreakEvenBufferPips),
	}
}

// Arm sets the initial levels around entry. Calling it again (after an
// average-price change) recomputes everything from scratch.
func (e *Engine) Arm(dir types.Direction, entry float64) {
	e.dir = dir
	e.entry = entry
	e.levels = Levels{}
	if dir == types.Flat {
		return
	}
	s := dir.Sign()
	if e.stopDist > 0 {
		e.levels.Stop = e.round(entry - s*e.stopDist)
	}
	if e.takeDist > 0 {
		e.levels.TakeProfit = e.round(entry + s*e.takeDist)
	}
}

// Reset drops the levels; the leg is flat.
func (e *Engine) Reset() {
	e.dir = types.Flat
	e.entry = 0
	e.levels = Levels{}
}

func (e *Engine) Levels() Levels { return e.levels }

func (e *Engine) Direction() types.Direction { return e.dir }

func (e *Engine) Entry() float64 { return e.entry }

// OnPriceUpdate evaluates exits then break-even and trailing. Longs are
// marked on bid, shorts on ask.
func (e *Engine) OnPriceUpdate(bid, ask float64) Outcome {
	switch e.dir {
	case types.Long:
		return e.evaluate(bid, bid, bid)
	case types.Short:
		return e.evaluate(ask, ask, ask)
	default:
		return None
	}
}

// OnBar evaluates a closed bar's extremes. The favourable extreme drives
// trailing after the exit check.
func (e *Engine) OnBar(high, low float64) Outcome {
	switch e.dir {
	case types.Long:
		return e.evaluate(low, high, high)
	case types.Short:
		return e.evaluate(low, high, low)
	default:
		return None
	}
}

func (e *Engine) evaluate(low, high, mark float64) Outcome {
	if out := e.checkExit(low, high); out != None {
		return out
	}
	updated := e.applyBreakEven(mark)
	if e.applyTrailing(mark) {
		updated = true
	}
	if updated {
		return TrailingUpdated
	}
	return None
}

// checkExit resolves the crossed level. When both are crossed inside one
// evaluation the level closer to entry is assumed to have filled first.
func (e *Engine) checkExit(low, high float64) Outcome {
	var stopHit, takeHit bool
	l := e.levels
	if e.dir == types.Long {
		stopHit = l.Stop > 0 && low <= l.Stop
		takeHit = l.TakeProfit > 0 && high >= l.TakeProfit
	} else {
		stopHit = l.Stop > 0 && high >= l.Stop
		takeHit = l.TakeProfit > 0 && low <= l.TakeProfit
	}
	switch {
	case stopHit && takeHit:
		if math.Abs(l.TakeProfit-e.entry) < math.Abs(l.Stop-e.entry) {
			return TakeProfitHit
		}
		return StopHit
	case stopHit:
		return StopHit
	case takeHit:
		return TakeProfitHit
	}
	return None
}

func (e *Engine) profit(mark float64) float64 {
	return e.dir.Sign() * (mark - e.entry)
}

// improves reports whether candidate tightens the stop by at least minMove.
func (e *Engine) improves(candidate, minMove float64) bool {
	if e.levels.Stop == 0 {
		return true
	}
	delta := e.dir.Sign() * (candidate - e.levels.Stop)
	return delta > 0 && delta >= minMove-priceEpsilon
}

func (e *Engine) applyBreakEven(mark float64) bool {
	if e.beTrigger <= 0 || e.levels.BreakEvenArmed {
		return false
	}
	if e.profit(mark) < e.beTrigger-priceEpsilon {
		return false
	}
	e.levels.BreakEvenArmed = true
	candidate := e.round(e.entry + e.dir.Sign()*e.beBuffer)
	if !e.improves(candidate, 0) {
		return false
	}
	e.levels.Stop = candidate
	return true
}

func (e *Engine) applyTrailing(mark float64) bool {
	if e.trailDist <= 0 {
		return false
	}
	if e.profit(mark) < e.trailDist+e.trailStep-priceEpsilon {
		return false
	}
	if e.levels.TrailingAnchor == 0 || e.dir.Sign()*(mark-e.levels.TrailingAnchor) > 0 {
		e.levels.TrailingAnchor = mark
	}
	candidate := e.round(mark - e.dir.Sign()*e.trailDist)
	if !e.improves(candidate, e.trailStep) {
		return false
	}
	e.levels.Stop = candidate
	return true
}

func (e *Engine) round(p float64) float64 {
	return e.inst.RoundPrice(p)
}
