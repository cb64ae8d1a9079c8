// Package basket enforces loss and profit limits on the aggregate floating
// P&L of every open leg.
package basket

import (
	"math"

	"github.com/evdnx/goguard/config"
	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/ledger"
	"github.com/evdnx/goguard/types"
)

type Action int

const (
	None Action = iota
	Flatten
	Emergency
)

func (a Action) String() string {
	switch a {
	case Flatten:
		return "flatten"
	case Emergency:
		return "emergency"
	default:
		return "none"
	}
}

// Leg is one open position marked at its exit price (bid for long, ask for
// short).
type Leg struct {
	Position   ledger.Position
	Instrument instrument.Instrument
	Mark       float64
}

// FloatingPnL in account currency.
func (l Leg) FloatingPnL() float64 {
	if l.Position.IsFlat() || l.Mark <= 0 {
		return 0
	}
	diff := l.Position.Direction.Sign() * (l.Mark - l.Position.AvgPrice)
	return l.Instrument.Money(diff, l.Position.AbsVolume())
}

// Snapshot is recomputed every cycle. Peak and Trough track the aggregate
// since the basket was last flat.
type Snapshot struct {
	AggregateFloatingPnL float64
	Equity               float64
	Peak                 float64
	Trough               float64
	OpenLegs             int
}

// ScaleUp asks for Volume more exposure on a profitable leg.
type ScaleUp struct {
	InstrumentID string
	Direction    types.Direction
	Volume       float64
}

type Decision struct {
	Action   Action
	Reason   string
	ScaleUps []ScaleUp
	Snapshot Snapshot
}

// Guard keeps peak/trough and the emergency latch between cycles.
type Guard struct {
	cfg config.Basket

	active        bool
	peak, trough  float64
	emergencyUsed bool
}

func NewGuard(cfg config.Basket) *Guard {
	return &Guard{cfg: cfg}
}

// Evaluate classifies the basket. Flatten wins over the emergency
// response.
func (g *Guard) Evaluate(legs []Leg, equity float64) Decision {
	var agg float64
	open := 0
	for _, l := range legs {
		if l.Position.IsFlat() {
			continue
		}
		open++
		agg += l.FloatingPnL()
	}

	if open == 0 {
		g.active = false
		g.peak, g.trough = 0, 0
		g.emergencyUsed = false
		return Decision{Snapshot: Snapshot{Equity: equity}}
	}
	if !g.active {
		g.active = true
		g.peak, g.trough = agg, agg
	}
	g.peak = math.Max(g.peak, agg)
	g.trough = math.Min(g.trough, agg)

	d := Decision{Snapshot: Snapshot{
		AggregateFloatingPnL: agg,
		Equity:               equity,
		Peak:                 g.peak,
		Trough:               g.trough,
		OpenLegs:             open,
	}}

	switch {
	case g.cfg.UseLossLimit && g.cfg.LossLimit > 0 && agg <= -g.cfg.LossLimit:
		d.Action, d.Reason = Flatten, "loss_limit"
		return d
	case g.cfg.UseProfitTarget && g.cfg.ProfitTarget > 0 && agg >= g.cfg.ProfitTarget:
		d.Action, d.Reason = Flatten, "profit_target"
		return d
	}

	if g.cfg.Emergency && !g.emergencyUsed && g.cfg.EmergencyThreshold > 0 && agg <= -g.cfg.EmergencyThreshold {
		for _, l := range legs {
			if l.Position.IsFlat() || l.FloatingPnL() <= 0 {
				continue
			}
			vol := l.Instrument.NormalizeVolume(l.Position.AbsVolume())
			if vol <= 0 {
				continue
			}
			d.ScaleUps = append(d.ScaleUps, ScaleUp{
				InstrumentID: l.Position.InstrumentID,
				Direction:    l.Position.Direction,
				Volume:       vol,
			})
		}
		if len(d.ScaleUps) > 0 {
			g.emergencyUsed = true
			d.Action, d.Reason = Emergency, "emergency_threshold"
		}
	}
	return d
}

// EmergencyUsed reports whether the one-shot response fired since the
// basket was last flat.
func (g *Guard) EmergencyUsed() bool { return g.emergencyUsed }
