// Package grid decides whether a leg may add exposure (grid averaging)
// and how large the next entry is (fixed or martingale sizing).
package grid

import (
	"math"

	"github.com/evdnx/goguard/config"
	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/types"
)

// GridState is kept per direction. Entry fields are cleared when the leg
// goes flat; LossStreak mirrors the planner-wide streak.
type GridState struct {
	FirstEntryPrice float64
	LastEntryPrice  float64
	EntryCount      int
	MissedCount     int
	LossStreak      int
}

// Reason explains a decision.
type Reason string

const (
	ReasonFirstEntry Reason = "first_entry"
	ReasonAccepted   Reason = "accepted"
	ReasonFlatSignal Reason = "flat_signal"
	ReasonDisabled   Reason = "grid_disabled"
	ReasonMaxEntries Reason = "max_entries"
	ReasonTooClose   Reason = "min_step"
	ReasonNotAdverse Reason = "not_adverse"
	ReasonSkipBand   Reason = "skip_band"
	ReasonZeroVolume Reason = "zero_volume"
	ReasonBeyondGrid Reason = "beyond_grid"
)

// AddEntryDecision is the result of Evaluate.
type AddEntryDecision struct {
	Accept         bool
	Volume         float64
	Reason         Reason
	EntryIndex     int // 1-based index of the accepted entry
	RequiredMisses int
	Missed         int
}

// SizingFunc maps the base volume and current loss streak to the next
// entry volume before venue normalisation.
type SizingFunc func(base float64, lossStreak int) float64

// FixedSizing always returns base.
func FixedSizing(base float64, _ int) float64 { return base }

// MultiplierSizing scales base by multiplier^(streak-minStreak+1) once the
// streak reaches minStreak.
func MultiplierSizing(multiplier float64, minStreak int) SizingFunc {
	return func(base float64, streak int) float64 {
		if streak < minStreak || multiplier <= 1 {
			return base
		}
		return base * math.Pow(multiplier, float64(streak-minStreak+1))
	}
}

// Planner is single-writer; one per instrument.
type Planner struct {
	inst    instrument.Instrument
	enabled bool

	maxEntries     int
	minStep        float64
	skip3Min       float64
	skip3Max       float64
	skip6Max       float64
	requireAdverse bool

	baseVolume float64
	sizing     SizingFunc
	capVolume  float64 // 0 = venue maximum only

	states     map[types.Direction]*GridState
	lossStreak int
}

// NewPlanner builds a planner from the grid, martingale and sizing sections.
func NewPlanner(g config.Grid, m config.Martingale, s config.Sizing, inst instrument.Instrument) *Planner {
	p := &Planner{
		inst:           inst,
		enabled:        g.Enabled,
		maxEntries:     g.MaxEntries,
		minStep:        inst.Pips(g.MinStepPips),
		skip3Min:       inst.Pips(g.Skip3MinPips),
		skip3Max:       inst.Pips(g.Skip3MaxPips),
		skip6Max:       inst.Pips(g.Skip6MaxPips),
		requireAdverse: g.RequireAdverse,
		baseVolume:     s.BaseVolume,
		sizing:         FixedSizing,
		states: map[types.Direction]*GridState{
			types.Long:  {},
			types.Short: {},
		},
	}
	if m.Enabled {
		p.sizing = MultiplierSizing(m.Multiplier, m.MinLossStreak)
		p.capVolume = m.MaxVolume
	}
	if p.maxEntries <= 0 {
		p.maxEntries = 1
	}
	return p
}

// WithSizing replaces the sizing function.
func (p *Planner) WithSizing(f SizingFunc) *Planner {
	if f != nil {
		p.sizing = f
	}
	return p
}

// Evaluate runs the add-entry waterfall for a signal at candidatePrice.
// An accepted decision updates the direction's GridState.
func (p *Planner) Evaluate(candidatePrice float64, signal types.Direction) AddEntryDecision {
	st, ok := p.states[signal]
	if !ok {
		return AddEntryDecision{Reason: ReasonFlatSignal}
	}

	if st.EntryCount == 0 {
		vol := p.NextVolume()
		if vol <= 0 {
			return AddEntryDecision{Reason: ReasonZeroVolume}
		}
		st.FirstEntryPrice = candidatePrice
		st.LastEntryPrice = candidatePrice
		st.EntryCount = 1
		st.MissedCount = 0
		return AddEntryDecision{Accept: true, Volume: vol, Reason: ReasonFirstEntry, EntryIndex: 1}
	}

	if !p.enabled {
		return AddEntryDecision{Reason: ReasonDisabled}
	}
	if st.EntryCount >= p.maxEntries {
		return AddEntryDecision{Reason: ReasonMaxEntries}
	}
	if math.Abs(candidatePrice-st.LastEntryPrice) < p.minStep {
		return AddEntryDecision{Reason: ReasonTooClose}
	}
	if p.requireAdverse && signal.Sign()*(candidatePrice-st.LastEntryPrice) >= 0 {
		return AddEntryDecision{Reason: ReasonNotAdverse}
	}

	required := p.requiredMisses(math.Abs(candidatePrice - st.FirstEntryPrice))
	if required < 0 {
		return AddEntryDecision{Reason: ReasonBeyondGrid}
	}
	if st.MissedCount < required {
		st.MissedCount++
		return AddEntryDecision{Reason: ReasonSkipBand, RequiredMisses: required, Missed: st.MissedCount}
	}

	vol := p.NextVolume()
	if vol <= 0 {
		return AddEntryDecision{Reason: ReasonZeroVolume}
	}
	missed := st.MissedCount
	st.LastEntryPrice = candidatePrice
	st.EntryCount++
	st.MissedCount = 0
	return AddEntryDecision{
		Accept:         true,
		Volume:         vol,
		Reason:         ReasonAccepted,
		EntryIndex:     st.EntryCount,
		RequiredMisses: required,
		Missed:         missed,
	}
}

// requiredMisses classifies the distance from the first entry into the
// skip bands. An add is allowed on the occurrence after `required`
// consecutive misses; -1 means the price left the grid (skip6Max of 0
// leaves the outer band open).
func (p *Planner) requiredMisses(d float64) int {
	switch {
	case d < p.skip3Min:
		return 0
	case d <= p.skip3Max:
		return 3
	case p.skip6Max == 0 || d <= p.skip6Max:
		return 6
	default:
		return -1
	}
}

// NextVolume is the normalised volume of the next entry.
func (p *Planner) NextVolume() float64 {
	v := p.sizing(p.baseVolume, p.lossStreak)
	if p.capVolume > 0 && v > p.capVolume {
		v = p.capVolume
	}
	return p.inst.NormalizeVolume(v)
}

// BaseVolume is the normalised unscaled lot.
func (p *Planner) BaseVolume() float64 { return p.inst.NormalizeVolume(p.baseVolume) }

// OnLegClosed classifies the leg's realized P&L and clears the direction's
// grid. Zero P&L leaves the loss streak unchanged.
func (p *Planner) OnLegClosed(dir types.Direction, pnl float64) {
	switch {
	case pnl > 0:
		p.lossStreak = 0
	case pnl < 0:
		p.lossStreak++
	}
	if st, ok := p.states[dir]; ok {
		*st = GridState{}
	}
}

// Reset clears every direction's grid; the loss streak is kept.
func (p *Planner) Reset() {
	for _, st := range p.states {
		*st = GridState{}
	}
}

// State returns a copy of the direction's grid state.
func (p *Planner) State(dir types.Direction) GridState {
	st, ok := p.states[dir]
	if !ok {
		return GridState{LossStreak: p.lossStreak}
	}
	out := *st
	out.LossStreak = p.lossStreak
	return out
}

func (p *Planner) LossStreak() int { return p.lossStreak }

// Undo puts the entry fields of dir back to prev, taken before an accepted
// Evaluate whose order never reached the venue. The loss streak is kept.
func (p *Planner) Undo(dir types.Direction, prev GridState) {
	if cur, ok := p.states[dir]; ok {
		prev.LossStreak = p.lossStreak
		*cur = prev
	}
}

// Restore seeds the grid state of dir, e.g. after a restart rebuilt the
// position from fills.
func (p *Planner) Restore(dir types.Direction, st GridState) {
	if cur, ok := p.states[dir]; ok {
		*cur = st
		p.lossStreak = st.LossStreak
	}
}
