// Package ledger reconciles fills into a net position per instrument.
package ledger

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/evdnx/goguard/types"
)

var (
	// ErrUnknownInstrument: the fill references an instrument with no entry.
	ErrUnknownInstrument = errors.New("ledger: unknown instrument")
	// ErrUnreconciledFill: the fill was already applied; it is ignored.
	ErrUnreconciledFill = errors.New("ledger: unreconciled fill")
	// ErrInvalidFill: non-positive price or volume.
	ErrInvalidFill = errors.New("ledger: invalid fill")
)

// volumeEpsilon absorbs float residue when a leg is closed by several fills.
const volumeEpsilon = 1e-9

// seenFillsCap bounds the per-instrument memory of applied fill ids.
const seenFillsCap = 4096

// Position is the net exposure in one instrument.
type Position struct {
	InstrumentID string
	SignedVolume float64
	AvgPrice     float64 // 0 when flat
	OpenedAt     time.Time
	Direction    types.Direction
	// RealizedPnL accumulates partial closes of the current leg, in price
	// units times volume.
	RealizedPnL float64
}

func (p Position) IsFlat() bool { return p.Direction == types.Flat }

func (p Position) AbsVolume() float64 { return math.Abs(p.SignedVolume) }

// FloatingPnL is direction*(price-avg)*|volume| in price units.
func (p Position) FloatingPnL(price float64) float64 {
	if p.IsFlat() {
		return 0
	}
	return p.Direction.Sign() * (price - p.AvgPrice) * p.AbsVolume()
}

// LegClose describes volume taken off a leg by one fill.
type LegClose struct {
	InstrumentID string
	Direction    types.Direction // direction of the leg being reduced
	EntryPrice   float64
	ExitPrice    float64
	Volume       float64
	RealizedPnL  float64 // this portion only
	// LegPnL is the realized P&L of the whole leg; meaningful when Full.
	LegPnL   float64
	Full     bool
	ClosedAt time.Time
}

// FillResult is the outcome of ApplyFill. A reversing fill yields a full
// close followed by Opened=true for the fresh leg.
type FillResult struct {
	Position Position
	Closes   []LegClose
	Opened   bool // a new leg started with this fill
	Added    bool // same-direction volume was added
}

// Ledger is single-writer: the engine's event loop is its only caller.
type Ledger struct {
	positions map[string]*Position
	seen      map[string]*fillSet
}

type fillSet struct {
	ids   map[string]struct{}
	order []string
}

func (s *fillSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > seenFillsCap {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		seen:      make(map[string]*fillSet),
	}
}

// Track registers an empty entry for instrumentID. It is a no-op when the
// instrument is already tracked.
func (l *Ledger) Track(instrumentID string) {
	if _, ok := l.positions[instrumentID]; ok {
		return
	}
	l.positions[instrumentID] = &Position{InstrumentID: instrumentID}
	l.seen[instrumentID] = &fillSet{ids: make(map[string]struct{})}
}

func (l *Ledger) Tracked(instrumentID string) bool {
	_, ok := l.positions[instrumentID]
	return ok
}

// Position returns a copy of the current position.
func (l *Ledger) Position(instrumentID string) (Position, bool) {
	p, ok := l.positions[instrumentID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Snapshot returns copies of every tracked position.
func (l *Ledger) Snapshot() map[string]Position {
	out := make(map[string]Position, len(l.positions))
	for id, p := range l.positions {
		out[id] = *p
	}
	return out
}

// Open returns copies of the non-flat positions.
func (l *Ledger) Open() []Position {
	var out []Position
	for _, p := range l.positions {
		if !p.IsFlat() {
			out = append(out, *p)
		}
	}
	return out
}

// ApplyFill folds one fill into the instrument's position.
func (l *Ledger) ApplyFill(f types.FillEvent) (FillResult, error) {
	pos, ok := l.positions[f.InstrumentID]
	if !ok {
		return FillResult{}, errors.Wrap(ErrUnknownInstrument, f.InstrumentID)
	}
	if f.Volume <= 0 || f.Price <= 0 {
		return FillResult{Position: *pos}, errors.Wrapf(ErrInvalidFill, "%s price=%v volume=%v", f.InstrumentID, f.Price, f.Volume)
	}
	if f.ID != "" && !l.seen[f.InstrumentID].add(f.ID) {
		return FillResult{Position: *pos}, errors.Wrapf(ErrUnreconciledFill, "%s fill %s already applied", f.InstrumentID, f.ID)
	}

	var res FillResult
	fillDir := types.DirectionOf(f.Signed())

	switch {
	case pos.IsFlat():
		openLeg(pos, fillDir, f.Price, f.Volume, f.Timestamp)
		res.Opened = true

	case fillDir == pos.Direction:
		oldAbs := pos.AbsVolume()
		newAbs := oldAbs + f.Volume
		pos.AvgPrice = (pos.AvgPrice*oldAbs + f.Price*f.Volume) / newAbs
		pos.SignedVolume = pos.Direction.Sign() * newAbs
		res.Added = true

	default:
		oldAbs := pos.AbsVolume()
		closed := math.Min(oldAbs, f.Volume)
		pnl := pos.Direction.Sign() * (f.Price - pos.AvgPrice) * closed
		pos.RealizedPnL += pnl
		remaining := oldAbs - closed
		full := remaining <= volumeEpsilon

		res.Closes = append(res.Closes, LegClose{
			InstrumentID: f.InstrumentID,
			Direction:    pos.Direction,
			EntryPrice:   pos.AvgPrice,
			ExitPrice:    f.Price,
			Volume:       closed,
			RealizedPnL:  pnl,
			LegPnL:       pos.RealizedPnL,
			Full:         full,
			ClosedAt:     f.Timestamp,
		})

		if !full {
			pos.SignedVolume = pos.Direction.Sign() * remaining
			break
		}
		reset(pos)
		if excess := f.Volume - closed; excess > volumeEpsilon {
			openLeg(pos, fillDir, f.Price, excess, f.Timestamp)
			res.Opened = true
		}
	}

	res.Position = *pos
	return res, nil
}

func openLeg(p *Position, dir types.Direction, price, volume float64, ts time.Time) {
	p.Direction = dir
	p.SignedVolume = dir.Sign() * volume
	p.AvgPrice = price
	p.OpenedAt = ts
	p.RealizedPnL = 0
}

func reset(p *Position) {
	p.SignedVolume = 0
	p.AvgPrice = 0
	p.Direction = types.Flat
	p.OpenedAt = time.Time{}
	p.RealizedPnL = 0
}
