// Package instrument holds the reference data the core needs about a
// tradable instrument and the rounding rules derived from it.
package instrument

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrReferenceDataMissing is returned by Normalize when a step is missing
// and a 1‑unit default had to be substituted.
var ErrReferenceDataMissing = errors.New("instrument: reference data missing")

// ErrNotFound is returned by the registry for unknown instruments.
var ErrNotFound = errors.New("instrument: not found")

// Instrument describes price/volume granularity of one tradable symbol.
type Instrument struct {
	ID         string
	PriceStep  float64 // minimum price increment
	VolumeStep float64 // minimum volume increment
	MinVolume  float64
	MaxVolume  float64 // 0 = unbounded
	Decimals   int     // price precision
	TickValue  float64 // money value of one PriceStep move for 1 unit of volume; 0 = 1:1
}

// PipSize applies the fractional-pip rule: 3 and 5 digit quotes carry an
// extra digit, so one pip is ten price steps.
func (i Instrument) PipSize() float64 {
	if i.Decimals == 3 || i.Decimals == 5 {
		return i.PriceStep * 10
	}
	return i.PriceStep
}

// Pips converts a distance expressed in pips into a price distance.
func (i Instrument) Pips(n float64) float64 { return n * i.PipSize() }

// Normalize substitutes 1‑unit defaults for missing steps. The returned
// error wraps ErrReferenceDataMissing and is meant to be logged as a
// warning; the instrument is still usable afterwards.
func (i *Instrument) Normalize() error {
	var missing []string
	if i.PriceStep <= 0 {
		i.PriceStep = 1
		missing = append(missing, "price_step")
	}
	if i.VolumeStep <= 0 {
		i.VolumeStep = 1
		missing = append(missing, "volume_step")
	}
	if i.MinVolume < 0 {
		i.MinVolume = 0
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.Wrapf(ErrReferenceDataMissing, "%s: %v defaulted to 1", i.ID, missing)
}

// RoundPrice rounds p to the nearest price step.
func (i Instrument) RoundPrice(p float64) float64 {
	return roundToStep(p, i.PriceStep, 0)
}

// NormalizeVolume floors v to the volume step and clamps it into the
// venue's [MinVolume, MaxVolume] range. Volumes below the minimum become 0.
func (i Instrument) NormalizeVolume(v float64) float64 {
	if v <= 0 {
		return 0
	}
	v = roundToStep(v, i.VolumeStep, -1)
	if i.MaxVolume > 0 && v > i.MaxVolume {
		v = roundToStep(i.MaxVolume, i.VolumeStep, -1)
	}
	if v < i.MinVolume || v <= 0 {
		return 0
	}
	return v
}

// Money converts a price distance for the given volume into account
// currency through the tick value.
func (i Instrument) Money(priceDiff, volume float64) float64 {
	if i.TickValue <= 0 || i.PriceStep <= 0 {
		return priceDiff * volume
	}
	return priceDiff / i.PriceStep * i.TickValue * volume
}

// roundToStep rounds v to a multiple of step. mode < 0 floors, mode > 0
// ceils, 0 rounds half away from zero. Decimal arithmetic keeps values such
// as 1.2005 exact.
func roundToStep(v, step float64, mode int) float64 {
	if step <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	q := d.Div(s)
	switch {
	case mode < 0:
		q = q.Floor()
	case mode > 0:
		q = q.Ceil()
	default:
		q = q.Round(0)
	}
	out, _ := q.Mul(s).Float64()
	return out
}

// Registry is the in‑process reference data store.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Instrument
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Instrument)}
}

// Register normalises and stores inst. A non‑nil error wrapping
// ErrReferenceDataMissing means defaults were applied.
func (r *Registry) Register(inst Instrument) error {
	err := inst.Normalize()
	r.mu.Lock()
	r.items[inst.ID] = inst
	r.mu.Unlock()
	return err
}

func (r *Registry) Get(id string) (Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[id]
	if !ok {
		return Instrument{}, errors.Wrap(ErrNotFound, id)
	}
	return inst, nil
}

// IDs returns the registered instrument ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	return out
}
