// Package dispatch turns desired exposure into order intents, submits them
// and keeps the book of resting protective orders in sync with the levels
// the protective engine computes.
//
// A Dispatcher is owned by the engine goroutine and is not safe for
// concurrent use.
package dispatch

import (
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evdnx/goguard/executor"
	"github.com/evdnx/goguard/ledger"
	"github.com/evdnx/goguard/logger"
	"github.com/evdnx/goguard/metrics"
	"github.com/evdnx/goguard/protect"
	"github.com/evdnx/goguard/types"
)

// ErrStaleProtectiveOrder marks a protective cancel that went unconfirmed
// for a full cycle and was re-issued.
var ErrStaleProtectiveOrder = errors.New("dispatch: stale protective order")

const priceEpsilon = 1e-9

type outstanding struct {
	intent    types.OrderIntent
	remaining float64
}

type protectiveBook struct {
	live       map[types.Purpose]types.OrderIntent
	cancelling map[string]int // order id -> cycles without confirmation
	queued     map[types.Purpose]types.OrderIntent
}

func newProtectiveBook() *protectiveBook {
	return &protectiveBook{
		live:       make(map[types.Purpose]types.OrderIntent),
		cancelling: make(map[string]int),
		queued:     make(map[types.Purpose]types.OrderIntent),
	}
}

func (b *protectiveBook) pending() bool { return len(b.cancelling) > 0 || len(b.queued) > 0 }

// Dispatcher submits intents through an executor.Executor.
type Dispatcher struct {
	exec  executor.Executor
	log   logger.Logger
	newID func() string

	orders map[string]*outstanding
	books  map[string]*protectiveBook
}

func New(exec executor.Executor, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		exec:   exec,
		log:    log,
		newID:  uuid.NewString,
		orders: make(map[string]*outstanding),
		books:  make(map[string]*protectiveBook),
	}
}

func (d *Dispatcher) book(instrumentID string) *protectiveBook {
	b, ok := d.books[instrumentID]
	if !ok {
		b = newProtectiveBook()
		d.books[instrumentID] = b
	}
	return b
}

func (d *Dispatcher) intent(instrumentID string, side types.Side, vol float64, purpose types.Purpose) types.OrderIntent {
	return types.OrderIntent{
		ID:           d.newID(),
		InstrumentID: instrumentID,
		Side:         side,
		Type:         types.Market,
		Volume:       vol,
		Purpose:      purpose,
	}
}

// Plan returns the minimal batch moving pos to desiredVolume of exposure in
// desired. A reversal closes the current leg before opening the new one.
func (d *Dispatcher) Plan(pos ledger.Position, desired types.Direction, desiredVolume float64) []types.OrderIntent {
	cur := pos.AbsVolume()
	if desired == types.Flat || desiredVolume <= 0 {
		if pos.IsFlat() {
			return nil
		}
		return []types.OrderIntent{d.intent(pos.InstrumentID, pos.Direction.ExitSide(), cur, types.PurposeExit)}
	}

	switch {
	case pos.IsFlat():
		return []types.OrderIntent{d.intent(pos.InstrumentID, desired.EntrySide(), desiredVolume, types.PurposeEntry)}
	case pos.Direction == desired:
		diff := desiredVolume - cur
		switch {
		case diff > priceEpsilon:
			return []types.OrderIntent{d.intent(pos.InstrumentID, desired.EntrySide(), diff, types.PurposeAdd)}
		case diff < -priceEpsilon:
			return []types.OrderIntent{d.intent(pos.InstrumentID, desired.ExitSide(), -diff, types.PurposeExit)}
		}
		return nil
	default:
		return []types.OrderIntent{
			d.intent(pos.InstrumentID, pos.Direction.ExitSide(), cur, types.PurposeExit),
			d.intent(pos.InstrumentID, desired.EntrySide(), desiredVolume, types.PurposeEntry),
		}
	}
}

// Submit sends a batch in order. Working protective orders of an
// instrument are cancelled before its exposure changes. The batch stops at
// the first failed submission so an open never follows a failed close.
func (d *Dispatcher) Submit(batch []types.OrderIntent) error {
	for _, o := range batch {
		if !o.Purpose.Protective() {
			if b, ok := d.books[o.InstrumentID]; ok && len(b.live) > 0 {
				d.CancelAll(o.InstrumentID)
			}
		}
		if err := d.submit(o); err != nil {
			return err
		}
		if !o.Purpose.Protective() {
			d.orders[o.ID] = &outstanding{intent: o, remaining: o.Volume}
		}
	}
	return nil
}

// submit is a thin wrapper that records metrics and logs.
func (d *Dispatcher) submit(o types.OrderIntent) error {
	if err := d.exec.Submit(o); err != nil {
		d.log.Error("intent_submit_failed",
			logger.String("instrument", o.InstrumentID),
			logger.String("side", string(o.Side)),
			logger.String("purpose", string(o.Purpose)),
			logger.Float64("volume", o.Volume),
			logger.Err(err),
		)
		return errors.Wrapf(err, "submit %s %s", o.Purpose, o.InstrumentID)
	}
	d.log.Info("intent_submitted",
		logger.String("id", o.ID),
		logger.String("instrument", o.InstrumentID),
		logger.String("side", string(o.Side)),
		logger.String("type", string(o.Type)),
		logger.Float64("volume", o.Volume),
		logger.Float64("price", o.Price),
		logger.String("purpose", string(o.Purpose)),
		logger.String("comment", o.Comment),
	)
	metrics.IntentsSubmitted.WithLabelValues(string(o.Purpose)).Inc()
	return nil
}

// Close flattens pos.
func (d *Dispatcher) Close(pos ledger.Position, reason string) error {
	batch := d.Plan(pos, types.Flat, 0)
	for i := range batch {
		batch[i].Comment = reason
	}
	return d.Submit(batch)
}

// Add submits a single market intent adding volume in dir. The first
// entry of a leg is tagged as an entry, later ones as adds.
func (d *Dispatcher) Add(instrumentID string, dir types.Direction, volume float64, first bool, comment string) error {
	purpose := types.PurposeAdd
	if first {
		purpose = types.PurposeEntry
	}
	o := d.intent(instrumentID, dir.EntrySide(), volume, purpose)
	o.Comment = comment
	return d.Submit([]types.OrderIntent{o})
}

// OnFill matches a fill to its intent. known is false for fills that
// belong to no outstanding intent or protective order.
func (d *Dispatcher) OnFill(f types.FillEvent) (types.OrderIntent, bool) {
	if o, ok := d.orders[f.OrderID]; ok {
		o.remaining -= f.Volume
		if o.remaining <= priceEpsilon {
			delete(d.orders, f.OrderID)
		}
		return o.intent, true
	}
	if b, ok := d.books[f.InstrumentID]; ok {
		for purpose, o := range b.live {
			if o.ID == f.OrderID {
				delete(b.live, purpose)
				return o, true
			}
		}
	}
	return types.OrderIntent{}, false
}

// OnReject forgets a rejected intent.
func (d *Dispatcher) OnReject(orderID string) (types.OrderIntent, bool) {
	if o, ok := d.orders[orderID]; ok {
		delete(d.orders, orderID)
		return o.intent, true
	}
	for _, b := range d.books {
		for purpose, o := range b.live {
			if o.ID == orderID {
				delete(b.live, purpose)
				return o, true
			}
		}
	}
	return types.OrderIntent{}, false
}

// HasPendingClose reports an unfilled exit intent for the instrument.
func (d *Dispatcher) HasPendingClose(instrumentID string) bool {
	for _, o := range d.orders {
		if o.intent.InstrumentID == instrumentID && o.intent.Purpose == types.PurposeExit {
			return true
		}
	}
	return false
}

// HasPending reports any unfilled exposure-changing intent.
func (d *Dispatcher) HasPending(instrumentID string) bool {
	for _, o := range d.orders {
		if o.intent.InstrumentID == instrumentID {
			return true
		}
	}
	return false
}

// protectivePurposes fixes the submission order: stop first.
var protectivePurposes = []types.Purpose{types.PurposeStopLoss, types.PurposeTakeProfit}

// SyncProtection mirrors levels as resting stop and limit orders for a leg
// of volume in dir. Orders whose price or volume changed are cancelled and
// their replacements queued until every cancel is confirmed. A flat leg
// cancels everything.
func (d *Dispatcher) SyncProtection(instrumentID string, dir types.Direction, volume float64, levels protect.Levels) error {
	if dir == types.Flat || volume <= 0 {
		d.CancelAll(instrumentID)
		return nil
	}
	b := d.book(instrumentID)
	for _, purpose := range protectivePurposes {
		price := levels.Stop
		if purpose == types.PurposeTakeProfit {
			price = levels.TakeProfit
		}
		cur, working := b.live[purpose]
		if working && cur.Side == dir.ExitSide() && same(cur.Price, price) && same(cur.Volume, volume) {
			delete(b.queued, purpose)
			continue
		}
		if working {
			d.cancel(b, purpose, cur)
		}
		if price <= 0 {
			delete(b.queued, purpose)
			continue
		}
		o := types.OrderIntent{
			ID:           d.newID(),
			InstrumentID: instrumentID,
			Side:         dir.ExitSide(),
			Type:         types.Stop,
			Price:        price,
			Volume:       volume,
			Purpose:      purpose,
		}
		if purpose == types.PurposeTakeProfit {
			o.Type = types.Limit
		}
		b.queued[purpose] = o
	}
	return d.release(b)
}

// release submits queued replacements once no cancel is outstanding.
func (d *Dispatcher) release(b *protectiveBook) error {
	if len(b.cancelling) > 0 {
		return nil
	}
	for _, purpose := range protectivePurposes {
		o, ok := b.queued[purpose]
		if !ok {
			continue
		}
		delete(b.queued, purpose)
		if err := d.submit(o); err != nil {
			return err
		}
		b.live[purpose] = o
	}
	return nil
}

func (d *Dispatcher) cancel(b *protectiveBook, purpose types.Purpose, o types.OrderIntent) {
	delete(b.live, purpose)
	b.cancelling[o.ID] = 0
	d.requestCancel(b, o.ID)
}

func (d *Dispatcher) requestCancel(b *protectiveBook, orderID string) {
	err := d.exec.Cancel(orderID)
	switch {
	case err == nil:
	case errors.Is(err, executor.ErrUnknownOrder):
		// Already filled or gone at the venue.
		delete(b.cancelling, orderID)
	default:
		d.log.Warn("protective_cancel_failed",
			logger.String("order_id", orderID),
			logger.Err(err),
		)
	}
}

// OnCancelConfirmed clears a confirmed cancel and, when it was the last
// one outstanding for the instrument, submits the queued replacements.
func (d *Dispatcher) OnCancelConfirmed(orderID string) (bool, error) {
	for _, b := range d.books {
		if _, ok := b.cancelling[orderID]; ok {
			delete(b.cancelling, orderID)
			return true, d.release(b)
		}
	}
	return false, nil
}

// Tick ages outstanding cancels by one cycle and re-issues those that have
// gone a full cycle without confirmation. It returns how many were
// re-issued.
func (d *Dispatcher) Tick() int {
	n := 0
	for _, b := range d.books {
		for id, age := range b.cancelling {
			if age >= 1 {
				d.log.Warn("stale_protective_order",
					logger.String("order_id", id),
					logger.Int("cycles", age),
					logger.Err(ErrStaleProtectiveOrder),
				)
				metrics.StaleProtectiveRetries.Inc()
				b.cancelling[id] = 0
				d.requestCancel(b, id)
				n++
				continue
			}
			b.cancelling[id] = age + 1
		}
		if err := d.release(b); err != nil {
			d.log.Error("protective_release_failed", logger.Err(err))
		}
	}
	return n
}

// ProtectionPending reports unconfirmed cancels or unsent replacements.
func (d *Dispatcher) ProtectionPending(instrumentID string) bool {
	b, ok := d.books[instrumentID]
	return ok && b.pending()
}

// Protective returns the working protective orders of an instrument.
func (d *Dispatcher) Protective(instrumentID string) []types.OrderIntent {
	b, ok := d.books[instrumentID]
	if !ok {
		return nil
	}
	out := make([]types.OrderIntent, 0, len(b.live))
	for _, p := range protectivePurposes {
		if o, ok := b.live[p]; ok {
			out = append(out, o)
		}
	}
	return out
}

// CancelAll cancels every working protective order of the instrument and
// drops queued replacements.
func (d *Dispatcher) CancelAll(instrumentID string) {
	b, ok := d.books[instrumentID]
	if !ok {
		return
	}
	for _, purpose := range protectivePurposes {
		if o, ok := b.live[purpose]; ok {
			d.cancel(b, purpose, o)
		}
		delete(b.queued, purpose)
	}
}

func same(a, b float64) bool { return math.Abs(a-b) < priceEpsilon }
