package executor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/types"
)

var (
	ErrInvalidIntent = errors.New("executor: invalid intent")
	ErrNoQuote       = errors.New("executor: no quote for instrument")
	ErrUnknownOrder  = errors.New("executor: unknown order")
)

// Executor is the execution layer the core submits intents to. Fills,
// cancel confirmations and rejects come back asynchronously via a Sink.
type Executor interface {
	Submit(o types.OrderIntent) error
	Cancel(orderID string) error
}

// Account exposes the equity used for sizing and basket snapshots.
type Account interface {
	Equity() float64
}

// Sink receives execution reports.
type Sink interface {
	OnFill(f types.FillEvent)
	OnCancelConfirmed(orderID string)
	OnReject(orderID string, reason error)
}

type book struct {
	bid, ask float64
	signed   float64
	avg      float64
}

// PaperExecutor is a simple paper trader: market intents fill at the touch,
// stop and limit intents rest until the mark crosses them. No slippage.
type PaperExecutor struct {
	mu      sync.Mutex
	reg     *instrument.Registry
	sink    Sink
	balance float64
	books   map[string]*book
	resting map[string]types.OrderIntent
	clock   func() time.Time
	reports []func()
}

func NewPaperExecutor(startEquity float64, reg *instrument.Registry) *PaperExecutor {
	return &PaperExecutor{
		reg:     reg,
		balance: startEquity,
		books:   make(map[string]*book),
		resting: make(map[string]types.OrderIntent),
		clock:   time.Now,
	}
}

// SetSink installs the report receiver. Reports are delivered after the
// executor's lock is released, in the order they were produced.
func (p *PaperExecutor) SetSink(s Sink) {
	p.mu.Lock()
	p.sink = s
	p.mu.Unlock()
}

func (p *PaperExecutor) bookFor(id string) *book {
	b, ok := p.books[id]
	if !ok {
		b = &book{}
		p.books[id] = b
	}
	return b
}

func (p *PaperExecutor) Submit(o types.OrderIntent) error {
	if o.Volume <= 0 || o.InstrumentID == "" {
		return errors.Wrapf(ErrInvalidIntent, "%s volume=%v", o.InstrumentID, o.Volume)
	}
	p.mu.Lock()
	b := p.bookFor(o.InstrumentID)
	switch {
	case o.Type == types.Market || o.Price == 0:
		price := b.ask
		if o.Side == types.Sell {
			price = b.bid
		}
		if price <= 0 {
			id := o.ID
			p.queue(func(s Sink) { s.OnReject(id, ErrNoQuote) })
			break
		}
		p.fill(o, price)
	default:
		p.resting[o.ID] = o
		p.trigger(o.InstrumentID)
	}
	p.flush()
	return nil
}

func (p *PaperExecutor) Cancel(orderID string) error {
	p.mu.Lock()
	if _, ok := p.resting[orderID]; !ok {
		p.mu.Unlock()
		return errors.Wrap(ErrUnknownOrder, orderID)
	}
	delete(p.resting, orderID)
	p.queue(func(s Sink) { s.OnCancelConfirmed(orderID) })
	p.flush()
	return nil
}

// Mark updates the touch of an instrument and triggers resting orders it
// crosses.
func (p *PaperExecutor) Mark(q types.Quote) {
	p.mu.Lock()
	b := p.bookFor(q.InstrumentID)
	b.bid, b.ask = q.Bid, q.Ask
	p.trigger(q.InstrumentID)
	p.flush()
}

// trigger must be called with the lock held.
func (p *PaperExecutor) trigger(instrumentID string) {
	b := p.bookFor(instrumentID)
	if b.bid <= 0 || b.ask <= 0 {
		return
	}
	for id, o := range p.resting {
		if o.InstrumentID != instrumentID {
			continue
		}
		var hit bool
		switch {
		case o.Type == types.Stop && o.Side == types.Sell:
			hit = b.bid <= o.Price
		case o.Type == types.Stop && o.Side == types.Buy:
			hit = b.ask >= o.Price
		case o.Type == types.Limit && o.Side == types.Sell:
			hit = b.bid >= o.Price
		case o.Type == types.Limit && o.Side == types.Buy:
			hit = b.ask <= o.Price
		}
		if hit {
			delete(p.resting, id)
			p.fill(o, o.Price)
		}
	}
}

// fill must be called with the lock held.
func (p *PaperExecutor) fill(o types.OrderIntent, price float64) {
	b := p.bookFor(o.InstrumentID)
	qty := o.Volume
	if o.Side == types.Sell {
		qty = -qty
	}
	switch {
	case b.signed == 0 || (b.signed > 0) == (qty > 0):
		newAbs := abs(b.signed) + abs(qty)
		b.avg = (b.avg*abs(b.signed) + price*abs(qty)) / newAbs
		b.signed += qty
	default:
		closed := abs(qty)
		if closed > abs(b.signed) {
			closed = abs(b.signed)
		}
		dir := 1.0
		if b.signed < 0 {
			dir = -1
		}
		p.balance += p.money(o.InstrumentID, dir*(price-b.avg), closed)
		b.signed += qty
		switch {
		case abs(b.signed) < 1e-9:
			b.signed, b.avg = 0, 0
		case (b.signed > 0) != (dir > 0):
			b.avg = price
		}
	}
	f := types.FillEvent{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		InstrumentID: o.InstrumentID,
		Side:         o.Side,
		Price:        price,
		Volume:       o.Volume,
		Timestamp:    p.clock(),
	}
	p.queue(func(s Sink) { s.OnFill(f) })
}

func (p *PaperExecutor) money(instrumentID string, diff, vol float64) float64 {
	if p.reg != nil {
		if inst, err := p.reg.Get(instrumentID); err == nil {
			return inst.Money(diff, vol)
		}
	}
	return diff * vol
}

func (p *PaperExecutor) queue(r func(Sink)) {
	s := p.sink
	if s == nil {
		return
	}
	p.reports = append(p.reports, func() { r(s) })
}

// flush releases the lock and delivers queued reports.
func (p *PaperExecutor) flush() {
	reports := p.reports
	p.reports = nil
	p.mu.Unlock()
	for _, r := range reports {
		r()
	}
}

// Equity is the balance plus floating P&L marked at the touch.
func (p *PaperExecutor) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	eq := p.balance
	for id, b := range p.books {
		if b.signed == 0 {
			continue
		}
		mark := b.bid
		dir := 1.0
		if b.signed < 0 {
			mark, dir = b.ask, -1
		}
		if mark > 0 {
			eq += p.money(id, dir*(mark-b.avg), abs(b.signed))
		}
	}
	return eq
}

// Position returns the executor's own view of the net position.
func (p *PaperExecutor) Position(instrumentID string) (float64, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.books[instrumentID]
	if !ok {
		return 0, 0
	}
	return b.signed, b.avg
}

// Resting returns the number of working stop/limit orders.
func (p *PaperExecutor) Resting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resting)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
