package engine

import (
	"time"

	"github.com/evdnx/goguard/types"
)

// Event is anything the engine's inbox accepts.
type Event interface{ isEvent() }

type QuoteEvent struct{ types.Quote }

// BarEvent carries a closed bar. Bars have no spread, so the close marks
// both sides until a quote arrives.
type BarEvent struct{ types.Bar }

// SignalEvent is an externally computed signal.
type SignalEvent struct {
	InstrumentID string
	Direction    types.Direction
	Price        float64 // 0 = current mark
	Time         time.Time
}

type FillEvent struct{ types.FillEvent }

type CancelConfirmedEvent struct{ OrderID string }

type RejectEvent struct {
	OrderID string
	Reason  error
}

// barrier is closed by Process once everything queued before it is done.
type barrier struct{ done chan struct{} }

func (QuoteEvent) isEvent() {}
func (BarEvent) isEvent() {}
func (SignalEvent) isEvent() {}
func (FillEvent) isEvent() {}
func (CancelConfirmedEvent) isEvent() {}
func (RejectEvent) isEvent() {}
func (barrier) isEvent() {}
