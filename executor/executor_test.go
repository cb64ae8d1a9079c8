package executor

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/types"
)

type recordingSink struct {
	fills    []types.FillEvent
	canceled []string
	rejected []string
}

func (r *recordingSink) OnFill(f types.FillEvent) { r.fills = append(r.fills, f) }
func (r *recordingSink) OnCancelConfirmed(orderID string) { r.canceled = append(r.canceled, orderID) }
func (r *recordingSink) OnReject(orderID string, _ error) { r.rejected = append(r.rejected, orderID) }

func newPaper(t *testing.T) (*PaperExecutor, *recordingSink) {
	t.Helper()
	reg := instrument.NewRegistry()
	if err := reg.Register(instrument.Instrument{ID: "BTCUSD", PriceStep: 0.01, VolumeStep: 0.001}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ex := NewPaperExecutor(10_000, reg)
	sink := &recordingSink{}
	ex.SetSink(sink)
	return ex, sink
}

func TestPaperExecutor_MarketFillAndPosition(t *testing.T) {
	ex, sink := newPaper(t)
	ex.Mark(types.Quote{InstrumentID: "BTCUSD", Bid: 19_990, Ask: 20_000})

	o := types.OrderIntent{ID: "o1", InstrumentID: "BTCUSD", Side: types.Buy, Type: types.Market, Volume: 0.5}
	if err := ex.Submit(o); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(sink.fills) != 1 || sink.fills[0].Price != 20_000 || sink.fills[0].OrderID != "o1" {
		t.Fatalf("unexpected fills: %+v", sink.fills)
	}
	if sink.fills[0].ID == "" {
		t.Fatal("fill must carry an execution id")
	}
	qty, avg := ex.Position("BTCUSD")
	if qty != 0.5 || avg != 20_000 {
		t.Fatalf("unexpected position: qty=%v avg=%v", qty, avg)
	}
	// Marked at the bid: 0.5 * (19990 - 20000) = -5.
	if eq := ex.Equity(); math.Abs(eq-9_995) > 1e-9 {
		t.Fatalf("unexpected equity %v", eq)
	}
}

func TestPaperExecutor_CloseRealizes(t *testing.T) {
	ex, _ := newPaper(t)
	ex.Mark(types.Quote{InstrumentID: "BTCUSD", Bid: 99, Ask: 100})
	_ = ex.Submit(types.OrderIntent{ID: "a", InstrumentID: "BTCUSD", Side: types.Buy, Type: types.Market, Volume: 2})
	ex.Mark(types.Quote{InstrumentID: "BTCUSD", Bid: 110, Ask: 111})
	_ = ex.Submit(types.OrderIntent{ID: "b", InstrumentID: "BTCUSD", Side: types.Sell, Type: types.Market, Volume: 2})
	if qty, _ := ex.Position("BTCUSD"); qty != 0 {
		t.Fatalf("expected flat, got %v", qty)
	}
	if eq := ex.Equity(); math.Abs(eq-10_020) > 1e-9 {
		t.Fatalf("expected realized +20, equity %v", eq)
	}
}

func TestPaperExecutor_NoQuoteRejects(t *testing.T) {
	ex, sink := newPaper(t)
	o := types.OrderIntent{ID: "x", InstrumentID: "BTCUSD", Side: types.Buy, Type: types.Market, Volume: 1}
	if err := ex.Submit(o); err != nil {
		t.Fatalf("expected asynchronous reject, got error %v", err)
	}
	if len(sink.rejected) != 1 || sink.rejected[0] != "x" || len(sink.fills) != 0 {
		t.Fatalf("expected reject of x, got %+v", sink)
	}
}

func TestPaperExecutor_InvalidIntent(t *testing.T) {
	ex, _ := newPaper(t)
	err := ex.Submit(types.OrderIntent{ID: "z", InstrumentID: "BTCUSD", Side: types.Buy})
	if !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected ErrInvalidIntent, got %v", err)
	}
}

func TestPaperExecutor_RestingStopTriggersAndCancel(t *testing.T) {
	ex, sink := newPaper(t)
	ex.Mark(types.Quote{InstrumentID: "BTCUSD", Bid: 100, Ask: 101})
	_ = ex.Submit(types.OrderIntent{ID: "e", InstrumentID: "BTCUSD", Side: types.Buy, Type: types.Market, Volume: 1})
	_ = ex.Submit(types.OrderIntent{ID: "sl", InstrumentID: "BTCUSD", Side: types.Sell, Type: types.Stop, Price: 95, Volume: 1})
	_ = ex.Submit(types.OrderIntent{ID: "tp", InstrumentID: "BTCUSD", Side: types.Sell, Type: types.Limit, Price: 120, Volume: 1})
	if ex.Resting() != 2 {
		t.Fatalf("expected 2 resting orders, got %d", ex.Resting())
	}

	if err := ex.Cancel("tp"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(sink.canceled) != 1 || sink.canceled[0] != "tp" {
		t.Fatalf("expected cancel confirmation, got %v", sink.canceled)
	}
	if err := ex.Cancel("tp"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("second cancel must fail with ErrUnknownOrder, got %v", err)
	}

	ex.Mark(types.Quote{InstrumentID: "BTCUSD", Bid: 94, Ask: 95})
	last := sink.fills[len(sink.fills)-1]
	if last.OrderID != "sl" || last.Price != 95 {
		t.Fatalf("stop did not trigger at its price: %+v", last)
	}
	if qty, _ := ex.Position("BTCUSD"); qty != 0 {
		t.Fatalf("expected flat after stop, got %v", qty)
	}
}
