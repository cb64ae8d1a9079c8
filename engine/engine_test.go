package engine

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/evdnx/goguard/config"
	"github.com/evdnx/goguard/executor"
	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/protect"
	"github.com/evdnx/goguard/testutils"
	"github.com/evdnx/goguard/types"
)

const eurusd = "EURUSD"

type harness struct {
	t      *testing.T
	eng    *Engine
	exec   *testutils.MockExecutor
	log    *testutils.MockLogger
	alerts *testutils.MockNotifier
	fills  int
}

func newHarness(t *testing.T, cfg config.Config, insts ...instrument.Instrument) *harness {
	t.Helper()
	if len(insts) == 0 {
		insts = []instrument.Instrument{{ID: eurusd, PriceStep: 0.0001, Decimals: 4, VolumeStep: 0.01, MinVolume: 0.01}}
	}
	reg := instrument.NewRegistry()
	for _, inst := range insts {
		if err := reg.Register(inst); err != nil {
			t.Fatalf("register %s: %v", inst.ID, err)
		}
	}
	h := &harness{
		t:      t,
		exec:   testutils.NewMockExecutor(10_000),
		log:    testutils.NewMockLogger(),
		alerts: testutils.NewMockNotifier(),
	}
	eng, err := New(cfg, reg, h.exec, h.exec, h.log, h.alerts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.eng = eng
	return h
}

func (h *harness) quote(id string, bid, ask float64) {
	h.eng.Process(QuoteEvent{types.Quote{InstrumentID: id, Bid: bid, Ask: ask}})
}

func (h *harness) signal(id string, dir types.Direction, price float64) {
	h.eng.Process(SignalEvent{InstrumentID: id, Direction: dir, Price: price})
}

// fill executes an intent completely at price.
func (h *harness) fill(o types.OrderIntent, price float64) {
	h.fills++
	h.eng.Process(FillEvent{types.FillEvent{
		ID:           fmt.Sprintf("fill-%d", h.fills),
		OrderID:      o.ID,
		InstrumentID: o.InstrumentID,
		Side:         o.Side,
		Price:        price,
		Volume:       o.Volume,
	}})
}

func (h *harness) last() types.OrderIntent {
	h.t.Helper()
	in := h.exec.Intents()
	if len(in) == 0 {
		h.t.Fatal("no intents submitted")
	}
	return in[len(in)-1]
}

func noTrailing(cfg config.Config) config.Config {
	cfg.Protection.TrailingStopPips = 0
	cfg.Protection.TrailingStepPips = 0
	return cfg
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sizing.BaseVolume = 0
	_, err := New(cfg, instrument.NewRegistry(), testutils.NewMockExecutor(0), testutils.NewMockExecutor(0), testutils.NewMockLogger(), nil)
	var ce *config.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
}

func TestSignalOpensAndArmsProtection(t *testing.T) {
	h := newHarness(t, noTrailing(config.Default()))
	h.quote(eurusd, 1.2000, 1.2002)
	h.signal(eurusd, types.Long, 0)

	entry := h.last()
	if entry.Purpose != types.PurposeEntry || entry.Side != types.Buy || !near(entry.Volume, 0.1) {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if h.eng.Phase(eurusd) != PhaseFlat {
		t.Fatalf("unfilled entry must leave the leg flat, got %v", h.eng.Phase(eurusd))
	}

	h.fill(entry, 1.2002)
	pos, _ := h.eng.Position(eurusd)
	if pos.Direction != types.Long || pos.AvgPrice != 1.2002 {
		t.Fatalf("unexpected position %+v", pos)
	}
	lv := h.eng.Levels(eurusd)
	if !near(lv.Stop, 1.1952) || !near(lv.TakeProfit, 1.2102) {
		t.Fatalf("unexpected levels %+v", lv)
	}
	if h.eng.Phase(eurusd) != PhaseProtected {
		t.Fatalf("expected protected phase, got %v", h.eng.Phase(eurusd))
	}
}

func TestStopHitClosesLegAndCountsLoss(t *testing.T) {
	h := newHarness(t, noTrailing(config.Default()))
	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	h.fill(h.last(), 1.2000)

	h.quote(eurusd, 1.1949, 1.1950)
	exit := h.last()
	if exit.Purpose != types.PurposeExit || exit.Side != types.Sell || exit.Comment != "stop_hit" {
		t.Fatalf("expected stop exit, got %+v", exit)
	}
	if h.eng.Phase(eurusd) != PhaseClosing {
		t.Fatalf("expected closing phase, got %v", h.eng.Phase(eurusd))
	}
	n := len(h.exec.Intents())
	h.quote(eurusd, 1.1945, 1.1946)
	if len(h.exec.Intents()) != n {
		t.Fatal("a pending close must not be duplicated")
	}

	h.fill(exit, 1.1949)
	if h.eng.Phase(eurusd) != PhaseFlat {
		t.Fatalf("expected flat, got %v", h.eng.Phase(eurusd))
	}
	st := h.eng.GridState(eurusd, types.Long)
	if st.EntryCount != 0 || st.LossStreak != 1 {
		t.Fatalf("grid not reset after losing close: %+v", st)
	}
	if h.eng.Levels(eurusd) != (protect.Levels{}) {
		t.Fatalf("levels not cleared: %+v", h.eng.Levels(eurusd))
	}
}

func TestGridAddSuppressedWhileProtectionPending(t *testing.T) {
	cfg := config.Default()
	cfg.Grid.Enabled = true
	cfg.Protection.Resting = true
	h := newHarness(t, cfg)

	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	h.fill(h.last(), 1.2000)
	if got := len(h.exec.Intents()); got != 3 {
		t.Fatalf("expected entry plus stop and target, got %d", got)
	}

	// 20 pips of profit trails the stop to 1.2005 and cancels the old one.
	h.quote(eurusd, 1.2020, 1.2020)
	cancels := h.exec.Cancels()
	if len(cancels) != 1 {
		t.Fatalf("expected the old stop to be cancelled, got %v", cancels)
	}
	h.signal(eurusd, types.Long, 1.2040)
	if got := len(h.exec.Intents()); got != 3 {
		t.Fatalf("grid add must wait for the cancel, got %d intents", got)
	}

	h.eng.Process(CancelConfirmedEvent{OrderID: cancels[0]})
	repl := h.last()
	if repl.Purpose != types.PurposeStopLoss || !near(repl.Price, 1.2005) {
		t.Fatalf("expected replacement stop at 1.2005, got %+v", repl)
	}
	if h.eng.Phase(eurusd) != PhaseProtected {
		t.Fatalf("expected protected phase, got %v", h.eng.Phase(eurusd))
	}

	h.signal(eurusd, types.Long, 1.2040)
	add := h.last()
	if add.Purpose != types.PurposeAdd || add.Side != types.Buy {
		t.Fatalf("expected grid add, got %+v", add)
	}
	if h.eng.Phase(eurusd) != PhaseAdding {
		t.Fatalf("expected adding phase, got %v", h.eng.Phase(eurusd))
	}
}

func TestReversalClosesBeforeOpening(t *testing.T) {
	h := newHarness(t, noTrailing(config.Default()))
	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	h.fill(h.last(), 1.2000)

	h.signal(eurusd, types.Short, 0)
	in := h.exec.Intents()
	if len(in) != 3 {
		t.Fatalf("expected close and open in one batch, got %+v", in)
	}
	if in[1].Purpose != types.PurposeExit || in[2].Purpose != types.PurposeEntry || in[2].Side != types.Sell {
		t.Fatalf("close must precede open: %+v", in[1:])
	}

	h.fill(in[1], 1.2000)
	h.fill(in[2], 1.2000)
	pos, _ := h.eng.Position(eurusd)
	if pos.Direction != types.Short || !near(pos.AbsVolume(), 0.1) {
		t.Fatalf("unexpected position after reversal %+v", pos)
	}
}

// With martingale sizing the new leg waits for the losing close.
func TestDeferredReversalScalesAfterLoss(t *testing.T) {
	cfg := noTrailing(config.Default())
	cfg.Martingale = config.Martingale{Enabled: true, Multiplier: 2, MinLossStreak: 1}
	h := newHarness(t, cfg)

	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	h.fill(h.last(), 1.2000)

	h.quote(eurusd, 1.1990, 1.1990)
	h.signal(eurusd, types.Short, 0)
	exit := h.last()
	if exit.Purpose != types.PurposeExit || len(h.exec.Intents()) != 2 {
		t.Fatalf("expected only the close, got %+v", h.exec.Intents())
	}

	h.fill(exit, 1.1990)
	entry := h.last()
	if entry.Purpose != types.PurposeEntry || entry.Side != types.Sell || !near(entry.Volume, 0.2) {
		t.Fatalf("expected doubled short entry after the loss, got %+v", entry)
	}
}

// Three legs floating +40, +10 and +30 against a basket target of 75.
func TestBasketProfitTargetFlattensAll(t *testing.T) {
	cfg := noTrailing(config.Default())
	cfg.Protection.StopLossPips = 0
	cfg.Protection.TakeProfitPips = 0
	cfg.Basket = config.Basket{UseProfitTarget: true, ProfitTarget: 75}
	h := newHarness(t, cfg, unitInstrument("A"), unitInstrument("B"), unitInstrument("C"))

	h.fill(types.OrderIntent{InstrumentID: "A", Side: types.Buy, Volume: 1}, 100)
	h.fill(types.OrderIntent{InstrumentID: "B", Side: types.Sell, Volume: 2}, 50)
	h.fill(types.OrderIntent{InstrumentID: "C", Side: types.Buy, Volume: 3}, 10)

	h.quote("B", 44.99, 45)
	h.quote("C", 20, 20.01)
	if len(h.exec.Intents()) != 0 {
		t.Fatalf("basket below target must not act: %+v", h.exec.Intents())
	}
	h.quote("A", 140, 140.01)

	in := h.exec.Intents()
	if len(in) != 3 {
		t.Fatalf("expected all three legs closed, got %+v", in)
	}
	want := map[string]types.Side{"A": types.Sell, "B": types.Buy, "C": types.Sell}
	for _, o := range in {
		if o.Purpose != types.PurposeExit || o.Side != want[o.InstrumentID] || o.Comment != "basket_profit_target" {
			t.Fatalf("unexpected flatten intent %+v", o)
		}
	}
	if !h.log.HasMessage("warn", "basket_flatten") || len(h.alerts.Messages()) != 1 {
		t.Fatal("flatten must be logged and alerted")
	}
	for _, id := range []string{"A", "B", "C"} {
		if h.eng.GridState(id, types.Long).EntryCount != 0 || h.eng.GridState(id, types.Short).EntryCount != 0 {
			t.Fatalf("grid of %s not reset", id)
		}
	}
}

func TestDuplicateFillIsIgnored(t *testing.T) {
	h := newHarness(t, noTrailing(config.Default()))
	f := FillEvent{types.FillEvent{ID: "x1", InstrumentID: eurusd, Side: types.Buy, Price: 1.2, Volume: 0.1}}
	h.eng.Process(f)
	h.eng.Process(f)
	pos, _ := h.eng.Position(eurusd)
	if !near(pos.AbsVolume(), 0.1) {
		t.Fatalf("duplicate fill changed the position: %+v", pos)
	}
	if !h.log.HasMessage("warn", "duplicate_fill") {
		t.Fatal("duplicate not reported")
	}
}

func TestFillForUnknownInstrumentOpensLeg(t *testing.T) {
	h := newHarness(t, noTrailing(config.Default()))
	h.eng.Process(FillEvent{types.FillEvent{ID: "g1", InstrumentID: "XAUUSD", Side: types.Sell, Price: 2000, Volume: 1}})
	pos, ok := h.eng.Position("XAUUSD")
	if !ok || pos.Direction != types.Short {
		t.Fatalf("expected a fresh short leg, got %+v", pos)
	}
	if !h.log.HasMessage("warn", "unreconciled_fill") || !h.log.HasMessage("warn", "reference_data_missing") {
		t.Fatal("best-effort recovery must be reported")
	}
}

func TestTradingHoursGateEntries(t *testing.T) {
	cfg := config.Default()
	cfg.TradingHours = config.TradingHours{Enabled: true, Start: "08:00", End: "17:00"}
	h := newHarness(t, cfg)
	h.quote(eurusd, 1.2, 1.2)
	h.eng.Process(SignalEvent{InstrumentID: eurusd, Direction: types.Long, Time: time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC)})
	if len(h.exec.Intents()) != 0 {
		t.Fatal("entry outside trading hours")
	}
	h.eng.Process(SignalEvent{InstrumentID: eurusd, Direction: types.Long, Time: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)})
	if len(h.exec.Intents()) != 1 {
		t.Fatal("entry inside trading hours expected")
	}
}

func TestRejectedEntryRollsBackGrid(t *testing.T) {
	h := newHarness(t, config.Default())
	h.quote(eurusd, 1.2, 1.2)
	h.signal(eurusd, types.Long, 0)
	h.eng.Process(RejectEvent{OrderID: h.last().ID, Reason: errors.New("no margin")})
	if st := h.eng.GridState(eurusd, types.Long); st.EntryCount != 0 {
		t.Fatalf("rejected entry still counted: %+v", st)
	}
	h.signal(eurusd, types.Long, 0)
	if got := len(h.exec.Intents()); got != 2 {
		t.Fatalf("a new entry must be allowed after the reject, got %d intents", got)
	}
}

func TestRunProcessesPostedEvents(t *testing.T) {
	h := newHarness(t, config.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.eng.Run(ctx)
		close(done)
	}()

	if err := h.eng.Post(ctx, QuoteEvent{types.Quote{InstrumentID: eurusd, Bid: 1.2, Ask: 1.2}}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := h.eng.Post(ctx, SignalEvent{InstrumentID: eurusd, Direction: types.Short}); err != nil {
		t.Fatalf("post: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for len(h.exec.Intents()) == 0 {
		select {
		case <-deadline:
			t.Fatal("posted signal never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
	if !h.log.HasMessage("info", "engine_stopped") {
		t.Fatal("missing stop log")
	}
}

// End to end with the paper executor delivering fills through the sink.
func TestPaperRoundTrip(t *testing.T) {
	cfg := noTrailing(config.Default())
	cfg.Protection.Resting = true
	reg := instrument.NewRegistry()
	_ = reg.Register(instrument.Instrument{ID: eurusd, PriceStep: 0.0001, Decimals: 4, VolumeStep: 0.01, MinVolume: 0.01})
	paper := executor.NewPaperExecutor(10_000, reg)
	log := testutils.NewMockLogger()
	eng, err := New(cfg, reg, paper, paper, log, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	paper.SetSink(eng)

	q := types.Quote{InstrumentID: eurusd, Bid: 1.2000, Ask: 1.2002}
	paper.Mark(q)
	eng.Process(QuoteEvent{q})
	eng.Process(SignalEvent{InstrumentID: eurusd, Direction: types.Long})

	pos, _ := eng.Position(eurusd)
	if pos.Direction != types.Long || pos.AvgPrice != 1.2002 {
		t.Fatalf("paper entry not reconciled: %+v", pos)
	}
	if paper.Resting() != 2 {
		t.Fatalf("expected resting stop and target, got %d", paper.Resting())
	}

	q = types.Quote{InstrumentID: eurusd, Bid: 1.1950, Ask: 1.1952}
	paper.Mark(q)
	eng.Process(QuoteEvent{q})

	pos, _ = eng.Position(eurusd)
	if !pos.IsFlat() {
		t.Fatalf("resting stop fill not reconciled: %+v", pos)
	}
	if paper.Resting() != 0 {
		t.Fatalf("target must be cancelled once flat, %d resting", paper.Resting())
	}
	if qty, _ := paper.Position(eurusd); qty != 0 {
		t.Fatalf("paper book disagrees: %v", qty)
	}
	if eng.GridState(eurusd, types.Long).LossStreak != 1 {
		t.Fatal("stop-out must count as a loss")
	}
}

func TestRejectedAddRollsBackGrid(t *testing.T) {
	cfg := noTrailing(config.Default())
	cfg.Grid.Enabled = true
	h := newHarness(t, cfg)
	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	h.fill(h.last(), 1.2000)

	h.signal(eurusd, types.Long, 1.1970)
	add := h.last()
	if add.Purpose != types.PurposeAdd {
		t.Fatalf("expected grid add, got %+v", add)
	}
	h.eng.Process(RejectEvent{OrderID: add.ID, Reason: errors.New("no margin")})
	st := h.eng.GridState(eurusd, types.Long)
	if st.EntryCount != 1 || st.LastEntryPrice != 1.2000 {
		t.Fatalf("rejected add still counted: %+v", st)
	}

	h.exec.FailNext(errors.New("venue down"))
	h.signal(eurusd, types.Long, 1.1970)
	if st := h.eng.GridState(eurusd, types.Long); st.EntryCount != 1 || st.LastEntryPrice != 1.2000 {
		t.Fatalf("failed submit still counted: %+v", st)
	}

	h.signal(eurusd, types.Long, 1.1970)
	if h.last().Purpose != types.PurposeAdd || h.last().ID == add.ID {
		t.Fatal("add must be retried after the rollback")
	}
	if st := h.eng.GridState(eurusd, types.Long); st.EntryCount != 2 {
		t.Fatalf("expected 2 entries, got %+v", st)
	}
}

// Both levels inside one bar: the stop is closer to entry and wins.
func TestBarBreachingBothLevelsExitsAtStop(t *testing.T) {
	h := newHarness(t, noTrailing(config.Default()))
	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	h.fill(h.last(), 1.2000)

	h.eng.Process(BarEvent{types.Bar{InstrumentID: eurusd, Open: 1.2000, High: 1.2150, Low: 1.1900, Close: 1.2000}})
	exit := h.last()
	if exit.Purpose != types.PurposeExit || exit.Comment != "stop_hit" {
		t.Fatalf("expected stop exit from the bar, got %+v", exit)
	}
}

type fixedEvaluator types.Direction

func (f fixedEvaluator) OnBar(types.Bar) types.Direction { return types.Direction(f) }

func TestEvaluatorSignalsOnBars(t *testing.T) {
	h := newHarness(t, config.Default())
	if err := h.eng.SetEvaluator("NOPE", fixedEvaluator(types.Long)); err == nil {
		t.Fatal("unknown instrument must be refused")
	}
	if err := h.eng.SetEvaluator(eurusd, fixedEvaluator(types.Short)); err != nil {
		t.Fatalf("set evaluator: %v", err)
	}
	h.eng.Process(BarEvent{types.Bar{InstrumentID: eurusd, Open: 1.2, High: 1.21, Low: 1.19, Close: 1.2}})
	entry := h.last()
	if entry.Purpose != types.PurposeEntry || entry.Side != types.Sell {
		t.Fatalf("expected short entry from the bar signal, got %+v", entry)
	}
}

func unitInstrument(id string) instrument.Instrument {
	return instrument.Instrument{ID: id, PriceStep: 0.01, VolumeStep: 0.01, MinVolume: 0.01}
}

func emergencyConfig() config.Config {
	cfg := noTrailing(config.Default())
	cfg.Protection.StopLossPips = 0
	cfg.Protection.TakeProfitPips = 0
	cfg.Basket = config.Basket{Emergency: true, EmergencyThreshold: 30}
	return cfg
}

func TestEmergencyScalesProfitableLegOnce(t *testing.T) {
	h := newHarness(t, emergencyConfig(), unitInstrument("A"), unitInstrument("B"))
	h.fill(types.OrderIntent{InstrumentID: "A", Side: types.Buy, Volume: 1}, 100)
	h.fill(types.OrderIntent{InstrumentID: "B", Side: types.Sell, Volume: 0.5}, 50)

	h.quote("B", 39.99, 40) // +5
	h.quote("A", 60, 60.01) // -40
	in := h.exec.Intents()
	if len(in) != 1 {
		t.Fatalf("expected one scale-up, got %+v", in)
	}
	s := in[0]
	if s.InstrumentID != "B" || s.Purpose != types.PurposeAdd || s.Side != types.Sell || !near(s.Volume, 0.5) || s.Comment != "basket_emergency" {
		t.Fatalf("unexpected scale-up %+v", s)
	}
	if !h.log.HasMessage("warn", "basket_emergency") || len(h.alerts.Messages()) != 1 {
		t.Fatal("emergency must be logged and alerted")
	}

	h.eng.Process(RejectEvent{OrderID: s.ID, Reason: errors.New("no margin")})
	h.quote("A", 59, 59.01)
	if got := len(h.exec.Intents()); got != 1 {
		t.Fatalf("emergency must fire once until flat, got %d intents", got)
	}
}

func TestEmergencySkipsLegWithPendingOrder(t *testing.T) {
	h := newHarness(t, emergencyConfig(), unitInstrument("A"), unitInstrument("B"))
	h.fill(types.OrderIntent{InstrumentID: "A", Side: types.Buy, Volume: 1}, 100)
	h.fill(types.OrderIntent{InstrumentID: "B", Side: types.Sell, Volume: 0.5}, 50)

	h.quote("B", 39.99, 40)
	h.signal("B", types.Long, 0) // reversal batch stays outstanding
	n := len(h.exec.Intents())
	if n != 2 {
		t.Fatalf("expected the reversal batch, got %+v", h.exec.Intents())
	}

	h.quote("A", 60, 60.01)
	for _, o := range h.exec.Intents()[n:] {
		if o.Purpose == types.PurposeAdd {
			t.Fatalf("scale-up sent despite the pending order: %+v", o)
		}
	}
	if !h.log.HasMessage("warn", "basket_emergency") {
		t.Fatal("emergency decision must still be logged")
	}
}

func TestStaleCancelReissuedByPriceCycles(t *testing.T) {
	cfg := config.Default()
	cfg.Protection.Resting = true
	h := newHarness(t, cfg)
	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	h.fill(h.last(), 1.2000)

	h.quote(eurusd, 1.2020, 1.2020) // trails, cancels the old stop
	h.quote(eurusd, 1.2020, 1.2020) // ages the cancel
	if got := len(h.exec.Cancels()); got != 1 {
		t.Fatalf("cancel reissued too early: %d", got)
	}
	h.quote(eurusd, 1.2020, 1.2020)
	c := h.exec.Cancels()
	if len(c) != 2 || c[0] != c[1] {
		t.Fatalf("expected the same cancel reissued, got %v", c)
	}
	if !h.log.HasMessage("warn", "stale_protective_order") {
		t.Fatal("stale cancel not logged")
	}
	if h.eng.Phase(eurusd) == PhaseProtected {
		t.Fatal("leg must not count as protected while the cancel is unconfirmed")
	}
}

func TestIDLessFlattenReplayIsIgnored(t *testing.T) {
	h := newHarness(t, noTrailing(config.Default()))
	h.quote(eurusd, 1.2000, 1.2000)
	h.signal(eurusd, types.Long, 0)
	entry := h.last()
	h.eng.Process(FillEvent{types.FillEvent{OrderID: entry.ID, InstrumentID: eurusd, Side: types.Buy, Price: 1.2, Volume: 0.1}})

	h.quote(eurusd, 1.1949, 1.1949)
	exit := h.last()
	flat := FillEvent{types.FillEvent{OrderID: exit.ID, InstrumentID: eurusd, Side: types.Sell, Price: 1.1949, Volume: 0.1}}
	h.eng.Process(flat)
	h.eng.Process(flat)

	if pos, _ := h.eng.Position(eurusd); !pos.IsFlat() {
		t.Fatalf("replayed flattening fill opened a leg: %+v", pos)
	}
	if !h.log.HasMessage("warn", "duplicate_fill") {
		t.Fatal("replay not reported")
	}
}

func TestFlushWaitsForPostedEvents(t *testing.T) {
	h := newHarness(t, config.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.eng.Run(ctx)

	_ = h.eng.Post(ctx, QuoteEvent{types.Quote{InstrumentID: eurusd, Bid: 1.2, Ask: 1.2}})
	_ = h.eng.Post(ctx, SignalEvent{InstrumentID: eurusd, Direction: types.Long})
	if err := h.eng.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(h.exec.Intents()) != 1 {
		t.Fatalf("flush returned before the signal was processed: %+v", h.exec.Intents())
	}
}
