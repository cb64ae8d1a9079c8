// Package engine runs the single-consumer event loop that ties the ledger,
// protective levels, grid planner, dispatcher and basket guard together.
//
// Every event is processed to completion before the next one is admitted.
// Execution reports produced while an event is processed are queued and
// handled right after it, through the same code path as external events.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/evdnx/goguard/basket"
	"github.com/evdnx/goguard/config"
	"github.com/evdnx/goguard/dispatch"
	"github.com/evdnx/goguard/executor"
	"github.com/evdnx/goguard/grid"
	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/ledger"
	"github.com/evdnx/goguard/logger"
	"github.com/evdnx/goguard/metrics"
	"github.com/evdnx/goguard/notify"
	"github.com/evdnx/goguard/protect"
	"github.com/evdnx/goguard/risk"
	"github.com/evdnx/goguard/signal"
	"github.com/evdnx/goguard/types"
)

var ErrUnknownInstrument = errors.New("engine: unknown instrument")

// Phase is the life-cycle stage of one instrument's leg.
type Phase int

const (
	PhaseFlat Phase = iota
	PhaseOpen
	PhaseProtected
	PhaseAdding
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseProtected:
		return "protected"
	case PhaseAdding:
		return "adding"
	case PhaseClosing:
		return "closing"
	default:
		return "flat"
	}
}

// legState is the per-instrument record every component call works on.
type legState struct {
	inst    instrument.Instrument
	levels  *protect.Engine
	planner *grid.Planner
	eval    signal.Evaluator

	bid, ask float64
	// pending is the planner state to restore if the unfilled entry or add
	// is rejected.
	pending *pendingEntry
	// flattenedBy is the last fill that closed the leg to flat. An id-less
	// copy of it arriving while still flat is a replay, not a new leg.
	flattenedBy *types.FillEvent
	// reverseTo is the direction to open once the closing fill of a
	// deferred reversal arrives.
	reverseTo types.Direction
}

type pendingEntry struct {
	dir  types.Direction
	prev grid.GridState
}

// rollback restores the planner to its state before the pending entry.
func (l *legState) rollback() {
	if l.pending != nil {
		l.planner.Undo(l.pending.dir, l.pending.prev)
		l.pending = nil
	}
}

func (l *legState) replayOfFlatten(f types.FillEvent) bool {
	c := l.flattenedBy
	return c != nil && f.ID == "" && f.Side == c.Side && f.Volume == c.Volume && f.Price == c.Price
}

// exitMark is the price a leg in dir would close at.
func (l *legState) exitMark(dir types.Direction) float64 {
	if dir == types.Short && l.ask > 0 {
		return l.ask
	}
	if l.bid > 0 {
		return l.bid
	}
	return l.ask
}

// entryMark is the price a new leg in dir would open at.
func (l *legState) entryMark(dir types.Direction) float64 {
	return l.exitMark(dir.Opposite())
}

type Engine struct {
	cfg    config.Config
	reg    *instrument.Registry
	ledger *ledger.Ledger
	disp   *dispatch.Dispatcher
	guard  *basket.Guard
	acct   executor.Account
	log    logger.Logger
	alerts notify.Notifier

	legs  map[string]*legState
	inbox chan Event
	wake  chan struct{}
	now   func() time.Time

	mu       sync.Mutex
	deferred []Event
}

// New validates cfg and builds an engine tracking every instrument in reg.
// A *config.ConfigurationError refuses activation.
func New(cfg config.Config, reg *instrument.Registry, exec executor.Executor, acct executor.Account,
	log logger.Logger, alerts notify.Notifier) (*Engine, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = notify.NewLogNotifier(log)
	}
	size := cfg.Engine.InboxSize
	if size <= 0 {
		size = 1024
	}
	e := &Engine{
		cfg:    cfg,
		reg:    reg,
		ledger: ledger.New(),
		disp:   dispatch.New(exec, log),
		guard:  basket.NewGuard(cfg.Basket),
		acct:   acct,
		log:    log,
		alerts: alerts,
		legs:   make(map[string]*legState),
		inbox:  make(chan Event, size),
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
	for _, id := range reg.IDs() {
		inst, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		e.addLeg(inst)
	}
	return e, nil
}

func (e *Engine) addLeg(inst instrument.Instrument) *legState {
	l := &legState{
		inst:    inst,
		levels:  protect.NewEngine(e.cfg.Protection, inst),
		planner: grid.NewPlanner(e.cfg.Grid, e.cfg.Martingale, e.cfg.Sizing, inst),
	}
	e.legs[inst.ID] = l
	e.ledger.Track(inst.ID)
	return l
}

// adopt returns the leg of an instrument, registering instruments the
// reference data does not know with 1-unit defaults.
func (e *Engine) adopt(id string) *legState {
	if l, ok := e.legs[id]; ok {
		return l
	}
	inst, err := e.reg.Get(id)
	if err != nil {
		if werr := e.reg.Register(instrument.Instrument{ID: id}); werr != nil {
			e.log.Warn("reference_data_missing", logger.String("instrument", id), logger.Err(werr))
		}
		inst, _ = e.reg.Get(id)
	}
	return e.addLeg(inst)
}

// SetEvaluator attaches a bar evaluator whose signal is acted on for every
// BarEvent of the instrument.
func (e *Engine) SetEvaluator(instrumentID string, ev signal.Evaluator) error {
	l, ok := e.legs[instrumentID]
	if !ok {
		return errors.Wrap(ErrUnknownInstrument, instrumentID)
	}
	l.eval = ev
	return nil
}

// OnFill, OnCancelConfirmed and OnReject make the engine an executor.Sink.
func (e *Engine) OnFill(f types.FillEvent) { e.Deliver(FillEvent{f}) }

func (e *Engine) OnCancelConfirmed(orderID string) { e.Deliver(CancelConfirmedEvent{OrderID: orderID}) }

func (e *Engine) OnReject(orderID string, reason error) {
	e.Deliver(RejectEvent{OrderID: orderID, Reason: reason})
}

// Deliver queues an execution report without blocking. It is safe to call
// from inside Process.
func (e *Engine) Deliver(ev Event) {
	e.mu.Lock()
	e.deferred = append(e.deferred, ev)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Post enqueues ev for Run, blocking while the inbox is full.
func (e *Engine) Post(ctx context.Context, ev Event) error {
	select {
	case e.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the event loop. It must run in a single goroutine and returns
// when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	started := e.now()
	e.log.Info("engine_started", logger.Int("instruments", len(e.legs)))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine_stopped", logger.Duration("uptime", e.now().Sub(started)))
			return
		case ev := <-e.inbox:
			e.Process(ev)
		case <-e.wake:
			e.drain()
		}
	}
}

// Process handles ev and every report it triggers. It must not be called
// concurrently with itself or Run.
func (e *Engine) Process(ev Event) {
	e.cycle(ev)
	e.drain()
	if b, ok := ev.(barrier); ok {
		close(b.done)
	}
}

// Flush blocks until every event posted before it, and every report those
// events triggered, has been processed by Run.
func (e *Engine) Flush(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}
	if err := e.Post(ctx, b); err != nil {
		return err
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) drain() {
	for {
		e.mu.Lock()
		batch := e.deferred
		e.deferred = nil
		e.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			e.cycle(ev)
		}
	}
}

func (e *Engine) cycle(ev Event) {
	switch ev := ev.(type) {
	case QuoteEvent:
		l, ok := e.known(ev.InstrumentID)
		if !ok {
			return
		}
		l.bid, l.ask = ev.Bid, ev.Ask
		e.disp.Tick()
		snap := e.snapshot()
		e.onQuote(l, ev.Quote)
		e.guardBasket(snap)

	case BarEvent:
		l, ok := e.known(ev.InstrumentID)
		if !ok {
			return
		}
		l.bid, l.ask = ev.Close, ev.Close
		e.disp.Tick()
		snap := e.snapshot()
		e.onBar(l, ev.Bar)
		e.guardBasket(snap)

	case SignalEvent:
		l, ok := e.known(ev.InstrumentID)
		if !ok {
			return
		}
		e.onSignal(l, ev.Direction, ev.Price, ev.Time)

	case FillEvent:
		e.applyFill(ev.FillEvent)

	case CancelConfirmedEvent:
		if _, err := e.disp.OnCancelConfirmed(ev.OrderID); err != nil {
			e.log.Error("protective_release_failed", logger.String("order_id", ev.OrderID), logger.Err(err))
		}

	case RejectEvent:
		e.onReject(ev)
	}
}

func (e *Engine) known(id string) (*legState, bool) {
	l, ok := e.legs[id]
	if !ok {
		e.log.Warn("unknown_instrument", logger.String("instrument", id))
	}
	return l, ok
}

// snapshot captures every open leg at its exit mark before the cycle acts.
func (e *Engine) snapshot() []basket.Leg {
	open := e.ledger.Open()
	legs := make([]basket.Leg, 0, len(open))
	for _, p := range open {
		l, ok := e.legs[p.InstrumentID]
		if !ok {
			continue
		}
		legs = append(legs, basket.Leg{Position: p, Instrument: l.inst, Mark: l.exitMark(p.Direction)})
	}
	return legs
}

func (e *Engine) onQuote(l *legState, q types.Quote) {
	pos, _ := e.ledger.Position(l.inst.ID)
	if pos.IsFlat() {
		return
	}
	e.onOutcome(l, pos, l.levels.OnPriceUpdate(q.Bid, q.Ask))
}

func (e *Engine) onBar(l *legState, b types.Bar) {
	pos, _ := e.ledger.Position(l.inst.ID)
	if !pos.IsFlat() {
		e.onOutcome(l, pos, l.levels.OnBar(b.High, b.Low))
	}
	if l.eval != nil {
		e.onSignal(l, l.eval.OnBar(b), b.Close, b.Time)
	}
}

func (e *Engine) onOutcome(l *legState, pos ledger.Position, out protect.Outcome) {
	switch out {
	case protect.TrailingUpdated:
		lv := l.levels.Levels()
		e.log.Info("stop_moved",
			logger.String("instrument", l.inst.ID),
			logger.Float64("stop", lv.Stop),
			logger.Bool("break_even", lv.BreakEvenArmed),
		)
		e.syncProtection(l, pos)

	case protect.StopHit, protect.TakeProfitHit:
		if e.cfg.Protection.Resting {
			// The resting order executes at the venue.
			return
		}
		lv := l.levels.Levels()
		e.log.Info("protective_exit",
			logger.String("instrument", l.inst.ID),
			logger.String("reason", out.String()),
			logger.Float64("stop", lv.Stop),
			logger.Float64("take_profit", lv.TakeProfit),
		)
		l.reverseTo = types.Flat
		e.closeLeg(l, pos, out.String())
	}
}

func (e *Engine) syncProtection(l *legState, pos ledger.Position) {
	if !e.cfg.Protection.Resting {
		return
	}
	if err := e.disp.SyncProtection(l.inst.ID, pos.Direction, pos.AbsVolume(), l.levels.Levels()); err != nil {
		e.log.Error("protection_sync_failed", logger.String("instrument", l.inst.ID), logger.Err(err))
	}
}

func (e *Engine) onSignal(l *legState, dir types.Direction, price float64, t time.Time) {
	if t.IsZero() {
		t = e.now()
	}
	if price <= 0 {
		price = l.entryMark(dir)
	}
	pos, _ := e.ledger.Position(l.inst.ID)
	switch {
	case pos.IsFlat():
		if dir != types.Flat {
			e.open(l, dir, price, t)
		}
	case dir == types.Flat:
		if e.cfg.Signals.CloseOnFlat {
			e.closeLeg(l, pos, "signal_flat")
		}
	case dir == pos.Direction:
		e.add(l, pos, price, t)
	case e.cfg.Signals.ReverseOnOpposite:
		e.reverse(l, pos, dir, price, t)
	case e.cfg.Signals.CloseOnOpposite:
		e.closeLeg(l, pos, "signal_opposite")
	}
}

func (e *Engine) open(l *legState, dir types.Direction, price float64, t time.Time) {
	id := l.inst.ID
	if !e.cfg.TradingHours.Allows(t) {
		e.log.Info("outside_trading_hours", logger.String("instrument", id), logger.String("direction", dir.String()))
		return
	}
	if e.disp.HasPending(id) {
		return
	}
	vol, prev, ok := e.plan(l, dir, price)
	if !ok {
		return
	}
	if err := e.disp.Add(id, dir, vol, true, "entry"); err != nil {
		l.planner.Undo(dir, prev)
		return
	}
	l.pending = &pendingEntry{dir: dir, prev: prev}
}

func (e *Engine) add(l *legState, pos ledger.Position, price float64, t time.Time) {
	id := l.inst.ID
	if !e.cfg.TradingHours.Allows(t) {
		return
	}
	if e.disp.ProtectionPending(id) || e.disp.HasPending(id) {
		return
	}
	vol, prev, ok := e.plan(l, pos.Direction, price)
	if !ok {
		return
	}
	if err := e.disp.Add(id, pos.Direction, vol, false, "grid_add"); err != nil {
		l.planner.Undo(pos.Direction, prev)
		e.syncProtection(l, pos)
		return
	}
	l.pending = &pendingEntry{dir: pos.Direction, prev: prev}
}

// reverse closes pos and opens dir. With martingale sizing the entry waits
// for the closing fill, whose P&L decides the next volume.
func (e *Engine) reverse(l *legState, pos ledger.Position, dir types.Direction, price float64, t time.Time) {
	id := l.inst.ID
	if e.disp.HasPending(id) {
		return
	}
	if !e.cfg.TradingHours.Allows(t) {
		e.closeLeg(l, pos, "signal_opposite")
		return
	}
	if e.cfg.Martingale.Enabled {
		l.reverseTo = dir
		e.closeLeg(l, pos, "reverse")
		return
	}
	vol, prev, ok := e.plan(l, dir, price)
	if !ok {
		e.closeLeg(l, pos, "signal_opposite")
		return
	}
	batch := e.disp.Plan(pos, dir, vol)
	for i := range batch {
		batch[i].Comment = "reverse"
	}
	metrics.Exits.WithLabelValues("reverse").Inc()
	if err := e.disp.Submit(batch); err != nil {
		l.planner.Undo(dir, prev)
		return
	}
	l.pending = &pendingEntry{dir: dir, prev: prev}
}

func (e *Engine) closeLeg(l *legState, pos ledger.Position, reason string) {
	if pos.IsFlat() || e.disp.HasPendingClose(l.inst.ID) {
		return
	}
	metrics.Exits.WithLabelValues(reason).Inc()
	if err := e.disp.Close(pos, reason); err != nil {
		l.reverseTo = types.Flat
	}
}

// plan asks the grid planner for the next entry in dir and applies the
// per-trade risk cap to first entries. prev is the planner state before the
// decision, for rolling back an entry that cannot be placed.
func (e *Engine) plan(l *legState, dir types.Direction, price float64) (float64, grid.GridState, bool) {
	prev := l.planner.State(dir)
	d := l.planner.Evaluate(price, dir)
	metrics.GridDecisions.WithLabelValues(string(d.Reason)).Inc()
	if !d.Accept {
		if d.Reason == grid.ReasonSkipBand {
			e.log.Info("grid_add_skipped",
				logger.String("instrument", l.inst.ID),
				logger.Int("missed", d.Missed),
				logger.Int("required", d.RequiredMisses),
			)
		}
		return 0, prev, false
	}
	vol := d.Volume
	if d.EntryIndex == 1 && e.cfg.Sizing.MaxRiskPerTrade > 0 {
		stopDist := l.inst.Pips(e.cfg.Protection.StopLossPips)
		capped := risk.CalcQty(e.acct.Equity(), e.cfg.Sizing.MaxRiskPerTrade, stopDist, l.inst)
		if capped <= 0 {
			e.log.Warn("risk_sizing_zero", logger.String("instrument", l.inst.ID))
			l.planner.Undo(dir, prev)
			return 0, prev, false
		}
		vol = math.Min(vol, capped)
	}
	e.log.Info("grid_entry_accepted",
		logger.String("instrument", l.inst.ID),
		logger.String("direction", dir.String()),
		logger.Int("entry", d.EntryIndex),
		logger.Float64("volume", vol),
		logger.Int("loss_streak", l.planner.LossStreak()),
	)
	return vol, prev, true
}

func (e *Engine) applyFill(f types.FillEvent) {
	intent, known := e.disp.OnFill(f)
	if l, ok := e.legs[f.InstrumentID]; ok && !known && l.replayOfFlatten(f) {
		e.log.Warn("duplicate_fill",
			logger.String("instrument", f.InstrumentID),
			logger.String("order_id", f.OrderID),
		)
		return
	}
	res, err := e.ledger.ApplyFill(f)
	if errors.Is(err, ledger.ErrUnknownInstrument) {
		e.log.Warn("unreconciled_fill",
			logger.String("instrument", f.InstrumentID),
			logger.String("fill_id", f.ID),
			logger.Err(err),
		)
		e.adopt(f.InstrumentID)
		res, err = e.ledger.ApplyFill(f)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrUnreconciledFill) {
			e.log.Warn("duplicate_fill", logger.String("fill_id", f.ID), logger.Err(err))
			return
		}
		e.log.Error("fill_rejected", logger.String("fill_id", f.ID), logger.Err(err))
		return
	}
	if !known {
		e.log.Warn("unreconciled_fill",
			logger.String("instrument", f.InstrumentID),
			logger.String("order_id", f.OrderID),
		)
	}
	metrics.FillsApplied.WithLabelValues(f.InstrumentID).Inc()

	l := e.adopt(f.InstrumentID)
	pos := res.Position
	l.flattenedBy = nil
	if known && (intent.Purpose == types.PurposeEntry || intent.Purpose == types.PurposeAdd) {
		l.pending = nil
	}
	e.log.Info("fill_applied",
		logger.String("instrument", f.InstrumentID),
		logger.String("side", string(f.Side)),
		logger.Float64("price", f.Price),
		logger.Float64("volume", f.Volume),
		logger.String("purpose", string(intent.Purpose)),
		logger.Float64("position", pos.SignedVolume),
		logger.Float64("avg_price", pos.AvgPrice),
	)

	for _, c := range res.Closes {
		if !c.Full {
			continue
		}
		l.planner.OnLegClosed(c.Direction, c.LegPnL)
		l.levels.Reset()
		e.log.Info("leg_closed",
			logger.String("instrument", c.InstrumentID),
			logger.String("direction", c.Direction.String()),
			logger.Float64("entry", c.EntryPrice),
			logger.Float64("exit", c.ExitPrice),
			logger.Float64("pnl", l.inst.Money(c.LegPnL, 1)),
			logger.Int("loss_streak", l.planner.LossStreak()),
		)
	}

	switch {
	case pos.IsFlat():
		if f.ID == "" {
			flat := f
			l.flattenedBy = &flat
		}
		e.disp.CancelAll(l.inst.ID)
		if dir := l.reverseTo; dir != types.Flat {
			l.reverseTo = types.Flat
			price := l.entryMark(dir)
			if price <= 0 {
				price = f.Price
			}
			e.open(l, dir, price, f.Timestamp)
		}
	case res.Opened || res.Added:
		l.levels.Arm(pos.Direction, pos.AvgPrice)
		if res.Opened && l.planner.State(pos.Direction).EntryCount == 0 {
			// Exposure the planner did not originate.
			l.planner.Restore(pos.Direction, grid.GridState{
				FirstEntryPrice: f.Price,
				LastEntryPrice:  f.Price,
				EntryCount:      1,
				LossStreak:      l.planner.LossStreak(),
			})
		}
		e.syncProtection(l, pos)
	default:
		e.syncProtection(l, pos)
	}
}

func (e *Engine) onReject(ev RejectEvent) {
	intent, ok := e.disp.OnReject(ev.OrderID)
	e.log.Warn("intent_rejected",
		logger.String("order_id", ev.OrderID),
		logger.String("purpose", string(intent.Purpose)),
		logger.Err(ev.Reason),
	)
	if !ok {
		return
	}
	l, ok := e.legs[intent.InstrumentID]
	if !ok {
		return
	}
	pos, _ := e.ledger.Position(intent.InstrumentID)
	switch {
	case intent.Purpose == types.PurposeEntry || intent.Purpose == types.PurposeAdd:
		l.rollback()
		if !pos.IsFlat() {
			e.syncProtection(l, pos)
		}
	case intent.Purpose == types.PurposeExit:
		l.reverseTo = types.Flat
	case intent.Purpose.Protective() && !pos.IsFlat():
		e.syncProtection(l, pos)
	}
}

func (e *Engine) guardBasket(legs []basket.Leg) {
	equity := e.acct.Equity()
	d := e.guard.Evaluate(legs, equity)
	metrics.PositionsOpen.Set(float64(d.Snapshot.OpenLegs))
	metrics.FloatingPnL.Set(d.Snapshot.AggregateFloatingPnL)
	metrics.EquityGauge.Set(equity)

	switch d.Action {
	case basket.Flatten:
		e.flatten(d)
	case basket.Emergency:
		e.emergency(d)
	}
}

// flatten cancels every protective order, closes every open leg and clears
// every grid.
func (e *Engine) flatten(d basket.Decision) {
	closed := 0
	for id, l := range e.legs {
		e.disp.CancelAll(id)
		l.planner.Reset()
		l.pending = nil
		l.reverseTo = types.Flat
		pos, _ := e.ledger.Position(id)
		if pos.IsFlat() || e.disp.HasPendingClose(id) {
			continue
		}
		if err := e.disp.Close(pos, "basket_"+d.Reason); err == nil {
			metrics.Exits.WithLabelValues("basket").Inc()
			closed++
		}
	}
	if closed == 0 {
		return
	}
	metrics.BasketActions.WithLabelValues(d.Action.String()).Inc()
	e.log.Warn("basket_flatten",
		logger.String("reason", d.Reason),
		logger.Float64("floating_pnl", d.Snapshot.AggregateFloatingPnL),
		logger.Int("legs", closed),
	)
	e.alerts.Sendf("basket flatten (%s): floating %.2f, %d legs closed", d.Reason, d.Snapshot.AggregateFloatingPnL, closed)
}

func (e *Engine) emergency(d basket.Decision) {
	for _, s := range d.ScaleUps {
		if e.disp.HasPending(s.InstrumentID) {
			continue
		}
		_ = e.disp.Add(s.InstrumentID, s.Direction, s.Volume, false, "basket_emergency")
	}
	metrics.BasketActions.WithLabelValues(d.Action.String()).Inc()
	e.log.Warn("basket_emergency",
		logger.Float64("floating_pnl", d.Snapshot.AggregateFloatingPnL),
		logger.Int("scale_ups", len(d.ScaleUps)),
	)
	e.alerts.Sendf("basket emergency: floating %.2f, scaling %d profitable legs", d.Snapshot.AggregateFloatingPnL, len(d.ScaleUps))
}

// Position returns the ledger position of an instrument.
func (e *Engine) Position(instrumentID string) (ledger.Position, bool) {
	return e.ledger.Position(instrumentID)
}

// Levels returns the protective levels of an instrument's leg.
func (e *Engine) Levels(instrumentID string) protect.Levels {
	if l, ok := e.legs[instrumentID]; ok {
		return l.levels.Levels()
	}
	return protect.Levels{}
}

// GridState returns the planner state of one direction.
func (e *Engine) GridState(instrumentID string, dir types.Direction) grid.GridState {
	if l, ok := e.legs[instrumentID]; ok {
		return l.planner.State(dir)
	}
	return grid.GridState{}
}

// Phase derives the leg's life-cycle stage from ledger and dispatcher state.
func (e *Engine) Phase(instrumentID string) Phase {
	pos, ok := e.ledger.Position(instrumentID)
	switch {
	case !ok || pos.IsFlat():
		return PhaseFlat
	case e.disp.HasPendingClose(instrumentID):
		return PhaseClosing
	case e.disp.HasPending(instrumentID):
		return PhaseAdding
	}
	lv := e.Levels(instrumentID)
	if (lv.Stop > 0 || lv.TakeProfit > 0) && !e.disp.ProtectionPending(instrumentID) {
		return PhaseProtected
	}
	return PhaseOpen
}
