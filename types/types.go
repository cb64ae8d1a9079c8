package types

import "time"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes exposure opened by s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is the sign of a net exposure. It doubles as the discrete
// signal handed to the core by a signal evaluator.
type Direction int

const (
	Flat  Direction = 0
	Long  Direction = 1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Sign returns +1, -1 or 0 as a float for P&L arithmetic.
func (d Direction) Sign() float64 { return float64(d) }

func (d Direction) Opposite() Direction { return -d }

// EntrySide is the order side that opens (or adds to) exposure in d.
func (d Direction) EntrySide() Side {
	if d == Short {
		return Sell
	}
	return Buy
}

// ExitSide is the order side that reduces exposure in d.
func (d Direction) ExitSide() Side { return d.EntrySide().Opposite() }

// DirectionOf maps a signed volume to its direction.
func DirectionOf(signedVolume float64) Direction {
	switch {
	case signedVolume > 0:
		return Long
	case signedVolume < 0:
		return Short
	default:
		return Flat
	}
}

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	Stop   OrderType = "STOP"
)

// Purpose tags an intent with the reason it exists.
type Purpose string

const (
	PurposeEntry      Purpose = "entry"
	PurposeAdd        Purpose = "add"
	PurposeExit       Purpose = "exit"
	PurposeStopLoss   Purpose = "stop_loss"
	PurposeTakeProfit Purpose = "take_profit"
)

// Protective reports whether the intent is a resting protective order.
func (p Purpose) Protective() bool {
	return p == PurposeStopLoss || p == PurposeTakeProfit
}

// OrderIntent is what the core hands to the execution layer.
type OrderIntent struct {
	ID           string
	InstrumentID string
	Side         Side
	Type         OrderType
	Price        float64 // limit/stop price; 0 = market
	Volume       float64
	Purpose      Purpose
	// meta
	Comment string
}

// FillEvent is produced by the execution layer and consumed once.
type FillEvent struct {
	ID           string // execution id
	OrderID      string
	InstrumentID string
	Side         Side
	Price        float64
	Volume       float64
	Timestamp    time.Time
}

// Signed returns the fill volume signed by side.
func (f FillEvent) Signed() float64 {
	if f.Side == Sell {
		return -f.Volume
	}
	return f.Volume
}

// Quote is a best bid/ask update for one instrument.
type Quote struct {
	InstrumentID string
	Bid          float64
	Ask          float64
	Time         time.Time
}

// Bar is a closed OHLC candle for one instrument.
type Bar struct {
	InstrumentID string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Time         time.Time
}
