package config

import (
	"fmt"
	"time"
)

// ConfigurationError is fatal at startup: the engine refuses to activate
// with a config that fails Validate.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config holds every tunable of the core. Distances are in pips of the
// instrument the leg trades (see instrument.PipSize).
type Config struct {
	Protection   Protection   `mapstructure:"protection"`
	Grid         Grid         `mapstructure:"grid"`
	Martingale   Martingale   `mapstructure:"martingale"`
	Sizing       Sizing       `mapstructure:"sizing"`
	Basket       Basket       `mapstructure:"basket"`
	Signals      Signals      `mapstructure:"signals"`
	TradingHours TradingHours `mapstructure:"trading_hours"`

	Instruments []InstrumentConfig `mapstructure:"instruments"`

	Log      Log      `mapstructure:"log"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Telegram Telegram `mapstructure:"telegram"`
	Engine   Engine   `mapstructure:"engine"`
}

type Protection struct {
	StopLossPips         float64 `mapstructure:"stop_loss_pips"`   // 0 = disabled
	TakeProfitPips       float64 `mapstructure:"take_profit_pips"` // 0 = disabled
	TrailingStopPips     float64 `mapstructure:"trailing_stop_pips"`
	TrailingStepPips     float64 `mapstructure:"trailing_step_pips"`
	BreakEvenTriggerPips float64 `mapstructure:"break_even_trigger_pips"` // 0 = disabled
	BreakEvenBufferPips  float64 `mapstructure:"break_even_buffer_pips"`
	// Resting mirrors the levels as stop/limit orders at the venue instead
	// of closing with market orders when a level is crossed.
	Resting bool `mapstructure:"resting"`
}

type Grid struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxEntries     int     `mapstructure:"max_entries"`
	MinStepPips    float64 `mapstructure:"min_step_pips"`
	Skip3MinPips   float64 `mapstructure:"skip3_min_pips"`
	Skip3MaxPips   float64 `mapstructure:"skip3_max_pips"`
	Skip6MaxPips   float64 `mapstructure:"skip6_max_pips"`
	RequireAdverse bool    `mapstructure:"require_adverse"`
}

// Martingale sizing is off by default.
type Martingale struct {
	Enabled       bool    `mapstructure:"enabled"`
	Multiplier    float64 `mapstructure:"multiplier"`
	MinLossStreak int     `mapstructure:"min_loss_streak"` // default 2
	MaxVolume     float64 `mapstructure:"max_volume"`      // 0 = venue maximum only
}

type Sizing struct {
	// BaseVolume is the fixed lot used for entries and grid adds.
	BaseVolume float64 `mapstructure:"base_volume"`
	// MaxRiskPerTrade sizes the first entry from equity and the stop
	// distance when > 0 (e.g. 0.01 = 1 % of equity). Grid adds keep
	// BaseVolume.
	MaxRiskPerTrade float64 `mapstructure:"max_risk_per_trade"`
}

type Basket struct {
	UseLossLimit       bool    `mapstructure:"use_loss_limit"`
	LossLimit          float64 `mapstructure:"loss_limit"`
	UseProfitTarget    bool    `mapstructure:"use_profit_target"`
	ProfitTarget       float64 `mapstructure:"profit_target"`
	Emergency          bool    `mapstructure:"emergency"`
	EmergencyThreshold float64 `mapstructure:"emergency_threshold"`
}

// Signals decides what an opposite or flat signal does to an open leg.
type Signals struct {
	ReverseOnOpposite bool `mapstructure:"reverse_on_opposite"`
	CloseOnOpposite   bool `mapstructure:"close_on_opposite"`
	CloseOnFlat       bool `mapstructure:"close_on_flat"`
}

// TradingHours gates new exposure. Start/End use "15:04"; a window with
// Start after End wraps over midnight.
type TradingHours struct {
	Enabled bool   `mapstructure:"enabled"`
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
}

type InstrumentConfig struct {
	ID         string  `mapstructure:"id"`
	PriceStep  float64 `mapstructure:"price_step"`
	VolumeStep float64 `mapstructure:"volume_step"`
	MinVolume  float64 `mapstructure:"min_volume"`
	MaxVolume  float64 `mapstructure:"max_volume"`
	Decimals   int     `mapstructure:"decimals"`
	TickValue  float64 `mapstructure:"tick_value"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"` // "" = disabled
}

type Telegram struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type Engine struct {
	InboxSize    int     `mapstructure:"inbox_size"`
	StartEquity  float64 `mapstructure:"start_equity"`
	ReplayFile   string  `mapstructure:"replay_file"`
	SignalFast   int     `mapstructure:"signal_fast"`
	SignalSlow   int     `mapstructure:"signal_slow"`
	SignalSource string  `mapstructure:"signal_source"` // "ma_cross" | "suite" | "breakout"
	SignalMethod string  `mapstructure:"signal_method"` // sma | ema | smma | lwma
	SignalPrice  string  `mapstructure:"signal_price"`  // close | open | high | low | median | typical | weighted
}

// Default returns the settings used when a key is absent from the file.
func Default() Config {
	return Config{
		Protection: Protection{
			StopLossPips:     50,
			TakeProfitPips:   100,
			TrailingStopPips: 15,
			TrailingStepPips: 2,
		},
		Grid: Grid{
			MaxEntries:   8,
			MinStepPips:  20,
			Skip3MinPips: 500,
			Skip3MaxPips: 999,
			Skip6MaxPips: 1500,
		},
		Martingale: Martingale{
			Multiplier:    2,
			MinLossStreak: 2,
		},
		Sizing: Sizing{BaseVolume: 0.1},
		Signals: Signals{
			ReverseOnOpposite: true,
		},
		Log:    Log{Level: "info"},
		Engine: Engine{InboxSize: 1024, StartEquity: 10_000, SignalFast: 9, SignalSlow: 21, SignalSource: "ma_cross", SignalMethod: "sma", SignalPrice: "close"},
	}
}

// Validate checks that all numeric fields are within sensible bounds.
// It returns the first encountered *ConfigurationError.
func (c *Config) Validate() error {
	p := c.Protection
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"protection.stop_loss_pips", p.StopLossPips},
		{"protection.take_profit_pips", p.TakeProfitPips},
		{"protection.trailing_stop_pips", p.TrailingStopPips},
		{"protection.trailing_step_pips", p.TrailingStepPips},
		{"protection.break_even_trigger_pips", p.BreakEvenTriggerPips},
		{"protection.break_even_buffer_pips", p.BreakEvenBufferPips},
	} {
		if f.v < 0 {
			return invalid(f.name, "cannot be negative (%v)", f.v)
		}
	}
	if p.TrailingStepPips > 0 && p.TrailingStopPips <= 0 {
		return invalid("protection.trailing_step_pips", "set without trailing_stop_pips")
	}
	if p.BreakEvenBufferPips > 0 && p.BreakEvenTriggerPips <= 0 {
		return invalid("protection.break_even_buffer_pips", "set without break_even_trigger_pips")
	}
	if p.BreakEvenTriggerPips > 0 && p.BreakEvenBufferPips >= p.BreakEvenTriggerPips {
		return invalid("protection.break_even_buffer_pips", "must be below the trigger")
	}

	if c.Sizing.BaseVolume <= 0 {
		return invalid("sizing.base_volume", "must be positive (%v)", c.Sizing.BaseVolume)
	}
	if c.Sizing.MaxRiskPerTrade < 0 || c.Sizing.MaxRiskPerTrade > 0.5 {
		return invalid("sizing.max_risk_per_trade", "must be >=0 and <=0.5 (%v)", c.Sizing.MaxRiskPerTrade)
	}
	if c.Sizing.MaxRiskPerTrade > 0 && p.StopLossPips <= 0 {
		return invalid("sizing.max_risk_per_trade", "needs protection.stop_loss_pips")
	}

	if g := c.Grid; g.Enabled {
		if g.MaxEntries <= 0 {
			return invalid("grid.max_entries", "must be positive (%d)", g.MaxEntries)
		}
		if g.MinStepPips < 0 {
			return invalid("grid.min_step_pips", "cannot be negative")
		}
		if g.Skip3MinPips < 0 || g.Skip3MaxPips < g.Skip3MinPips || g.Skip6MaxPips < 0 ||
			(g.Skip6MaxPips != 0 && g.Skip6MaxPips < g.Skip3MaxPips) {
			return invalid("grid.skip_bands", "must satisfy 0 <= skip3_min <= skip3_max <= skip6_max (skip6_max 0 = open)")
		}
	}

	if m := c.Martingale; m.Enabled {
		if m.Multiplier < 1 {
			return invalid("martingale.multiplier", "must be >= 1 (%v)", m.Multiplier)
		}
		if m.MinLossStreak < 1 {
			return invalid("martingale.min_loss_streak", "must be >= 1 (%d)", m.MinLossStreak)
		}
		if m.MaxVolume < 0 {
			return invalid("martingale.max_volume", "cannot be negative")
		}
	}

	b := c.Basket
	if b.UseLossLimit && b.LossLimit <= 0 {
		return invalid("basket.loss_limit", "must be positive when enabled")
	}
	if b.UseProfitTarget && b.ProfitTarget <= 0 {
		return invalid("basket.profit_target", "must be positive when enabled")
	}
	if b.Emergency && b.EmergencyThreshold <= 0 {
		return invalid("basket.emergency_threshold", "must be positive when enabled")
	}

	switch c.Engine.SignalSource {
	case "", "ma_cross", "suite", "breakout":
	default:
		return invalid("engine.signal_source", "unknown source %q", c.Engine.SignalSource)
	}
	if (c.Engine.SignalSource == "" || c.Engine.SignalSource == "ma_cross") && c.Engine.SignalFast >= c.Engine.SignalSlow {
		return invalid("engine.signal_fast", "must be below signal_slow (%d >= %d)", c.Engine.SignalFast, c.Engine.SignalSlow)
	}

	if c.Signals.ReverseOnOpposite && c.Signals.CloseOnOpposite {
		return invalid("signals", "reverse_on_opposite and close_on_opposite are exclusive")
	}

	if c.TradingHours.Enabled {
		if _, _, err := c.TradingHours.window(); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.ID == "" {
			return invalid("instruments.id", "cannot be empty")
		}
		if seen[inst.ID] {
			return invalid("instruments.id", "duplicate %q", inst.ID)
		}
		seen[inst.ID] = true
		if inst.PriceStep < 0 || inst.VolumeStep < 0 {
			return invalid("instruments."+inst.ID, "steps cannot be negative")
		}
		if inst.MaxVolume > 0 && inst.MaxVolume < inst.MinVolume {
			return invalid("instruments."+inst.ID, "max_volume below min_volume")
		}
	}
	return nil
}

func (h TradingHours) window() (start, end time.Duration, err error) {
	s, err := time.Parse("15:04", h.Start)
	if err != nil {
		return 0, 0, invalid("trading_hours.start", "unparsable %q", h.Start)
	}
	e, err := time.Parse("15:04", h.End)
	if err != nil {
		return 0, 0, invalid("trading_hours.end", "unparsable %q", h.End)
	}
	start = time.Duration(s.Hour())*time.Hour + time.Duration(s.Minute())*time.Minute
	end = time.Duration(e.Hour())*time.Hour + time.Duration(e.Minute())*time.Minute
	if start == end {
		return 0, 0, invalid("trading_hours", "start equals end (%s)", h.Start)
	}
	return start, end, nil
}

// Allows reports whether new exposure may be opened at t. A disabled or
// invalid window allows everything; Validate rejects invalid windows
// before activation.
func (h TradingHours) Allows(t time.Time) bool {
	if !h.Enabled {
		return true
	}
	start, end, err := h.window()
	if err != nil {
		return true
	}
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	if start < end {
		return tod >= start && tod < end
	}
	return tod >= start || tod < end
}
