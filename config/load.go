package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "GOGUARD"

// Load reads a YAML config file (if path is not empty), applies GOGUARD_*
// environment overrides on top of Default, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every scalar of d so AutomaticEnv can override
// keys that are missing from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("protection.stop_loss_pips", d.Protection.StopLossPips)
	v.SetDefault("protection.take_profit_pips", d.Protection.TakeProfitPips)
	v.SetDefault("protection.trailing_stop_pips", d.Protection.TrailingStopPips)
	v.SetDefault("protection.trailing_step_pips", d.Protection.TrailingStepPips)
	v.SetDefault("protection.break_even_trigger_pips", d.Protection.BreakEvenTriggerPips)
	v.SetDefault("protection.break_even_buffer_pips", d.Protection.BreakEvenBufferPips)
	v.SetDefault("protection.resting", d.Protection.Resting)

	v.SetDefault("grid.enabled", d.Grid.Enabled)
	v.SetDefault("grid.max_entries", d.Grid.MaxEntries)
	v.SetDefault("grid.min_step_pips", d.Grid.MinStepPips)
	v.SetDefault("grid.skip3_min_pips", d.Grid.Skip3MinPips)
	v.SetDefault("grid.skip3_max_pips", d.Grid.Skip3MaxPips)
	v.SetDefault("grid.skip6_max_pips", d.Grid.Skip6MaxPips)
	v.SetDefault("grid.require_adverse", d.Grid.RequireAdverse)

	v.SetDefault("martingale.enabled", d.Martingale.Enabled)
	v.SetDefault("martingale.multiplier", d.Martingale.Multiplier)
	v.SetDefault("martingale.min_loss_streak", d.Martingale.MinLossStreak)
	v.SetDefault("martingale.max_volume", d.Martingale.MaxVolume)

	v.SetDefault("sizing.base_volume", d.Sizing.BaseVolume)
	v.SetDefault("sizing.max_risk_per_trade", d.Sizing.MaxRiskPerTrade)

	v.SetDefault("basket.use_loss_limit", d.Basket.UseLossLimit)
	v.SetDefault("basket.loss_limit", d.Basket.LossLimit)
	v.SetDefault("basket.use_profit_target", d.Basket.UseProfitTarget)
	v.SetDefault("basket.profit_target", d.Basket.ProfitTarget)
	v.SetDefault("basket.emergency", d.Basket.Emergency)
	v.SetDefault("basket.emergency_threshold", d.Basket.EmergencyThreshold)

	v.SetDefault("signals.reverse_on_opposite", d.Signals.ReverseOnOpposite)
	v.SetDefault("signals.close_on_opposite", d.Signals.CloseOnOpposite)
	v.SetDefault("signals.close_on_flat", d.Signals.CloseOnFlat)

	v.SetDefault("trading_hours.enabled", d.TradingHours.Enabled)
	v.SetDefault("trading_hours.start", d.TradingHours.Start)
	v.SetDefault("trading_hours.end", d.TradingHours.End)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("telegram.token", d.Telegram.Token)
	v.SetDefault("telegram.chat_id", d.Telegram.ChatID)

	v.SetDefault("engine.inbox_size", d.Engine.InboxSize)
	v.SetDefault("engine.start_equity", d.Engine.StartEquity)
	v.SetDefault("engine.replay_file", d.Engine.ReplayFile)
	v.SetDefault("engine.signal_fast", d.Engine.SignalFast)
	v.SetDefault("engine.signal_slow", d.Engine.SignalSlow)
	v.SetDefault("engine.signal_source", d.Engine.SignalSource)
	v.SetDefault("engine.signal_method", d.Engine.SignalMethod)
	v.SetDefault("engine.signal_price", d.Engine.SignalPrice)
}
