// Command guardbot runs the trading core against the paper executor,
// driven by a recorded bar file.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/evdnx/goguard/config"
	"github.com/evdnx/goguard/engine"
	"github.com/evdnx/goguard/executor"
	"github.com/evdnx/goguard/feed"
	"github.com/evdnx/goguard/instrument"
	"github.com/evdnx/goguard/logger"
	"github.com/evdnx/goguard/notify"
	"github.com/evdnx/goguard/signal"
)

func main() {
	path := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() (*config.Config, error) { return config.Load(*path) },
			newLogger,
			newRegistry,
			newPaper,
			newNotifier,
			newEngine,
		),
		fx.Invoke(runMetrics, runEngine),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	return logger.NewZapLogger(cfg.Log.Level)
}

func newRegistry(cfg *config.Config, log logger.Logger) *instrument.Registry {
	reg := instrument.NewRegistry()
	for _, ic := range cfg.Instruments {
		err := reg.Register(instrument.Instrument{
			ID:         ic.ID,
			PriceStep:  ic.PriceStep,
			VolumeStep: ic.VolumeStep,
			MinVolume:  ic.MinVolume,
			MaxVolume:  ic.MaxVolume,
			Decimals:   ic.Decimals,
			TickValue:  ic.TickValue,
		})
		if err != nil {
			log.Warn("reference_data_missing", logger.String("instrument", ic.ID), logger.Err(err))
		}
	}
	return reg
}

func newPaper(cfg *config.Config, reg *instrument.Registry) *executor.PaperExecutor {
	return executor.NewPaperExecutor(cfg.Engine.StartEquity, reg)
}

func newNotifier(cfg *config.Config, log logger.Logger) notify.Notifier {
	if cfg.Telegram.Token == "" {
		return notify.NewLogNotifier(log)
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		log.Warn("telegram_disabled", logger.Err(err))
		return notify.NewLogNotifier(log)
	}
	return tg
}

func newEngine(cfg *config.Config, reg *instrument.Registry, paper *executor.PaperExecutor,
	log logger.Logger, alerts notify.Notifier) (*engine.Engine, error) {

	eng, err := engine.New(*cfg, reg, paper, paper, log, alerts)
	if err != nil {
		return nil, err
	}
	paper.SetSink(eng)
	for _, id := range reg.IDs() {
		ev, err := newEvaluator(cfg.Engine, log)
		if err != nil {
			return nil, err
		}
		if err := eng.SetEvaluator(id, ev); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func newEvaluator(cfg config.Engine, log logger.Logger) (signal.Evaluator, error) {
	switch cfg.SignalSource {
	case "suite":
		return signal.NewSuiteEvaluator(log)
	case "breakout":
		return signal.NewBreakoutEvaluator(log)
	}
	method, ok := signal.ParseSmoothingMethod(cfg.SignalMethod)
	if !ok {
		return nil, &config.ConfigurationError{Field: "engine.signal_method", Reason: "unknown method " + cfg.SignalMethod}
	}
	source, ok := signal.ParsePriceSource(cfg.SignalPrice)
	if !ok {
		return nil, &config.ConfigurationError{Field: "engine.signal_price", Reason: "unknown price " + cfg.SignalPrice}
	}
	return signal.NewMACross(cfg.SignalFast, cfg.SignalSlow, method, source), nil
}

func runMetrics(lc fx.Lifecycle, cfg *config.Config, log logger.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Metrics.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics_server_failed", logger.Err(err))
				}
			}()
			log.Info("metrics_listening", logger.String("addr", cfg.Metrics.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// runEngine starts the event loop and, when a replay file is configured,
// feeds it bar by bar: the paper book is marked first so resting orders
// trigger, then the bar is posted to the engine.
func runEngine(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, eng *engine.Engine,
	paper *executor.PaperExecutor, log logger.Logger) {

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				eng.Run(ctx)
			}()
			if cfg.Engine.ReplayFile != "" {
				go replay(ctx, sd, cfg.Engine.ReplayFile, eng, paper, log)
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
			log.Info("final_equity", logger.Float64("equity", paper.Equity()))
			return nil
		},
	})
}

func replay(ctx context.Context, sd fx.Shutdowner, path string, eng *engine.Engine,
	paper *executor.PaperExecutor, log logger.Logger) {

	f, err := os.Open(path)
	if err != nil {
		log.Error("replay_open_failed", logger.String("path", path), logger.Err(err))
		_ = sd.Shutdown(fx.ExitCode(1))
		return
	}
	defer f.Close()

	// Each bar is fully processed before the next quote marks the book.
	n, err := feed.Replay(ctx, f, func(tk feed.Tick) error {
		paper.Mark(tk.Quote)
		if err := eng.Post(ctx, engine.BarEvent{Bar: tk.Bar}); err != nil {
			return err
		}
		return eng.Flush(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("replay_failed", logger.Int("bars", n), logger.Err(err))
		_ = sd.Shutdown(fx.ExitCode(1))
		return
	}
	log.Info("replay_finished", logger.Int("bars", n))
	if err := sd.Shutdown(); err != nil {
		log.Error("shutdown_failed", logger.Err(err))
	}
}
