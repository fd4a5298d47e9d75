// tradecore wires the trading-order control plane: storage, market data,
// notification, execution engine, risk checker, position manager,
// emergency stop service and the order manager. All collaborators are
// constructed once here and passed down explicitly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/coinpilot/tradecore/internal/core/emergency"
	"github.com/coinpilot/tradecore/internal/core/execution"
	"github.com/coinpilot/tradecore/internal/core/marketdata"
	"github.com/coinpilot/tradecore/internal/core/notify"
	"github.com/coinpilot/tradecore/internal/core/orders"
	"github.com/coinpilot/tradecore/internal/core/position"
	"github.com/coinpilot/tradecore/internal/core/risk"
	"github.com/coinpilot/tradecore/internal/core/storage"
	"github.com/coinpilot/tradecore/internal/infrastructure/config"
	"github.com/coinpilot/tradecore/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tradecore: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	db, err := storage.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	store := storage.NewGormStore(db, log.Named("storage"), cfg.Redis.Addr)

	var notifier notify.Notifier = notify.NewLogNotifier(log.Named("notify"))
	if cfg.Notify.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID)
		if err != nil {
			log.Warn("telegram notifier unavailable, falling back to log only", zap.Error(err))
		} else {
			notifier = notify.NewMulti(log.Named("notify"), notifier, tg)
		}
	}

	prices := marketdata.NewStaticFeed()

	metrics := execution.NewMetrics(prometheus.DefaultRegisterer)
	engine := execution.NewEngine(cfg.Execution, log.Named("execution"), metrics)

	riskChecker := risk.NewChecker(store, log.Named("risk"))
	positions := position.NewManager(store, prices, log.Named("position"))

	stops := emergency.NewService(store, notifier, log.Named("emergency"),
		cfg.Emergency.MonitorInterval, cfg.Emergency.MaxStopDuration)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := stops.Start(ctx); err != nil {
		return err
	}
	defer stops.Stop()

	_ = orders.NewManager(store, riskChecker, engine, positions, stops, log.Named("orders"))

	log.Info("tradecore control plane ready; venues and API surface attach here")
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
