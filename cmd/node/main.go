package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/marketstake/params"
	"github.com/uhyunpark/marketstake/pkg/api"
	"github.com/uhyunpark/marketstake/pkg/app/stake"
	"github.com/uhyunpark/marketstake/pkg/bootstrap"
	"github.com/uhyunpark/marketstake/pkg/storage"
	"github.com/uhyunpark/marketstake/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	level := util.LogLevel(cfg.Log.Verbose)
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, level)
	} else {
		logger, err = util.NewLogger(level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	sugar := logger.Sugar()

	// run owns every deferred close, so it must return before we exit
	err = run(cfg, sugar)
	if err != nil {
		sugar.Errorw("node_failed", "err", err)
	} else {
		sugar.Info("node_stopped")
	}
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	variant, err := cfg.MarketVariant()
	if err != nil {
		return err
	}
	policy, err := cfg.TolerancePolicy()
	if err != nil {
		return err
	}

	// ---- Storage ----
	var (
		store    bootstrap.Store
		eventLog storage.EventLog = storage.NewNopEventLog()
	)
	if dir := cfg.Storage.DataDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		ps, err := storage.NewPebbleStore(filepath.Join(dir, "db"))
		if err != nil {
			return err
		}
		defer ps.Close()
		store = ps

		fl, err := storage.NewFileEventLog(filepath.Join(dir, "events.log"))
		if err != nil {
			return err
		}
		eventLog = fl
		sugar.Infow("storage_opened", "data_dir", dir)
	} else {
		store = storage.NewInMemoryStore()
		sugar.Warn("DATA_DIR empty: state kept in memory only")
	}
	defer eventLog.Close()

	// ---- App ----
	hub := api.NewHub(sugar.Named("ws"))
	app, err := bootstrap.Build(bootstrap.Options{
		Variant:      variant,
		SharedLedger: cfg.Market.SharedLedger,
		Policy:       policy,
		Store:        store,
		Logger:       sugar.Named("app"),
		HistorySize:  cfg.Market.EventHistory,
		OnEvent: func(e stake.Event) {
			hub.Publish(e)
			if err := eventLog.Append(e); err != nil {
				sugar.Warnw("event_log_append_failed", "seq", e.Seq, "err", err)
			}
		},
	})
	if err != nil {
		return err
	}
	sugar.Infow("node_starting",
		"variant", variant.String(),
		"shared_ledger", app.SharedLedger(),
		"unmetered_tolerance", policy.Unmetered.String(),
		"metered_tolerance", policy.Metered.String(),
		"api_addr", cfg.API.Addr)

	// ---- API ----
	server := api.NewServer(app, hub, api.Options{
		CORSOrigins: cfg.API.CORSOrigins,
		Logger:      sugar.Named("api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return server.Start(cfg.API.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
