package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/relay/internal/catalog"
	"github.com/guilhermegouw/relay/internal/config"
	"github.com/guilhermegouw/relay/internal/db"
	"github.com/guilhermegouw/relay/internal/delivery"
	"github.com/guilhermegouw/relay/internal/llm"
	"github.com/guilhermegouw/relay/internal/logging"
	"github.com/guilhermegouw/relay/internal/processor"
	"github.com/guilhermegouw/relay/internal/pubsub"
	"github.com/guilhermegouw/relay/internal/registry"
	"github.com/guilhermegouw/relay/internal/server"
	"github.com/guilhermegouw/relay/internal/store"
	"github.com/guilhermegouw/relay/internal/telemetry"
	"github.com/guilhermegouw/relay/internal/worker"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Start the HTTP and websocket server together with the background
workers that call the language model.

Settings come from the config file and environment; see "relay config".`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Bool("debug", false, "Log at debug level and mirror logs to stderr")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" { //nolint:errcheck // flag is registered above
		cfg.Server.Addr = addr
	}
	if debugMode, _ := cmd.Flags().GetBool("debug"); debugMode { //nolint:errcheck // flag is registered above
		cfg.Options.Debug = true
	}

	logger, closeLog, err := logging.Setup(logging.Options{
		Dir:        cfg.LogDir(),
		Level:      cfg.Log.Level,
		Debug:      cfg.Options.Debug,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closeLog() //nolint:errcheck // nothing left to log to

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LLM.APIKey == "" {
		fmt.Fprintln(os.Stderr, "Warning: OPENROUTER_API_KEY is not set; model calls will fail.")
	}

	err = serve(ctx, cfg, logger)
	if err != nil {
		logger.Error("server stopped with error", "error", err)
	}
	return err
}

// serve wires the components together and blocks until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	hub := pubsub.NewHub()
	defer hub.Shutdown()

	if cfg.Log.Telemetry {
		providers, terr := telemetry.Setup(ctx, telemetry.Options{
			Dir:        cfg.LogDir(),
			Version:    Version,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if terr != nil {
			return fmt.Errorf("setting up telemetry: %w", terr)
		}
		defer func() {
			err = errors.Join(err, providers.Shutdown(context.Background()))
		}()

		obs, oerr := telemetry.NewObserver(providers.Meter.Meter(telemetry.ServiceName))
		if oerr != nil {
			return oerr
		}
		go obs.Run(ctx, hub)
	}

	database, err := db.Open(ctx, cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close() //nolint:errcheck // closed on exit

	gw := store.New(database, hub, logger)

	models := catalog.New(cfg.Catalog.Models,
		catalog.WithCatwalkURL(cfg.Catalog.CatwalkURL),
		catalog.WithCacheDir(cfg.DataDir()),
		catalog.WithLogger(logger),
	)
	if err := models.LoadCache(); err != nil {
		logger.Debug("no model cache", "error", err)
	}
	if cfg.Catalog.CatwalkURL != "" {
		go func() {
			if err := models.Refresh(); err != nil {
				logger.Warn("model catalog refresh failed", "error", err)
			}
		}()
	}

	model, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	conns := registry.New()
	router := delivery.NewRouter(delivery.NewPush(conns, logger))
	proc := processor.New(gw, model, router, hub, logger)

	pool := worker.New(proc, gw, worker.Options{
		Workers:          cfg.Worker.Workers,
		QueueSize:        cfg.Worker.QueueSize,
		RecoverySchedule: cfg.Worker.RecoverySchedule,
		RecoveryGrace:    cfg.Worker.RecoveryGrace.Std(),
	}, logging.Component(logger, "worker"))
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting workers: %w", err)
	}
	if n, err := pool.Recover(ctx); err != nil {
		logger.Warn("startup recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("re-queued pending messages", "count", n)
	}

	srv := server.New(server.Deps{
		Store:        gw,
		Catalog:      models,
		Jobs:         pool,
		Conns:        conns,
		Hub:          hub,
		DefaultModel: cfg.LLM.DefaultModel,
		Version:      Version,
	}, cfg.Server, logger)

	serveErr := srv.ListenAndServe(ctx)
	srv.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return errors.Join(serveErr, pool.Shutdown(drainCtx))
}
