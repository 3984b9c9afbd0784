package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/eigerco/trustbond/internal/api"
	"github.com/eigerco/trustbond/internal/bonding"
	"github.com/eigerco/trustbond/internal/config"
	"github.com/eigerco/trustbond/internal/metrics"
	"github.com/eigerco/trustbond/internal/rewards"
	"github.com/eigerco/trustbond/internal/scheduler"
	"github.com/eigerco/trustbond/internal/store"
	"github.com/eigerco/trustbond/pkg/db/pebble"
	"github.com/eigerco/trustbond/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its HTTP API, metrics and checkpoint keeper",
		RunE:  serve,
	}
}

func loadConfig(c *cobra.Command) (*config.Config, error) {
	path, _ := c.Flags().GetString("config")
	return config.Load(path)
}

func initLogging(cfg *config.Config) error {
	level, err := log.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	format, err := log.ParseLoggerType(cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	log.Init(log.Options{LogLevel: level, Type: format})
	return nil
}

func serve(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	kv, err := pebble.NewKVStore(pebble.WithPath(cfg.Store.Path), pebble.WithCacheSize(cfg.Store.CacheMB))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st := store.New(kv)
	defer func() {
		if err := st.Close(); err != nil {
			log.Store.Error().Err(err).Msg("closing store")
		}
	}()

	treasury, err := rewards.NewTreasury(st)
	if err != nil {
		return err
	}
	if err := fundTreasury(cfg, treasury); err != nil {
		return err
	}

	params, err := cfg.EngineParams()
	if err != nil {
		return err
	}
	engine, err := bonding.New(params, treasury, bonding.WithStore(st))
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	g, ctx := errgroup.WithContext(c.Context())

	keeper, err := scheduler.NewKeeper(ctx, engine, cfg.Scheduler.CheckpointCron, cfg.Scheduler.MaxRuns)
	if err != nil {
		return err
	}
	if _, _, err := keeper.RunNow(ctx); err != nil {
		log.Escrow.Warn().Err(err).Msg("initial checkpoint")
	}

	opts := api.Options{AdminToken: cfg.Admin.Token, AllowedOrigins: cfg.API.CORSOrigins}
	if cfg.API.RateLimit > 0 {
		opts.Limiter = api.NewRateLimiter(rate.Limit(cfg.API.RateLimit), cfg.API.RateBurst)
		g.Go(func() error { return opts.Limiter.Run(ctx) })
	}
	apiServer := api.NewServer(engine, opts).HTTPServer(cfg.API.Listen)
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	for _, srv := range []*http.Server{apiServer, metricsServer} {
		g.Go(func() error {
			log.Root.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error { return keeper.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	log.Root.Info().
		Str("version", version).
		Stringer("admin", params.Admin).
		Uint64("start", params.Emissions.StartTimestamp).
		Msg("trustbond started")
	err = g.Wait()
	log.Root.Info().Msg("trustbond stopped")
	return err
}

// fundTreasury applies the configured initial balance to a treasury that
// has never been used.
func fundTreasury(cfg *config.Config, treasury *rewards.Treasury) error {
	initial, err := cfg.InitialTreasuryBalance()
	if err != nil {
		return err
	}
	if initial.IsZero() || !treasury.Pristine() {
		return nil
	}
	if err := treasury.Fund(initial); err != nil {
		return fmt.Errorf("fund treasury: %w", err)
	}
	log.Rewards.Info().Str("amount", initial.Dec()).Msg("treasury funded")
	return nil
}
