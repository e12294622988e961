package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-amm-go/cmd/ammd/config"
	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/ledger/memory"
	"github.com/defistate/defistate-amm-go/ledger/pebble"
	"github.com/defistate/defistate-amm-go/poolsystem"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	tokenindexer "github.com/defistate/defistate-amm-go/protocols/tokenregistry/indexer"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/server"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AMM daemon",
		Long: `Start ammd, which provides:
- JSON-RPC over HTTP on / and WebSocket on /ws (namespace "amm")
- the amm_subscribeStateStream and amm_subscribeSwaps subscriptions
- a readiness probe on /healthz
- Prometheus metrics on the metrics listener`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}

	d := config.DefaultConfig()
	flags := cmd.Flags()
	flags.String("listen", d.Listen, "JSON-RPC listen address")
	flags.String("metrics-listen", d.MetricsListen, "Prometheus metrics listen address (empty disables)")
	flags.String("data-dir", d.DataDir, "pebble data directory (empty keeps state in memory)")
	flags.Uint16("max-fee-bps", d.MaxFeeBps, "highest fee a new pool may charge, in basis points")
	flags.String("fee-policy", d.FeePolicy, `swap fee destination: "retained" or "sink"`)
	flags.String("fee-sink", d.FeeSink, "account receiving fees under the sink policy")
	flags.String("deposit-rounding", d.DepositRounding, `steady-state deposit rounding: "down" or "up"`)
	flags.Bool("dev-funding", d.DevFunding, "enable amm_fund for test balances")
	flags.Duration("publish-interval", d.PublishInterval, "minimum delay between state stream events")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	tokenList, err := cfg.RegistryTokens()
	if err != nil {
		return err
	}
	tokens, err := tokenregistry.NewTokenSystem(tokenList...)
	if err != nil {
		return err
	}
	opts, err := cfg.CalculatorOptions()
	if err != nil {
		return err
	}

	system, err := poolsystem.New(ctx, poolsystem.Config{
		Store:       store,
		Tokens:      tokens,
		Options:     opts,
		MaxFeeBps:   cfg.MaxFeeBps,
		FeeSink:     cfg.FeeSink,
		DevFunding:  cfg.DevFunding,
		RecentSwaps: cfg.RecentSwaps,
		Registry:    reg,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := bootstrapPools(ctx, system, tokens.View(), cfg.Pools, logger); err != nil {
		return err
	}

	ops, err := stateops.NewStateOps(logger, reg)
	if err != nil {
		return err
	}
	metrics := server.NewMetrics(reg)
	publisher, err := server.NewPublisher(server.PublisherConfig{
		Pools:       system,
		Tokens:      tokens,
		Differ:      ops,
		MinInterval: cfg.PublishInterval,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := publisher.Init(ctx); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Backend:        system,
		Tokens:         tokens,
		Publisher:      publisher,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}
	defer srv.Stop()

	servers := []*http.Server{{Addr: cfg.Listen, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}}
	if cfg.MetricsListen != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publisher.Run(gctx) })
	for _, s := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "addr", s.Addr, "error", err)
			}
		}
		return nil
	})

	logger.Info("ammd started", "version", version, "listen", cfg.Listen, "dataDir", cfg.DataDir, "feePolicy", opts.FeePolicy)
	err = g.Wait()
	logger.Info("ammd stopped")
	return err
}

func openStore(cfg config.Config) (ledger.Store, error) {
	if cfg.DataDir == "" {
		return memory.New(), nil
	}
	store, err := pebble.Open(pebble.Config{Path: cfg.DataDir})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// bootstrapPools creates the configured pools, skipping seeds that already exist.
func bootstrapPools(ctx context.Context, system *poolsystem.System, tokens []tokenregistry.Token, pools []config.PoolConfig, logger *slog.Logger) error {
	index := tokenindexer.New().Index(tokens)
	for _, p := range pools {
		x, okX := index.GetBySymbol(p.TokenX)
		y, okY := index.GetBySymbol(p.TokenY)
		if !okX || !okY {
			return fmt.Errorf("pool with seed %d: unknown token pair %s/%s", p.Seed, p.TokenX, p.TokenY)
		}
		pool, err := system.CreatePool(ctx, poolsystem.CreatePoolRequest{
			Seed:      p.Seed,
			TokenX:    x.ID,
			TokenY:    y.ID,
			FeeBps:    p.FeeBps,
			Authority: p.Authority,
		})
		if errors.Is(err, poolsystem.ErrPoolExists) {
			logger.Debug("configured pool already exists", "seed", p.Seed)
			continue
		}
		if err != nil {
			return fmt.Errorf("pool with seed %d: %w", p.Seed, err)
		}
		logger.Info("bootstrapped pool", "pool", pool.ID, "pair", x.Symbol+"/"+y.Symbol)
	}
	return nil
}
