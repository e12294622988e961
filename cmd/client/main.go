// Command client follows a daemon's state stream and prints a table of its
// pools every time a new checkpoint arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/defistate-amm-go/cmd/client/config"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/client"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultClientStateBufferSize = 100
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()

	if err := run(*configPath, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, Red+err.Error()+Reset)
		os.Exit(1)
	}
}

func run(configPath string, out io.Writer) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	filter, err := pairFilter(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ops, err := stateops.NewStateOps(logger.With("component", "stateops"), prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("initialize state ops: %w", err)
	}

	c, err := client.NewClient(
		ctx,
		client.Config{
			URL:              cfg.StateStreamURL,
			Logger:           logger.With("component", "jsonrpc-client"),
			BufferSize:       DefaultClientStateBufferSize,
			StatePatcher:     ops.Patch,
			StateDecoder:     ops.DecodeStateJSON,
			StateDiffDecoder: ops.DecodeStateDiffJSON,
		},
	)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}

	fmt.Fprintln(out, Green+"Following "+cfg.StateStreamURL+Reset)
	for {
		select {
		case state := <-c.State():
			if err := renderPools(out, state, filter); err != nil {
				logger.Warn("failed to render state", "sequence", state.Checkpoint.Sequence, "error", err)
			}
		case err := <-c.Err():
			return fmt.Errorf("fatal client error: %w", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func newLogger(cfg *config.ClientConfig) (*slog.Logger, func(), error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func pairFilter(cfg *config.ClientConfig) (*PairFilter, error) {
	if cfg.Pair == "" {
		return nil, nil
	}
	a, b, err := cfg.PairSymbols()
	if err != nil {
		return nil, err
	}
	return &PairFilter{SymbolA: a, SymbolB: b}, nil
}
