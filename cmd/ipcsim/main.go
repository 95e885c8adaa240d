package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/nxipc/internal/config"
	"github.com/danmuck/nxipc/internal/logging"
	"github.com/danmuck/nxipc/internal/observability"
	"github.com/danmuck/nxipc/internal/simulator"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	path := flag.String("config", "", "config file (defaults plus NXIPC_* env when empty)")
	once := flag.Bool("once", false, "run the configured workload, print the report and exit")
	flag.Parse()

	if err := run(*path, *once); err != nil {
		fmt.Fprintf(os.Stderr, "ipcsim: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, once bool) error {
	logging.ConfigureRuntime()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger := observability.InitLogger("ipcsim")
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}
	gin.SetMode(gin.ReleaseMode)

	sim, err := simulator.New("ipcsim", cfg, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := sim.Run(ctx, sim.DefaultWorkload())
	if err != nil {
		return err
	}
	if once {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	logger.Info().Str("addr", sim.Addr).Msg("serving status")
	errCh := make(chan error, 1)
	go func() { errCh <- sim.Serve() }()
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
