package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftmint/internal/config"
	"nftmint/internal/dapp"
	"nftmint/internal/idempotency"
	"nftmint/internal/logging"
	"nftmint/internal/server"

	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/clock"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	loggers, err := logging.Setup(os.Stdout, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log setup error: %v\n", err)
		os.Exit(1)
	}
	log := loggers[server.Subsystem]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewDefaultClock()

	var store idempotency.Store
	if cfg.PostgresDSN != "" {
		pg, err := idempotency.NewPostgresStore(ctx, cfg.PostgresDSN, clk)
		if err != nil {
			log.Criticalf("idempotency store error: %v", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		fs, err := idempotency.NewFileStore(cfg.IdempotencyStorePath, clk)
		if err != nil {
			log.Criticalf("idempotency store error: %v", err)
			os.Exit(1)
		}
		store = fs
	}

	metrics := server.NewMetrics()
	rt, err := dapp.Build(ctx, cfg, dapp.Config{
		Clock:        clk,
		OnTransition: metrics.ObserveTransition,
		OnRefresh:    metrics.ObserveRefresh,
	})
	if err != nil {
		log.Criticalf("wiring error: %v", err)
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Controller.Start(ctx); err != nil {
		log.Warnf("initial wallet check failed: %v", err)
	}

	if cfg.AccountPoll > 0 {
		go pollAccounts(ctx, rt.Controller, clk, cfg.AccountPoll, log)
	}

	apiServer := server.NewServer(server.Options{
		HTTPPort:          cfg.HTTPPort,
		HMACSecret:        cfg.HMACSecret,
		HMACClockSkew:     cfg.HMACClockSkew,
		IdempotencyWindow: cfg.IdempotencyWindow,
		Clock:             clk,
	}, rt.Controller, store, metrics)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Infof("server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

// pollAccounts re-reads the wallet so account switches, revocations and
// network changes made inside the wallet reach the session.
func pollAccounts(ctx context.Context, c *dapp.Controller, clk clock.Clock, every time.Duration, log btclog.Logger) {
	for {
		select {
		case <-clk.TickAfter(every):
			if err := c.Sync(ctx); err != nil {
				log.Warnf("account sync failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
