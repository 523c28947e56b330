package main

import (
	"context"
	"os"

	"nftmint/internal/config"
	"nftmint/internal/dapp"
	"nftmint/internal/logging"

	"github.com/jessevdk/go-flags"
	"github.com/urfave/cli"
)

// local drives an in-process controller.
type local struct {
	rt *dapp.Runtime
}

// localConfig starts from the environment and defaults, then applies the
// global flags that were set explicitly.
func localConfig(c *cli.Context) (*config.Config, error) {
	cfg, _, err := config.Parse(nil, flags.None)
	if err != nil {
		return nil, err
	}
	if c.GlobalIsSet("simulate") {
		cfg.Simulate = c.GlobalBool("simulate")
	}
	if c.GlobalIsSet("walletrpc") {
		cfg.WalletRPC = c.GlobalString("walletrpc")
	}
	if c.GlobalIsSet("contract") {
		cfg.ContractAddress = c.GlobalString("contract")
	}
	if c.GlobalIsSet("chainid") {
		cfg.ChainID = c.GlobalString("chainid")
	}
	if c.GlobalIsSet("deployments") {
		cfg.DeploymentsPath = c.GlobalString("deployments")
	}
	if c.GlobalIsSet("confirmtimeout") {
		cfg.ConfirmTimeout = c.GlobalDuration("confirmtimeout")
	}
	cfg.LogLevel = c.GlobalString("loglevel")

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLocal(c *cli.Context) (*local, error) {
	cfg, err := localConfig(c)
	if err != nil {
		return nil, err
	}
	if _, err := logging.Setup(os.Stderr, cfg.LogLevel); err != nil {
		return nil, err
	}

	ctx := context.Background()
	rt, err := dapp.Build(ctx, cfg, dapp.Config{})
	if err != nil {
		return nil, err
	}
	if err := rt.Controller.Start(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return &local{rt: rt}, nil
}

func (l *local) state(*cli.Context) (dapp.Snapshot, error) {
	return l.rt.Controller.Snapshot(), nil
}

func (l *local) connect(*cli.Context) (dapp.Snapshot, error) {
	if _, err := l.rt.Controller.Connect(context.Background()); err != nil {
		return dapp.Snapshot{}, err
	}
	return l.rt.Controller.Snapshot(), nil
}

func (l *local) mint(*cli.Context) (string, error) {
	hash, err := l.rt.Controller.Mint(context.Background())
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func (l *local) wait(c *cli.Context) (dapp.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()
	return l.rt.Controller.Wait(ctx)
}

func (l *local) close() {
	l.rt.Close()
}
