package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"nftmint/internal/dapp"

	"github.com/urfave/cli"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[mintctl] %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "mintctl"
	app.Usage = "connect a wallet and mint from the collection"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server",
			Usage:  "drive a running nftmint server at this URL instead of a local wallet",
			EnvVar: "MINTCTL_SERVER",
		},
		cli.StringFlag{
			Name:   "hmacsecret",
			Usage:  "shared secret used to sign intents sent to --server",
			EnvVar: "HMAC_SECRET",
		},
		cli.BoolFlag{
			Name:  "simulate",
			Usage: "use an in-memory wallet and collection",
		},
		cli.StringFlag{
			Name:  "walletrpc",
			Usage: "JSON-RPC endpoint of the wallet provider",
		},
		cli.StringFlag{
			Name:  "contract",
			Usage: "address of the collection contract",
		},
		cli.StringFlag{
			Name:  "chainid",
			Usage: "chain id the collection is deployed on",
		},
		cli.StringFlag{
			Name:  "deployments",
			Usage: "path to the deployments file",
		},
		cli.DurationFlag{
			Name:  "confirmtimeout",
			Usage: "give up on a pending mint after this long",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Value: "warn",
			Usage: "log level, optionally per subsystem",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "print the wallet, network and collection state",
			Action: statusCommand,
		},
		{
			Name:   "connect",
			Usage:  "ask the wallet for account access",
			Action: connectCommand,
		},
		{
			Name:  "mint",
			Usage: "connect, mint one token and wait for it to settle",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "key",
					Usage: "idempotency key sent to --server; random when empty",
				},
				cli.DurationFlag{
					Name:  "timeout",
					Value: 5 * time.Minute,
					Usage: "stop waiting for the mint after this long",
				},
				cli.BoolFlag{
					Name:  "nowait",
					Usage: "return as soon as the wallet accepted the transaction",
				},
			},
			Action: mintCommand,
		},
	}
	return app
}

// driver is the part of the dapp the commands need; it is served either by
// a local controller or by a remote server.
type driver interface {
	state(c *cli.Context) (dapp.Snapshot, error)
	connect(c *cli.Context) (dapp.Snapshot, error)
	mint(c *cli.Context) (string, error)
	wait(c *cli.Context) (dapp.Snapshot, error)
	close()
}

func openDriver(c *cli.Context) (driver, error) {
	if url := c.GlobalString("server"); url != "" {
		return newRemote(url, c.GlobalString("hmacsecret")), nil
	}
	return newLocal(c)
}

func statusCommand(c *cli.Context) error {
	d, err := openDriver(c)
	if err != nil {
		return err
	}
	defer d.close()

	snap, err := d.state(c)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, snap)
}

func connectCommand(c *cli.Context) error {
	d, err := openDriver(c)
	if err != nil {
		return err
	}
	defer d.close()

	snap, err := d.connect(c)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, snap)
}

func mintCommand(c *cli.Context) error {
	d, err := openDriver(c)
	if err != nil {
		return err
	}
	defer d.close()

	if _, err := d.connect(c); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	hash, err := d.mint(c)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "submitted %s\n", hash)
	if c.Bool("nowait") {
		return nil
	}

	snap, err := d.wait(c)
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	if err := printJSON(c.App.Writer, snap); err != nil {
		return err
	}
	if snap.Status != "confirmed" {
		return cli.NewExitError(fmt.Sprintf("mint %s: %s", snap.Status, snap.Message), 2)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
