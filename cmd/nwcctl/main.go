// nwcctl is a small command-line harness for exercising a wallet-connect
// descriptor: query node info and balance, pay an invoice, list history.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go-simpler.org/env"

	"nostr-wallet/nwc"
	"nostr-wallet/relaypool"
)

// Env holds process-level configuration read from the environment.
type Env struct {
	Descriptor string `env:"NWC_URI" usage:"nostr+walletconnect:// connection string"`
	LogLevel   string `env:"LOG_LEVEL" default:"info" usage:"debug, info, warn, error"`
}

func main() {
	var cfg Env
	if err := env.Load(&cfg, nil); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	initLogger(cfg.LogLevel)

	cmd := &cli.Command{
		Name:  "nwcctl",
		Usage: "talk to a NIP-47 wallet service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "uri",
				Usage:   "nostr+walletconnect:// connection string",
				Sources: cli.EnvVars("NWC_URI"),
				Value:   cfg.Descriptor,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "info",
				Usage: "show the wallet's node info and supported methods",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withClient(ctx, c, func(ctx context.Context, client *nwc.Client) error {
						info, err := client.GetInfo(ctx)
						if err != nil {
							return err
						}
						return printJSON(info)
					})
				},
			},
			{
				Name:  "balance",
				Usage: "show the wallet balance in millisatoshis",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withClient(ctx, c, func(ctx context.Context, client *nwc.Client) error {
						balance, err := client.GetBalance(ctx)
						if err != nil {
							return err
						}
						return printJSON(balance)
					})
				},
			},
			{
				Name:      "pay",
				Usage:     "pay a BOLT11 invoice",
				ArgsUsage: "<invoice>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "amount",
						Usage: "override amount in millisatoshis (zero-amount invoices)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					invoice := c.Args().First()
					if invoice == "" {
						return fmt.Errorf("missing invoice argument")
					}
					return withClient(ctx, c, func(ctx context.Context, client *nwc.Client) error {
						result, err := client.PayInvoice(ctx, invoice, int64(c.Int("amount")))
						if err != nil {
							return err
						}
						return printJSON(result)
					})
				},
			},
			{
				Name:  "transactions",
				Usage: "list recent payment history",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.IntFlag{Name: "offset"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withClient(ctx, c, func(ctx context.Context, client *nwc.Client) error {
						txs, err := client.ListTransactions(ctx, nwc.ListTransactionsParams{
							Limit:  c.Int("limit"),
							Offset: c.Int("offset"),
						})
						if err != nil {
							return err
						}
						return printJSON(txs)
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// withClient parses the descriptor, connects, runs fn, and tears down.
func withClient(ctx context.Context, c *cli.Command, fn func(context.Context, *nwc.Client) error) error {
	uri := c.String("uri")
	if uri == "" {
		return fmt.Errorf("no connection string: set NWC_URI or pass --uri")
	}
	desc, err := nwc.ParseDescriptor(uri)
	if err != nil {
		return err
	}

	pool := relaypool.New(relaypool.Config{})
	defer pool.Shutdown()

	client, err := nwc.New(desc, pool, nwc.DefaultConfig())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, client)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initLogger(levelStr string) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
