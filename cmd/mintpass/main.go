package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mintpass",
		Usage: "Wallet session and mint payment CLI",
		Description: `A command-line tool for driving and debugging the mintpass service.

Use this CLI to connect a wallet session, check balances, pay for mints,
inspect transactions before signing, and look at stored receipts.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			sessionCommands(),
			balanceCommands(),
			mintCommand(),
			transferCommand(),
			invoiceCommand(),
			mintsCommand(),
			// Offline transaction tooling
			{
				Name:  "tx",
				Usage: "Transaction inspection commands",
				Subcommands: []*cli.Command{
					inspectTxCommand(),
				},
			},
			// Receipt store inspection
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listReceiptsCommand(),
					getReceiptCommand(),
				},
			},
			// Mint event streaming
			{
				Name:  "nats",
				Usage: "NATS mint event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Receipt workflow inspection
			{
				Name:  "temporal",
				Usage: "Temporal inspection commands",
				Subcommands: []*cli.Command{
					mintResultCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "mintpass server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "mintpass-mints",
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Solana network (mainnet, devnet, testnet)",
				EnvVars: []string{"SOLANA_NETWORK"},
				Value:   "devnet",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
