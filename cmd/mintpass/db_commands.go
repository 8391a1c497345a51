package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/mintpass/service/db"
)

func listReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-receipts",
		Usage:     "List mint receipts for an owner, newest first",
		Aliases:   []string{"ls"},
		ArgsUsage: "OWNER_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of receipts",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("owner address is required")
			}
			owner := c.Args().Get(0)

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			receipts, err := store.ListMintsByOwner(c.Context, owner, c.String("network"), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, receipts)
			}

			if len(receipts) == 0 {
				fmt.Fprintf(c.App.Writer, "No receipts for %s on %s\n", owner, c.String("network"))
				return nil
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST ID\tSIGNATURE\tAMOUNT\tSLOT\tCONFIRMED")
			for _, r := range receipts {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					r.RequestID, r.Signature, r.Amount, r.Slot, r.ConfirmedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func getReceiptCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-receipt",
		Usage:     "Show one mint receipt",
		ArgsUsage: "REQUEST_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("request ID is required")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			r, err := store.GetMint(c.Context, c.Args().Get(0))
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("no receipt for request %s", c.Args().Get(0))
			}
			if err != nil {
				return fmt.Errorf("failed to get receipt: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, r)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Request ID:  %s\n", r.RequestID)
			fmt.Fprintf(w, "Owner:       %s\n", r.OwnerAddress)
			fmt.Fprintf(w, "Network:     %s\n", r.Network)
			fmt.Fprintf(w, "Signature:   %s\n", r.Signature)
			fmt.Fprintf(w, "Token Mint:  %s\n", r.TokenMint)
			fmt.Fprintf(w, "Amount:      %d\n", r.Amount)
			fmt.Fprintf(w, "Slot:        %d\n", r.Slot)
			fmt.Fprintf(w, "Memo:        %s\n", formatOptional(r.Memo))
			fmt.Fprintf(w, "Confirmed:   %s\n", r.ConfirmedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Stored:      %s\n", r.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// getStore connects to the receipt database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}
