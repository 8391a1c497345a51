package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/mintpass/client"
)

// newClient builds an API client for the --server-url global flag.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func sessionCommands() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Wallet session commands",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the current wallet session",
				Action: func(c *cli.Context) error {
					s, err := newClient(c).Session(c.Context)
					if err != nil {
						return fmt.Errorf("failed to get session: %w", err)
					}
					return printSession(c, s)
				},
			},
			{
				Name:      "connect",
				Usage:     "Connect a wallet provider",
				ArgsUsage: "[PROVIDER]",
				Action: func(c *cli.Context) error {
					provider := c.Args().Get(0)
					if provider == "" {
						provider = "keypair"
					}
					s, err := newClient(c).Connect(c.Context, provider)
					if err != nil {
						return fmt.Errorf("failed to connect: %w", err)
					}
					return printSession(c, s)
				},
			},
			{
				Name:  "disconnect",
				Usage: "Disconnect the wallet and clear the stored session",
				Action: func(c *cli.Context) error {
					s, err := newClient(c).Disconnect(c.Context)
					if err != nil {
						return fmt.Errorf("failed to disconnect: %w", err)
					}
					return printSession(c, s)
				},
			},
		},
	}
}

func printSession(c *cli.Context, s *client.Session) error {
	if c.Bool("json") {
		return outputJSON(c.App.Writer, s)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "State:      %s\n", s.State)
	if s.Address != "" {
		fmt.Fprintf(w, "Provider:   %s\n", s.Provider)
		fmt.Fprintf(w, "Address:    %s\n", s.Address)
	}
	if s.ConnectedAt != nil {
		fmt.Fprintf(w, "Connected:  %s\n", s.ConnectedAt.Format(time.RFC3339))
	}
	if s.Balance != nil {
		fmt.Fprintf(w, "Balance:    %s\n", s.Balance.Amount)
	}
	if s.Minted != nil {
		fmt.Fprintf(w, "Minted:     %t\n", *s.Minted)
	}
	if s.Busy {
		fmt.Fprintf(w, "Busy:       true\n")
	}
	return nil
}

func balanceCommands() *cli.Command {
	show := func(c *cli.Context, b *client.Balance) error {
		if c.Bool("json") {
			return outputJSON(c.App.Writer, b)
		}
		w := c.App.Writer
		fmt.Fprintf(w, "Owner:          %s\n", b.Owner)
		fmt.Fprintf(w, "Mint:           %s\n", b.Mint)
		fmt.Fprintf(w, "Token Account:  %s\n", b.TokenAccount)
		fmt.Fprintf(w, "Amount:         %s\n", b.Amount.StringFixed(int32(b.Decimals)))
		if !b.Exists {
			fmt.Fprintf(w, "                (token account not created yet)\n")
		}
		fmt.Fprintf(w, "Read At:        %s\n", b.ReadAt.Format(time.RFC3339))
		return nil
	}

	return &cli.Command{
		Name:  "balance",
		Usage: "Payment token balance commands",
		Action: func(c *cli.Context) error {
			b, err := newClient(c).Balance(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			return show(c, b)
		},
		Subcommands: []*cli.Command{
			{
				Name:  "refresh",
				Usage: "Read the balance from the chain",
				Action: func(c *cli.Context) error {
					b, err := newClient(c).RefreshBalance(c.Context)
					if err != nil {
						return fmt.Errorf("failed to refresh balance: %w", err)
					}
					return show(c, b)
				},
			},
		},
	}
}

func mintCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint",
		Usage: "Pay the mint price from the connected wallet and wait for confirmation",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   3 * time.Minute,
				Usage:   "How long to wait for confirmation",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Submitting mint payment...\n")
			}
			p, err := newClient(c).Mint(ctx)
			if err != nil {
				return paymentError("mint", err)
			}
			return printPayment(c, p)
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send payment tokens from the connected wallet",
		ArgsUsage: "RECIPIENT AMOUNT",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   3 * time.Minute,
				Usage:   "How long to wait for confirmation",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("recipient and amount are required")
			}
			amount, err := decimal.NewFromString(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(1), err)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			p, err := newClient(c).Transfer(ctx, c.Args().Get(0), amount)
			if err != nil {
				return paymentError("transfer", err)
			}
			return printPayment(c, p)
		},
	}
}

// paymentError keeps the signature of a payment whose outcome is unknown,
// so the user can look it up instead of paying twice.
func paymentError(op string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Payment != nil && apiErr.Payment.Signature != "" {
		return fmt.Errorf("%s failed: %w (signature %s)", op, err, apiErr.Payment.Signature)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func printPayment(c *cli.Context, p *client.Payment) error {
	if c.Bool("json") {
		return outputJSON(c.App.Writer, p)
	}

	w := c.App.Writer
	fmt.Fprintln(w, "✓ Payment confirmed")
	if p.RequestID != "" {
		fmt.Fprintf(w, "Request ID:  %s\n", p.RequestID)
	}
	fmt.Fprintf(w, "Signature:   %s\n", p.Signature)
	fmt.Fprintf(w, "Slot:        %d\n", p.Slot)
	fmt.Fprintf(w, "Attempts:    %d\n", p.Attempts)
	return nil
}

func invoiceCommand() *cli.Command {
	return &cli.Command{
		Name:  "invoice",
		Usage: "Create a Solana Pay invoice for one mint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "qr-out",
				Usage: "Write the QR code PNG to this file",
			},
		},
		Action: func(c *cli.Context) error {
			inv, err := newClient(c).Invoice(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create invoice: %w", err)
			}

			if path := c.String("qr-out"); path != "" {
				png, err := base64.StdEncoding.DecodeString(inv.QRCodeData)
				if err != nil {
					return fmt.Errorf("invalid QR code data: %w", err)
				}
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, inv)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Invoice:     %s\n", inv.ID)
			fmt.Fprintf(w, "Pay To:      %s\n", inv.PayToAddress)
			fmt.Fprintf(w, "Amount:      %s\n", inv.Amount)
			fmt.Fprintf(w, "Token Mint:  %s\n", inv.TokenMint)
			fmt.Fprintf(w, "Memo:        %s\n", inv.Memo)
			fmt.Fprintf(w, "Payment URL: %s\n", inv.PaymentURL)
			return nil
		},
	}
}

func mintsCommand() *cli.Command {
	return &cli.Command{
		Name:      "mints",
		Usage:     "List stored mint receipts for an owner",
		ArgsUsage: "OWNER_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of receipts",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true for each receipt (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("owner address is required")
			}

			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			receipts, err := newClient(c).ListMints(c.Context, c.Args().Get(0), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list mints: %w", err)
			}

			matched := make([]*client.Receipt, 0, len(receipts))
			for _, r := range receipts {
				ok, err := matchesAll(filters, r)
				if err != nil {
					return fmt.Errorf("jq filter failed: %w", err)
				}
				if ok {
					matched = append(matched, r)
				}
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, matched)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST ID\tSIGNATURE\tAMOUNT\tSLOT\tCONFIRMED")
			for _, r := range matched {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					r.RequestID, r.Signature, r.Amount, r.Slot, r.ConfirmedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
