package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/mintpass/service/solana"
)

func inspectTxCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Decode a base64 wire transaction and show what it does",
		ArgsUsage: "[BASE64_TRANSACTION]",
		Description: `Decode a transaction before signing it. Reads the transaction from the
argument, or from stdin when no argument is given.

Example:
  mintpass tx inspect AQAAAA...
  cat tx.b64 | mintpass tx inspect --json`,
		Action: func(c *cli.Context) error {
			encoded := c.Args().Get(0)
			if encoded == "" {
				data, err := io.ReadAll(c.App.Reader)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				encoded = string(data)
			}

			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
			if err != nil {
				return fmt.Errorf("transaction is not valid base64: %w", err)
			}

			tx, err := solana.Inspect(raw)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, tx)
			}
			printInspected(c.App.Writer, tx)
			return nil
		},
	}
}

func printInspected(w io.Writer, tx *solana.InspectedTransaction) {
	fmt.Fprintf(w, "Fee Payer:   %s\n", tx.FeePayer)
	fmt.Fprintf(w, "Blockhash:   %s\n", tx.RecentBlockhash)
	fmt.Fprintf(w, "Signed:      %t\n", tx.Signed)
	if tx.CreatesAccounts > 0 {
		fmt.Fprintf(w, "Creates:     %d token account(s)\n", tx.CreatesAccounts)
	}
	for i, t := range tx.Transfers {
		amount := fmt.Sprintf("%d", t.Amount)
		if t.Decimals != nil {
			amount = solana.FromRawAmount(t.Amount, *t.Decimals).String()
		}
		fmt.Fprintf(w, "Transfer #%d: %s from %s to %s\n", i+1, amount, t.Source, t.Destination)
		if t.Mint != "" {
			fmt.Fprintf(w, "             mint %s\n", t.Mint)
		}
	}
	for i, t := range tx.NativeTransfers {
		fmt.Fprintf(w, "SOL #%d:      %d lamports from %s to %s\n", i+1, t.Lamports, t.From, t.To)
	}
	if tx.Memo != nil {
		fmt.Fprintf(w, "Memo:        %s\n", *tx.Memo)
	}
}
