package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/mintpass/service/temporal"
)

func mintResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "mint-result",
		Usage:     "Wait for and show the result of a record-mint workflow",
		ArgsUsage: "REQUEST_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the workflow",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("request ID is required")
			}
			requestID := c.Args().Get(0)

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			tc, err := temporal.NewClient(
				c.String("temporal-host"),
				c.String("temporal-namespace"),
				c.String("temporal-task-queue"),
				logger,
			)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			result, err := tc.MintResult(ctx, requestID)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, result)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Request ID:  %s\n", result.RequestID)
			fmt.Fprintf(w, "Stored:      %t\n", result.Stored)
			fmt.Fprintf(w, "Published:   %t\n", result.Published)
			if result.PublishError != nil {
				fmt.Fprintf(w, "Publish Err: %s\n", *result.PublishError)
			}
			return nil
		},
	}
}
