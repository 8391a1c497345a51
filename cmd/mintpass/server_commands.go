package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/mintpass/client"
)

type healthReport struct {
	URL     string          `json:"url"`
	Healthy bool            `json:"healthy"`
	Session *client.Session `json:"session,omitempty"`
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health and report the wallet session it holds",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "skip-session",
				Usage: "Only hit the liveness endpoint",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			api := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, nil)
			if err := api.Health(c.Context); err != nil {
				return fmt.Errorf("server %s: %w", serverURL, err)
			}

			report := healthReport{URL: serverURL, Healthy: true}
			if !c.Bool("skip-session") {
				s, err := api.Session(c.Context)
				if err != nil {
					return fmt.Errorf("server is up but the session API failed: %w", err)
				}
				report.Session = s
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, report)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "✓ Server is healthy\n")
			fmt.Fprintf(w, "  URL:    %s\n", serverURL)
			if s := report.Session; s != nil {
				if s.Address != "" {
					fmt.Fprintf(w, "  Wallet: %s (%s via %s)\n", s.State, s.Address, s.Provider)
				} else {
					fmt.Fprintf(w, "  Wallet: %s\n", s.State)
				}
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show CLI build information",
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]string{
					"version": version,
					"commit":  commit,
					"built":   date,
				})
			}
			fmt.Fprintf(c.App.Writer, "mintpass %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
