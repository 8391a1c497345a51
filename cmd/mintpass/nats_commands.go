package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/mintpass/service/nats"
)

// subscribeCommand streams mint events for one owner or all owners.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to mint events",
		ArgsUsage: "[owner_address]",
		Description: `Subscribe to confirmed mint events published to NATS JetStream.

Events are published to the subject: mints.{owner_address}
Without an owner address, events for every owner are streamed.

Example:
  mintpass nats subscribe DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every stored event instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject := "mints.*"
			if owner := c.Args().Get(0); owner != "" {
				subject = natspkg.Subject(owner)
			}

			nc, err := natspkg.Connect(c.String("nats-url"), "mintpass-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			deliver := jetstream.DeliverNewPolicy
			if c.Bool("all") {
				deliver = jetstream.DeliverAllPolicy
			}
			cons, err := js.OrderedConsumer(c.Context, natspkg.StreamName, jetstream.OrderedConsumerConfig{
				FilterSubjects: []string{subject},
				DeliverPolicy:  deliver,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			w := c.App.Writer
			if !jsonOutput {
				fmt.Fprintf(w, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(w, "\nWaiting for mints... (Ctrl-C to exit)\n\n")
			}

			msgChan := make(chan jetstream.Msg, 10)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				msgChan <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer cc.Stop()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event natspkg.MintEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						continue
					}
					count++

					if jsonOutput {
						data, _ := json.Marshal(event)
						fmt.Fprintln(w, string(data))
						continue
					}
					fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
					fmt.Fprintf(w, "Mint #%d\n", count)
					fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
					fmt.Fprintf(w, "Request ID:   %s\n", event.RequestID)
					fmt.Fprintf(w, "Owner:        %s\n", event.OwnerAddress)
					fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
					fmt.Fprintf(w, "Amount:       %d\n", event.Amount)
					fmt.Fprintf(w, "Slot:         %d\n", event.Slot)
					fmt.Fprintf(w, "Confirmed:    %s\n", event.ConfirmedAt.Format(time.RFC3339))
					fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))

				case <-sigChan:
					if !jsonOutput {
						fmt.Fprintf(w, "\n✅ Received %d mints\n", count)
					}
					return nil

				case <-c.Context.Done():
					return nil
				}
			}
		},
	}
}

// inspectStreamCommand shows information about the mint event stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the MINTS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "mintpass-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
