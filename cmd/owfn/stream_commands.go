package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	natspkg "github.com/brojonat/owfn/service/nats"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

var errStreamDone = errors.New("stream done")

func streamCommands() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Follow the presale contribution feed",
		Subcommands: []*cli.Command{
			streamContributionsCommand(),
			streamFeedCommand(),
			streamAwaitCommand(),
			inspectStreamCommand(),
		},
	}
}

func replayFlag() cli.Flag {
	return &cli.Uint64Flag{
		Name:  "replay",
		Usage: "Replay the last N contributions before following new ones",
	}
}

func countFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "count",
		Usage: "Exit after N contributions (0 follows forever)",
	}
}

// streamContributionsCommand reads JetStream directly, bypassing the gateway.
func streamContributionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "contributions",
		Usage: "Stream contributions from NATS JetStream",
		Description: `Subscribe to the presale.contributions subject with an ephemeral consumer.

Example:
  owfn stream contributions --replay 10 --json`,
		Flags: []cli.Flag{replayFlag(), countFlag()},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			sub, err := natspkg.NewSubscriber(c.String("nats-url"), "owfn-cli", logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Streaming contributions from %s (Ctrl-C to stop)\n\n", c.String("nats-url"))
			}
			return followContributions(ctx, sub, c.Uint64("replay"), c.Int("count"), c.App.Writer, c.Bool("json"))
		},
	}
}

func followContributions(ctx context.Context, sub natspkg.Subscriber, replay uint64, count int, w io.Writer, jsonOutput bool) error {
	seen := 0
	err := sub.Subscribe(ctx, natspkg.SubscribeOptions{LastN: replay}, func(e *natspkg.ContributionEvent) error {
		if err := printEvent(w, e, jsonOutput); err != nil {
			return err
		}
		seen++
		if count > 0 && seen >= count {
			return errStreamDone
		}
		return nil
	})
	if errors.Is(err, errStreamDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func streamFeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Stream contributions from the gateway's SSE feed",
		Flags: []cli.Flag{replayFlag(), countFlag()},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			seen := 0
			count := c.Int("count")
			err = cl.StreamPresale(ctx, int(c.Uint64("replay")), func(e *natspkg.ContributionEvent) error {
				if err := printEvent(c.App.Writer, e, c.Bool("json")); err != nil {
					return err
				}
				seen++
				if count > 0 && seen >= count {
					return errStreamDone
				}
				return nil
			})
			if errors.Is(err, errStreamDone) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func streamAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Block until a matching contribution arrives",
		Description: `Wait on the gateway's feed for a contribution matching every given condition.

Examples:
  owfn stream await --source 7xKX... --timeout 5m
  owfn stream await --signature 5Nf... --replay 50
  owfn stream await --jq '.sol >= 10'`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "Contributor wallet address"},
			&cli.StringFlag{Name: "signature", Usage: "Transaction signature"},
			&cli.StringSliceFlag{Name: "jq", Usage: "jq filter on the event that must be truthy (repeatable)"},
			&cli.Uint64Flag{
				Name:  "replay",
				Usage: "Let one of the last N contributions satisfy the wait",
				Value: 20,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait",
				Value: 10 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			source := c.String("source")
			signature := c.String("signature")
			filters := c.StringSlice("jq")
			if source == "" && signature == "" && len(filters) == 0 {
				return fmt.Errorf("at least one of --source, --signature or --jq is required")
			}
			codes := make([]*gojq.Code, len(filters))
			for i, f := range filters {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				codes[i] = code
			}

			// --timeout bounds both the wait and the HTTP client.
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Waiting for contribution (timeout %s)...\n", c.Duration("timeout"))
			}
			event, err := cl.Await(ctx, int(c.Uint64("replay")), func(e *natspkg.ContributionEvent) bool {
				if source != "" && e.Source != source {
					return false
				}
				if signature != "" && e.Signature != signature {
					return false
				}
				for _, code := range codes {
					if !jqMatches(code, e) {
						return false
					}
				}
				return true
			})
			if err != nil {
				return fmt.Errorf("failed to await contribution: %w", err)
			}
			return printEvent(c.App.Writer, event, c.Bool("json"))
		},
	}
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the state of the presale JetStream stream",
		Action: func(c *cli.Context) error {
			nc, js, err := natspkg.Connect(c.String("nats-url"), "owfn-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream %s: %w", natspkg.StreamName, err)
			}
			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Stream:     %s\n", info.Config.Name)
			fmt.Fprintf(w, "Subjects:   %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:   %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:      %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First seq:  %d (%s)\n", info.State.FirstSeq, info.State.FirstTime.Format(time.RFC3339))
			fmt.Fprintf(w, "Last seq:   %d (%s)\n", info.State.LastSeq, info.State.LastTime.Format(time.RFC3339))
			fmt.Fprintf(w, "Consumers:  %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max age:    %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Dup window: %s\n", info.Config.Duplicates)
			return nil
		},
	}
}

func printEvent(w io.Writer, e *natspkg.ContributionEvent, jsonOutput bool) error {
	if jsonOutput {
		return outputJSON(w, e)
	}
	bonus := ""
	if e.OWFN.BonusApplied {
		bonus = fmt.Sprintf(" (+%.2f bonus)", e.OWFN.Bonus)
	}
	_, err := fmt.Fprintf(w, "[%s] %s contributed %.4f SOL -> %.2f OWFN%s\n  signature: %s\n",
		e.Timestamp.Format(time.RFC3339), e.Source, e.SOL, e.OWFN.Total, bonus, e.Signature)
	return err
}
