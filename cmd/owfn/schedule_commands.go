package main

import (
	"fmt"
	"time"

	"github.com/brojonat/owfn/service/temporal"
	"github.com/urfave/cli/v2"
)

func scheduleCommands() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage the Temporal schedule that polls presale history into NATS",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create or update the presale feed schedule",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "interval",
						Usage:   "Polling interval",
						EnvVars: []string{"PRESALE_FEED_INTERVAL"},
						Value:   30 * time.Second,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Contributions read per poll",
						Value: temporal.DefaultFeedLimit,
					},
				},
				Action: func(c *cli.Context) error {
					interval := c.Duration("interval")
					if interval < time.Second {
						return fmt.Errorf("interval must be at least 1s, got %s", interval)
					}
					tc, err := getTemporalClient(c)
					if err != nil {
						return err
					}
					defer tc.Close()

					if err := tc.UpsertPresaleSchedule(c.Context, interval, c.Int("limit")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "✓ Schedule %s polls every %s (limit %d)\n", temporal.ScheduleID, interval, c.Int("limit"))
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete the presale feed schedule",
				Action: func(c *cli.Context) error {
					tc, err := getTemporalClient(c)
					if err != nil {
						return err
					}
					defer tc.Close()

					if err := tc.DeletePresaleSchedule(c.Context); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "✓ Schedule %s deleted\n", temporal.ScheduleID)
					return nil
				},
			},
			{
				Name:  "trigger",
				Usage: "Run the presale feed workflow now",
				Action: func(c *cli.Context) error {
					tc, err := getTemporalClient(c)
					if err != nil {
						return err
					}
					defer tc.Close()

					if err := tc.TriggerPresaleSchedule(c.Context); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "✓ Schedule %s triggered\n", temporal.ScheduleID)
					return nil
				},
			},
			{
				Name:  "describe",
				Usage: "Show the presale feed schedule and its recent runs",
				Action: func(c *cli.Context) error {
					tc, err := getTemporalClient(c)
					if err != nil {
						return err
					}
					defer tc.Close()

					desc, err := tc.DescribePresaleSchedule(c.Context)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return outputJSON(c.App.Writer, desc)
					}

					w := c.App.Writer
					fmt.Fprintf(w, "Schedule: %s\n", temporal.ScheduleID)
					if spec := desc.Schedule.Spec; spec != nil {
						for _, iv := range spec.Intervals {
							fmt.Fprintf(w, "Interval: %s\n", iv.Every)
						}
					}
					if desc.Schedule.State != nil {
						fmt.Fprintf(w, "Paused:   %t\n", desc.Schedule.State.Paused)
					}
					fmt.Fprintf(w, "Runs:     %d\n", desc.Info.NumActions)
					for _, next := range desc.Info.NextActionTimes {
						fmt.Fprintf(w, "Next:     %s\n", next.Format(time.RFC3339))
					}
					for _, r := range desc.Info.RecentActions {
						fmt.Fprintf(w, "Recent:   %s (scheduled %s)\n",
							r.ActualTime.Format(time.RFC3339), r.ScheduleTime.Format(time.RFC3339))
					}
					return nil
				},
			},
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
}
