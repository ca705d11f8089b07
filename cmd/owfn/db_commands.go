package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/owfn/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(c.Context, pool); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "✓ Migrations applied")
			return nil
		},
	}
}

func listContributionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "contributions",
		Usage: "List contributions recorded in the ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "wallet",
				Usage: "Only show contributions from this wallet",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of rows",
				Value: 100,
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := db.NewStore(pool, nil)
			rows, err := store.ListContributions(c.Context, db.ListContributionsParams{
				Wallet: c.String("wallet"),
				Limit:  int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list contributions: %w", err)
			}

			return emit(c, rows, func(w io.Writer) error {
				if len(rows) == 0 {
					fmt.Fprintln(w, "No contributions recorded.")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tSIGNATURE\tFROM\tSOL\tRECORDED")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%s\n",
						r.Timestamp.Format(time.RFC3339), r.Signature, r.SourceAddress, r.SOL(), r.RecordedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func getPool(c *cli.Context) (*pgxpool.Pool, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
