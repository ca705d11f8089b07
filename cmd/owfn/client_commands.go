package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/owfn/client"
	"github.com/brojonat/owfn/service/chat"
	"github.com/brojonat/owfn/service/presale"
	"github.com/brojonat/owfn/service/wallet"
	"github.com/urfave/cli/v2"
)

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: 30 * time.Second,
	}
}

func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(strings.TrimRight(serverURL, "/"), &http.Client{Timeout: c.Duration("timeout")}, newLogger(c)), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func presaleCommands() *cli.Command {
	return &cli.Command{
		Name:  "presale",
		Usage: "Presale queries",
		Subcommands: []*cli.Command{
			{
				Name:  "progress",
				Usage: "Show presale totals",
				Flags: []cli.Flag{timeoutFlag(), jqFlag()},
				Action: func(c *cli.Context) error {
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					p, err := cl.PresaleProgress(c.Context)
					if err != nil {
						return fmt.Errorf("failed to get presale progress: %w", err)
					}
					return emit(c, p, func(w io.Writer) error {
						fmt.Fprintf(w, "Wallet:        %s\n", p.Wallet)
						fmt.Fprintf(w, "Raised:        %.4f SOL\n", p.TotalSOL)
						fmt.Fprintf(w, "OWFN sold:     %.2f\n", p.TotalOWFN)
						fmt.Fprintf(w, "Contributors:  %d\n", p.Contributors)
						fmt.Fprintf(w, "Transactions:  %d\n", p.Transactions)
						if p.Approximate {
							fmt.Fprintln(w, "(approximate: history scan hit its ceiling)")
						}
						return nil
					})
				},
			},
			{
				Name:      "user",
				Usage:     "Show one wallet's contribution",
				ArgsUsage: "WALLET",
				Flags:     []cli.Flag{timeoutFlag(), jqFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("wallet address is required")
					}
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					u, err := cl.UserContribution(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to get contribution: %w", err)
					}
					return emit(c, u, func(w io.Writer) error {
						fmt.Fprintf(w, "Wallet:        %s\n", u.Wallet)
						fmt.Fprintf(w, "Contributed:   %.4f SOL\n", u.SOL)
						fmt.Fprintf(w, "OWFN:          %.2f\n", u.OWFN)
						fmt.Fprintf(w, "Remaining:     %.4f SOL\n", u.RemainingSOL)
						fmt.Fprintf(w, "Meets minimum: %t\n", u.MeetsMinimum)
						fmt.Fprintf(w, "Within caps:   %t\n", u.WithinCaps)
						if len(u.Transactions) == 0 {
							return nil
						}
						fmt.Fprintln(w)
						return printEntries(w, u.Transactions)
					})
				},
			},
			{
				Name:  "transactions",
				Usage: "List recent contributions, newest first",
				Flags: []cli.Flag{
					timeoutFlag(),
					jqFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of contributions",
						Value: 20,
					},
				},
				Action: func(c *cli.Context) error {
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					entries, err := cl.RecentContributions(c.Context, c.Int("limit"))
					if err != nil {
						return fmt.Errorf("failed to list contributions: %w", err)
					}
					return emit(c, entries, func(w io.Writer) error {
						if len(entries) == 0 {
							fmt.Fprintln(w, "No contributions found.")
							return nil
						}
						return printEntries(w, entries)
					})
				},
			},
			{
				Name:  "all",
				Usage: "List every contributor with their totals",
				Flags: []cli.Flag{timeoutFlag(), jqFlag()},
				Action: func(c *cli.Context) error {
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					all, err := cl.AllContributions(c.Context)
					if err != nil {
						return fmt.Errorf("failed to list contributors: %w", err)
					}
					return emit(c, all, func(w io.Writer) error {
						tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "WALLET\tSOL\tOWFN\tTXNS")
						for _, a := range all {
							fmt.Fprintf(tw, "%s\t%.4f\t%.2f\t%d\n", a.Wallet, a.SOL, a.OWFN, a.TransactionCount)
						}
						return tw.Flush()
					})
				},
			},
		},
	}
}

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Wallet balance commands",
		Subcommands: []*cli.Command{
			{
				Name:      "balances",
				Usage:     "Show priced holdings of one or more wallets",
				ArgsUsage: "ADDRESS...",
				Flags:     []cli.Flag{timeoutFlag(), jqFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one wallet address is required")
					}
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					if c.NArg() == 1 {
						b, err := cl.WalletBalances(c.Context, c.Args().First())
						if err != nil {
							return fmt.Errorf("failed to get balances: %w", err)
						}
						return emit(c, b, func(w io.Writer) error {
							return printTokens(w, b.Tokens)
						})
					}
					batch, err := cl.BatchWalletBalances(c.Context, c.Args().Slice())
					if err != nil {
						return fmt.Errorf("failed to get balances: %w", err)
					}
					return emit(c, batch, func(w io.Writer) error {
						for _, addr := range c.Args().Slice() {
							fmt.Fprintf(w, "== %s\n", addr)
							if msg, ok := batch.Errors[addr]; ok {
								fmt.Fprintf(w, "error: %s\n\n", msg)
								continue
							}
							if err := printTokens(w, batch.Balances[addr]); err != nil {
								return err
							}
							fmt.Fprintln(w)
						}
						return nil
					})
				},
			},
			{
				Name:      "invalidate",
				Usage:     "Drop a wallet's cached balances",
				ArgsUsage: "ADDRESS",
				Flags:     []cli.Flag{timeoutFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("wallet address is required")
					}
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					if err := cl.InvalidateBalances(c.Context, c.Args().First()); err != nil {
						return fmt.Errorf("failed to invalidate balances: %w", err)
					}
					fmt.Fprintf(c.App.Writer, "✓ Cached balances dropped for %s\n", c.Args().First())
					return nil
				},
			},
		},
	}
}

func tokenCommands() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Token commands",
		Subcommands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Show mint metadata and market data",
				ArgsUsage: "MINT",
				Flags:     []cli.Flag{timeoutFlag(), jqFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("mint address is required")
					}
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					info, err := cl.TokenInfo(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to get token info: %w", err)
					}
					return emit(c, info, func(w io.Writer) error {
						fmt.Fprintf(w, "Mint:      %s\n", info.Mint)
						fmt.Fprintf(w, "Program:   %s\n", info.ProgramID)
						fmt.Fprintf(w, "Decimals:  %d\n", info.Decimals)
						fmt.Fprintf(w, "Supply:    %g\n", info.UISupply)
						if info.Market == nil {
							fmt.Fprintln(w, "Market:    (none)")
							return nil
						}
						fmt.Fprintf(w, "Market:    %s on %s\n", info.Market.Name, info.Market.DEX)
						fmt.Fprintf(w, "Price:     $%g\n", info.Market.PriceUSD)
						fmt.Fprintf(w, "Liquidity: $%.2f\n", info.Market.LiquidityUSD)
						fmt.Fprintf(w, "Volume 24h: $%.2f\n", info.Market.Volume24h)
						return nil
					})
				},
			},
		},
	}
}

func socialCommands() *cli.Command {
	return &cli.Command{
		Name:  "social",
		Usage: "Social case commands",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List donation cases",
				Flags: []cli.Flag{
					timeoutFlag(),
					jqFlag(),
					&cli.StringFlag{Name: "category", Usage: "Filter by category"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of cases"},
				},
				Action: func(c *cli.Context) error {
					cl, err := newClient(c)
					if err != nil {
						return err
					}
					cases, err := cl.SocialCases(c.Context, client.SocialCaseFilter{
						Category: c.String("category"),
						Status:   c.String("status"),
						Limit:    c.Int("limit"),
					})
					if err != nil {
						return fmt.Errorf("failed to list social cases: %w", err)
					}
					return emit(c, cases, func(w io.Writer) error {
						if len(cases) == 0 {
							fmt.Fprintln(w, "No social cases found.")
							return nil
						}
						tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tSTATUS\tRAISED\tGOAL\tDONORS")
						for _, sc := range cases {
							fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t$%.2f\t$%.2f\t%d\n",
								sc.ID, sc.Title, sc.Category, sc.Status, sc.RaisedUSD, sc.GoalUSD, sc.DonorCount)
						}
						return tw.Flush()
					})
				},
			},
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show live presale and donation figures",
		Flags: []cli.Flag{
			timeoutFlag(),
			jqFlag(),
			&cli.StringFlag{Name: "from", Usage: "Start date (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "to", Usage: "End date (YYYY-MM-DD)"},
		},
		Action: func(c *cli.Context) error {
			var from, to *time.Time
			if c.IsSet("from") != c.IsSet("to") {
				return fmt.Errorf("--from and --to must be given together")
			}
			if c.IsSet("from") {
				f, err := time.Parse(time.DateOnly, c.String("from"))
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				t, err := time.Parse(time.DateOnly, c.String("to"))
				if err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
				from, to = &f, &t
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			s, err := cl.Stats(c.Context, from, to)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			return emit(c, s, func(w io.Writer) error {
				if s.Range != nil {
					fmt.Fprintf(w, "Range:          %s to %s\n", s.Range.From.Format(time.DateOnly), s.Range.To.Format(time.DateOnly))
				}
				fmt.Fprintf(w, "Presale raised: %.4f SOL (%.2f OWFN)\n", s.PresaleSOL, s.PresaleOWFN)
				fmt.Fprintf(w, "Contributors:   %d\n", s.PresaleContributors)
				fmt.Fprintf(w, "Transactions:   %d\n", s.PresaleTransactions)
				fmt.Fprintf(w, "Donation cases: %d\n", s.DonationCases)
				fmt.Fprintf(w, "Donations:      $%.2f from %d donors\n", s.DonationsUSD, s.Donors)
				return nil
			})
		},
	}
}

func chatCommands() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "AI assistant commands",
		Subcommands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "Ask the assistant a question and stream the answer",
				ArgsUsage: "QUESTION",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Usage: "Answer language code", Value: "en"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("question is required")
					}
					// No --timeout: the answer streams until the server ends it.
					cl, err := newClient(c)
					if err != nil {
						return err
					}

					ctx, cancel := signalContext()
					defer cancel()

					w := c.App.Writer
					err = cl.Chat(ctx, chat.Request{
						Question:    strings.Join(c.Args().Slice(), " "),
						LangCode:    c.String("lang"),
						CurrentTime: time.Now().Format(time.RFC3339),
					}, func(e chat.Event) error {
						if c.Bool("json") {
							return outputJSON(w, e)
						}
						if e.Type == chat.EventChunk {
							fmt.Fprint(w, e.Text)
						}
						return nil
					})
					if !c.Bool("json") {
						fmt.Fprintln(w)
					}
					return err
				},
			},
		},
	}
}

func printEntries(w io.Writer, entries []presale.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSIGNATURE\tFROM\tSOL\tOWFN\tBONUS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.2f\t%t\n",
			e.Timestamp.Format(time.RFC3339), e.Signature, e.SourceAddress, e.SOL, e.OWFN.Total, e.OWFN.BonusApplied)
	}
	return tw.Flush()
}

func printTokens(w io.Writer, tokens []wallet.Token) error {
	if len(tokens) == 0 {
		fmt.Fprintln(w, "No tokens found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tBALANCE\tPRICE\tUSD\tMINT")
	var total float64
	for _, t := range tokens {
		fmt.Fprintf(tw, "%s\t%g\t$%g\t$%.2f\t%s\n", t.Symbol, t.Balance, t.PricePerToken, t.USDValue, t.MintAddress)
		total += t.USDValue
	}
	fmt.Fprintf(tw, "\t\t\t$%.2f\tTOTAL\n", total)
	return tw.Flush()
}
