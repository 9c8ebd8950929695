package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/config"
	"github.com/haukened/sg-block/internal/block/domain"
	"github.com/haukened/sg-block/internal/block/repos/journal/bolt"
	"github.com/haukened/sg-block/internal/block/services/blocker"
)

// cliRemote tags journal entries written from the command line.
const cliRemote = "cli"

// cli carries state shared between the root command and its subcommands.
type cli struct {
	configPath string
	cfg        *config.AppConfig
}

// loadConfig is swapped in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Manage squidGuard blacklists",
		Long:          `sgblock lists squidGuard blacklist categories and appends URLs to them, from the command line or over an HTTP API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
				return fmt.Errorf("logging configuration error: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (.yaml, .yml, .json or .toml)")

	root.AddCommand(
		c.newServeCmd(),
		c.newListCmd(),
		c.newAddCmd(),
		c.newHistoryCmd(),
	)
	return root
}

// execute runs the root command and reports a failure on stderr.
func execute(root *cobra.Command) error {
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %s\n", describe(err))
	}
	return err
}

// withApp builds the application for one command and closes it afterwards.
func (c *cli) withApp(opts buildOptions, fn func(app *Application) error) error {
	app, err := buildApplication(c.cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			log.Warn(map[string]any{"error": cerr}, "journal_close_failed")
		}
	}()
	return fn(app)
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.Info(map[string]any{
				"version":    version,
				"env":        c.cfg.Env,
				"log_level":  c.cfg.Log.Level,
				"address":    c.cfg.HTTP.Addr(),
				"squidguard": c.cfg.SquidGuard.Conf,
				"journal":    c.cfg.Journal.DB,
			}, "Starting sgblock server")
			return c.withApp(buildOptions{requireJournal: true}, func(app *Application) error {
				return app.Run(cmd.Context())
			})
		},
	}
}

func (c *cli) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [url]",
		Short: "List blacklist categories, optionally validating a URL to classify",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			}
			return c.withApp(buildOptions{}, func(app *Application) error {
				l, err := app.service.ListCategories(cmd.Context(), raw)
				if err != nil {
					return err
				}
				printListing(cmd.OutOrStdout(), l)
				return nil
			})
		},
	}
}

func (c *cli) newAddCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "add [--category group/name] <url>",
		Short: "Append a URL to a category, or to the direct blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := blocker.WithRemote(cmd.Context(), cliRemote)
			return c.withApp(buildOptions{}, func(app *Application) error {
				var (
					res blocker.Result
					err error
				)
				if category != "" {
					res, err = app.service.AppendToCategory(ctx, category, args[0])
				} else {
					res, err = app.service.AppendDirect(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "URL added to blacklist: %s -> %s (%d bytes)\n",
					res.URL.String(), res.Target, res.Bytes)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&category, "category", "C", "", "category token, e.g. adv/domains")
	return cmd
}

func (c *cli) newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [--limit n]",
		Short: "Show the most recent journaled appends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput)
			}
			if c.cfg.Journal.DB == "" {
				return fmt.Errorf("%w: journal.db is not set", domain.ErrConfig)
			}
			return c.withApp(buildOptions{requireJournal: true}, func(app *Application) error {
				entries, err := app.service.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if s, ok := app.journal.(*bolt.Store); ok {
					st := s.Stats()
					fmt.Fprintf(out, "Journal: %d entries, last seq %d\n", st.Entries, st.LastSeq)
				}
				printHistory(out, entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", bolt.DefaultRecentLimit, "number of entries to show")
	return cmd
}

func printListing(w io.Writer, l blocker.Listing) {
	fmt.Fprintf(w, "Rule-set root: %s\n", l.Root)
	if l.URL != nil {
		fmt.Fprintf(w, "URL: %s", l.URL.String())
		if l.URL.Apex != "" {
			fmt.Fprintf(w, " (domain %s)", l.URL.Apex)
		}
		fmt.Fprintln(w)
	}
	if l.Empty() {
		fmt.Fprintln(w, "No rule found")
		return
	}
	for _, g := range l.Groups {
		fmt.Fprintf(w, "%s\n", g.Name)
		for _, name := range g.Categories {
			fmt.Fprintf(w, "  %s/%s\n", g.Name, name)
		}
	}
}

func printHistory(w io.Writer, entries []domain.JournalEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No appends recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tADDED\tCATEGORY\tURL\tTARGET")
	for _, e := range entries {
		cat := e.Category
		if cat == "" {
			cat = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.AddedAt.UTC().Format(time.RFC3339), cat, e.URL, e.Target)
	}
	_ = tw.Flush()
}

// describe renders err for an operator. The taxonomy code leads so scripts
// can match on it.
func describe(err error) string {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		return err.Error()
	}
	return fmt.Sprintf("[%s] %v", kind, err)
}
