package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsdigest/internal/app"
	"github.com/deusflow/newsdigest/internal/config"
	"github.com/deusflow/newsdigest/internal/credentials"
	"github.com/deusflow/newsdigest/internal/logger"
	"github.com/deusflow/newsdigest/internal/news"
)

type cli struct {
	cfgFile     string
	envFile     string
	debug       bool
	metricsFile string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "newsdigest",
		Short: "Summarized news from Canadian, US and world sources",
		Long: `newsdigest lists the latest articles of a category, summarizes them and
keeps the summaries in a local cache so they can be read again offline.

Example usage:
  newsdigest categories                 # Show categories and their sources
  newsdigest list canada                # List and summarize Canadian news
  newsdigest open https://example.com/a # Show one article with its summary`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default $NEWSDIGEST_CONFIG or built-in)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", credentials.DefaultEnvFile, "env file holding the API key")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "debug logging")
	root.PersistentFlags().StringVar(&c.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")

	root.AddCommand(c.categoriesCmd(), c.listCmd(), c.openCmd())
	return root
}

func (c *cli) init() error {
	if err := credentials.LoadEnv(c.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.debug {
		cfg.Log.Level = "debug"
	}
	logger.Init(cfg.Log.Level, os.Stderr)
	c.cfg = cfg
	return nil
}

func (c *cli) categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List categories and their sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			descs := c.cfg.Descriptors()
			for _, cat := range c.cfg.Categories() {
				fmt.Fprintf(out, "%s\n", cat)
				for _, d := range descs {
					if d.Category == cat {
						fmt.Fprintf(out, "  %d. %s (%s)\n", d.Priority+1, d.Name, d.URL)
					}
				}
			}
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <category>",
		Short: "List and summarize the articles of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			defer c.writeMetrics(a)

			category := news.Category(strings.ToLower(args[0]))
			res, err := a.Orchestrator.Run(cmd.Context(), category)
			if errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil && len(res.Articles) == 0 {
				return err
			}
			printCategory(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func (c *cli) openCmd() *cobra.Command {
	var saveDir string
	cmd := &cobra.Command{
		Use:   "open <url>",
		Short: "Show one article with its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			defer c.writeMetrics(a)

			article, err := a.Orchestrator.OpenArticle(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			now := time.Now()
			text := news.FormatSummary(article, now)
			fmt.Fprint(cmd.OutOrStdout(), text)
			if article.Notice != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", article.Notice)
			}

			if saveDir == "" || !article.HasSummary() {
				return nil
			}
			if err := os.MkdirAll(saveDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", saveDir, err)
			}
			path := filepath.Join(saveDir, news.SummaryFileName(article, now))
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				return fmt.Errorf("save summary: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSummary saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&saveDir, "save", "", "directory to save the summary file in")
	return cmd
}

// openApp builds the app, asking for the API key on stdin when none is set.
func (c *cli) openApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.New(cmd.Context(), c.cfg, app.Options{})
	if !errors.Is(err, credentials.ErrMissing) {
		return a, err
	}

	name := c.cfg.Summarizer.APIKeyEnv
	if name == "" {
		name = credentials.EnvName(c.cfg.Summarizer.Provider)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%v\nEnter your %s API key (saved to %s as %s): ", err, c.cfg.Summarizer.Provider, c.envFile, name)

	key, readErr := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	key = strings.TrimSpace(key)
	if key == "" {
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, readErr
		}
		return nil, err
	}
	if err := credentials.Save(c.envFile, name, key); err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), c.cfg, app.Options{APIKey: key})
}

func (c *cli) writeMetrics(a *app.App) {
	if c.metricsFile == "" {
		return
	}
	if err := a.Metrics.WriteFile(c.metricsFile); err != nil {
		a.Logger.Warn("metrics not written", "path", c.metricsFile, "error", err)
	}
}

func printCategory(w io.Writer, res news.CategoryResult) {
	fmt.Fprintf(w, "%s news\n%s\n", strings.ToUpper(string(res.Category)), strings.Repeat("=", 50))
	for i, a := range res.Articles {
		fmt.Fprintf(w, "\n%d. %s\n   %s", i+1, a.Title, a.Source)
		if a.PublishedAt != nil {
			fmt.Fprintf(w, " | %s", a.PublishedAt.Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(w, "\n   %s\n", a.URL)

		switch {
		case a.HasSummary():
			fmt.Fprintf(w, "\n%s\n", indent(a.Summary, "   "))
		case a.Status != news.SummaryNone:
			fmt.Fprintf(w, "   [%s]\n", news.SummaryPlaceholder)
		case a.Blurb != "":
			fmt.Fprintf(w, "   %s\n", a.Blurb)
		}
	}
	for _, n := range res.Notices {
		if n.Source != "" {
			fmt.Fprintf(w, "\nwarning: %s: %s", n.Source, n.Message)
		} else {
			fmt.Fprintf(w, "\nwarning: %s", n.Message)
		}
	}
	if len(res.Notices) > 0 {
		fmt.Fprintln(w)
	}
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
