package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"npa-monitor/internal/catalog"
	"npa-monitor/internal/classify"
	"npa-monitor/internal/regulation"
	"npa-monitor/internal/retry"
	"npa-monitor/pkg/npa"
)

const (
	fetchTopDepartments = 15
	fetchTopDates       = 10
)

var version = "dev"

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	options := &rootOptions{}

	root := &cobra.Command{
		Use:           "npa-bot",
		Short:         "Telegram digest of draft regulations from regulation.gov.ru",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(options)
		},
	}
	root.PersistentFlags().StringVar(&options.configPath, "config", "", "path to config file (overrides "+envConfigFile+")")

	root.AddCommand(
		newRunCommand(options),
		newFetchCommand(options),
		newClassifyCommand(),
		newVersionCommand(),
	)

	return root
}

func newRunCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(options)
		},
	}
}

func runCommand(options *rootOptions) error {
	cfg, err := loadConfig(options.configPath, true)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	return runBot(cfg)
}

func newFetchCommand(options *rootOptions) *cobra.Command {
	var (
		outPath string
		pages   int
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the listing once and print department and date statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(options.configPath, false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.logLevel}))
			client := newRegulationClient(logger, cfg, nil)

			return runFetch(ctx, cmd.OutOrStdout(), logger, cfg, client, pages, outPath)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write fetched filings as JSON to this file")
	cmd.Flags().IntVar(&pages, "pages", 100, "maximum number of listing pages")

	return cmd
}

func runFetch(
	ctx context.Context,
	out io.Writer,
	logger *slog.Logger,
	cfg appConfig,
	fetcher catalog.Fetcher,
	pages int,
	outPath string,
) error {
	if pages <= 0 {
		return fmt.Errorf("fetch: pages must be > 0")
	}

	filings, ok := retry.FetchSlice(ctx, func(ctx context.Context) ([]npa.Filing, error) {
		return fetcher.FetchAll(ctx, pages)
	}, retry.Config[[]npa.Filing]{
		MaxRetries:   cfg.fetchMaxRetries,
		InitialDelay: cfg.fetchInitialDelay,
		Name:         "fetch",
		Logger:       logger,
	})
	if !ok {
		return fmt.Errorf("fetch: listing unavailable after %d attempts", cfg.fetchMaxRetries)
	}

	classifier := classify.New()
	for index := range filings {
		filings[index].Topics = classifier.Classify(filings[index].Title)
	}

	writeSummary(out, regulation.Summarize(filings, fetchTopDepartments, fetchTopDates), filings)

	if outPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(filings, "", "  ")
	if err != nil {
		return fmt.Errorf("fetch: encode filings: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("fetch: write %s: %w", outPath, err)
	}
	fmt.Fprintf(out, "\nSaved %d filings to %s\n", len(filings), outPath)

	return nil
}

func writeSummary(out io.Writer, summary regulation.Summary, filings []npa.Filing) {
	fmt.Fprintf(out, "Total filings: %d\n", summary.Total)

	fmt.Fprintf(out, "\nTop %d departments:\n", fetchTopDepartments)
	for _, count := range summary.Departments {
		fmt.Fprintf(out, "  %4d  %s\n", count.Count, count.Key)
	}

	fmt.Fprintf(out, "\nTop %d dates:\n", fetchTopDates)
	for _, count := range summary.Dates {
		fmt.Fprintf(out, "  %4d  %s\n", count.Count, count.Key)
	}

	fmt.Fprintln(out, "\nTopics:")
	for _, topic := range npa.AllTopics() {
		fmt.Fprintf(out, "  %4d  %s\n", len(npa.FilterByTopics(filings, []npa.TopicTag{topic})), topic.ShortLabel())
	}
}

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <title...>",
		Short: "Print the topics a filing title is classified into",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			matches := classify.New().Explain(title)
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "no topics")
				return nil
			}
			for _, match := range matches {
				fmt.Fprintf(out, "%s\t%s\t(%s)\n", match.Topic, match.Topic.ShortLabel(), match.Keyword)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "npa-bot %s\n", version)
		},
	}
}
