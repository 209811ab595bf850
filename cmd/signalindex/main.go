package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "signalindex",
		Short:         "Track and score the influence of public figures across sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(importCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(latestCmd())
	root.AddCommand(seriesCmd())
	root.AddCommand(deltasCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Collect from sources and persist observations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), sources)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific sources to collect (e.g., rss,lastfm)")
	return cmd
}

func importCmd() *cobra.Command {
	var shift bool

	cmd := &cobra.Command{
		Use:   "import <observations.csv>",
		Short: "Import a generic observation CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0], shift)
		},
	}

	cmd.Flags().BoolVar(&shift, "shift-to-today", false, "shift dates so the newest row lands on today")
	return cmd
}

func scoreCmd() *cobra.Command {
	var (
		files      scoreFiles
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the composite influence ranking",
		Long: "Compute the composite influence ranking from social, video and chart\n" +
			"snapshot CSVs, or from a live collection when no files are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), files, jsonOutput, limit)
		},
	}

	cmd.Flags().StringVar(&files.Social, "social", "", "social engagement CSV")
	cmd.Flags().StringVar(&files.Video, "video", "", "video views CSV")
	cmd.Flags().StringVar(&files.Chart, "chart", "", "chart positions CSV")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows to show")
	return cmd
}

func latestCmd() *cobra.Command {
	var (
		metricKey  string
		pillar     string
		people     []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest observation per person and metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLatest(cmd.Context(), metricKey, pillar, people, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&metricKey, "metric", "", "only this metric")
	cmd.Flags().StringVar(&pillar, "pillar", "", "only metrics of this pillar")
	cmd.Flags().StringSliceVar(&people, "person", nil, "only these person keys")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func seriesCmd() *cobra.Command {
	var (
		people     []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "series <metric>",
		Short: "Show the time series of a metric",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeries(cmd.Context(), args[0], people, jsonOutput)
		},
	}

	cmd.Flags().StringSliceVar(&people, "person", nil, "only these person keys")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func deltasCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "deltas [metric]",
		Short: "Show the change between the two latest observations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var metricKey string
			if len(args) == 1 {
				metricKey = args[0]
			}
			return runDeltas(cmd.Context(), metricKey, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func healthCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report data freshness per metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, false)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, true)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
