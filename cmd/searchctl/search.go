package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
)

var (
	maxResults int
	topic      string
	quality    string
	market     string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Run a search batch with the configured strategy",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := search.Options{Market: market}
		if maxResults > 0 {
			opts.MaxResults = []int{maxResults}
		}
		if topic != "" {
			opts.Topics = []search.Topic{search.Topic(topic)}
		}
		if quality != "" {
			opts.Quality = []search.Quality{search.Quality(quality)}
		}
		if err := opts.Normalize(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		a, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		opts.Progress = progressSink(os.Stderr)

		resp, err := a.Orchestrator.Run(ctx, args, opts)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	searchCmd.Flags().IntVarP(&maxResults, "max-results", "n", 0,
		"Results per query (default from configuration)")
	searchCmd.Flags().StringVar(&topic, "topic", "",
		"Topic hint: general, news")
	searchCmd.Flags().StringVar(&quality, "quality", "",
		"Search depth: default, best")
	searchCmd.Flags().StringVar(&market, "market", "",
		"Authority code for the regulatory strategy")
	rootCmd.AddCommand(searchCmd)
}
