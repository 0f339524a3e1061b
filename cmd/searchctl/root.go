package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/app"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/config"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
)

var (
	logLevel   string
	noProgress bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "searchctl",
	Short: "Run searches and research from the command line",
	Long: `searchctl wires the same services as the server from the same
configuration (CONFIG_PATH, SEARCHCORE_* and provider key variables).

Commands:
  searchctl search <query>...   Run a search batch (at most 5 queries)
  searchctl research <prompt>   Plan, research and synthesize an answer`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load(".env.local")
		_ = godotenv.Load(".env")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false,
		"Do not write progress events to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute,
		"Abort the run after this long")
}

// setup loads configuration and builds the services. The returned cleanup
// closes them.
func setup(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = "console"
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Debug("Close", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

// progressSink writes each event as one JSON line. A nil sink is returned
// with --no-progress; every producer tolerates it.
func progressSink(w io.Writer) streaming.Sink {
	if noProgress {
		return nil
	}
	var mu sync.Mutex
	return streaming.FuncSink(func(ev streaming.ProgressEvent) {
		line := ev.Marshal()
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write(append(line, '\n'))
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
