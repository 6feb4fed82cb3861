// Package cli provides the command-line interface for vamos.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vamos-go/internal/config"
	"github.com/raphaelgruber/vamos-go/internal/db"
	"github.com/raphaelgruber/vamos-go/internal/metrics"
)

// annotationTUI marks commands that may take over the terminal.
const annotationTUI = "tui"

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose  bool
	plain    bool
	apiURL   string
	logLevel string

	// Global state, set up in PersistentPreRunE
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	collector *metrics.Collector
	history   *db.Client
	sessionID string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vamos",
	Short: "Submit videos for face and license plate masking",
	Long: `vamos uploads a video to the de-identification backend, follows the
analysis until it finishes and plays the masked result next to the original.

Jobs are recorded in a local history so an interrupted session can be
resumed with 'vamos watch <job-id>'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if apiURL != "" {
			cfg.APIURL = apiURL
		}
		if logLevel != "" {
			cfg.LogLevel = config.ParseLogLevel(logLevel)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// The progress view owns the terminal, so its logs only go to the file.
		console := !(cmd.Annotations[annotationTUI] == "true" && interactive())
		sessionID = uuid.NewString()[:8]
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, console)
		logger = logger.With("session", sessionID)
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		logger.Debug("command started", "command", cmd.Name(), "api_url", cfg.APIURL)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if history != nil {
			if err := history.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close history: %v\n", err)
			}
			history = nil
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// openHistory connects to the job history on first use.
func openHistory(ctx context.Context) (*db.Client, error) {
	if history != nil {
		return history, nil
	}
	var err error
	history, err = db.Open(ctx, cfg.HistoryPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return history, nil
}

// Execute adds all child commands to the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "print plain progress lines instead of the interactive view")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend address (overrides VAMOS_API_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(configCmd)
}
