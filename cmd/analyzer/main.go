package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geeknik/rtl-sdr-analyzer/cmd/analyzer/app"
)

var (
	logLevel slog.LevelVar
	logger   = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	configPath   string
	freq         float64
	host         string
	port         int
	logLevelFlag string

	eventsConfig app.EventsConfig
)

var rootCmd = &cobra.Command{
	Use:           "analyzer",
	Short:         "Detect anomalous RF activity from an rtl_tcp server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := app.LoadConfig(configPath)
		if err != nil {
			return err
		}

		if err = applyOverrides(cmd, config); err != nil {
			return err
		}

		logLevel.Set(config.Settings.LogLevel)

		return app.Run(cmd.Context(), config, logger)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List stored sessions, or the detection events of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunEvents(cmd.Context(), &eventsConfig, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.Flags().Float64Var(&freq, "freq", 0, "Center frequency in Hz")
	rootCmd.Flags().StringVar(&host, "host", "", "rtl_tcp server host")
	rootCmd.Flags().IntVar(&port, "port", 0, "rtl_tcp server port")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")

	eventsCmd.Flags().StringVar(&eventsConfig.DBPath, "db", "data/analyzer.sqlite", "Path to the database file")
	eventsCmd.Flags().Int64VarP(&eventsConfig.SessionID, "session", "s", 0, "Session ID, lists sessions when omitted")
	eventsCmd.Flags().DurationVar(&eventsConfig.Since, "since", 0, "Only events within this duration from now")
	eventsCmd.Flags().Float64Var(&eventsConfig.MinConfidence, "min-confidence", 0, "Minimum event confidence")
	eventsCmd.Flags().IntVarP(&eventsConfig.Limit, "limit", "l", 0, "Maximum number of events")

	rootCmd.AddCommand(eventsCmd)
}

// applyOverrides copies the flags given on the command line over the
// configuration file.
func applyOverrides(cmd *cobra.Command, config *app.Config) error {
	flags := cmd.Flags()

	if flags.Changed("freq") {
		config.Receiver.Frequency = freq
	}
	if flags.Changed("host") {
		config.RTLTCP.Host = host
	}
	if flags.Changed("port") {
		config.RTLTCP.Port = port
	}
	if flags.Changed("log-level") {
		if err := config.Settings.LogLevel.UnmarshalText([]byte(logLevelFlag)); err != nil {
			return err
		}
	}

	return config.Validate()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
