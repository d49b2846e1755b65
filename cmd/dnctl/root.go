package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/internal/config"
	"github.com/arloliu/go-directnet/logger"
	"github.com/spf13/cobra"
)

// GlobalFlags holds the flags shared by every command.
type GlobalFlags struct {
	ConfigFile string
	LogLevel   string
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "dnctl",
	Short: "DirectNet master and device simulator",
	Long: `dnctl reads and writes PLC memory over DirectNet.

PLCs and the lines they hang on are defined in a configuration file
(dnctl.yaml in /etc/dnctl, ~/.dnctl or the working directory, or --config).
The sim command runs a software stand-in device for testing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(globalFlags.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLogger(logger.NewSlogWriter(os.Stderr, level, false))

		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "configuration file (default: dnctl.yaml in the search path)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "info", "log level: debug|info|warn|error")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(simCmd)
}

// openClient loads the configuration and opens a client on every configured port.
// The log level flag wins over the file when it was given explicitly.
func openClient(ctx context.Context, cmd *cobra.Command) (*directnet.Client, error) {
	cfg, err := config.Load(globalFlags.ConfigFile)
	if err != nil {
		return nil, err
	}

	if !cmd.Flags().Changed("log-level") {
		logger.SetLogger(cfg.NewLogger(os.Stderr))
	}
	l := logger.GetLogger()

	reg, err := cfg.NewRegistry(l)
	if err != nil {
		return nil, err
	}

	client, err := directnet.NewClient(ctx, reg, cfg.ClientOptions(l)...)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	if err := client.Open(); err != nil {
		_ = reg.Close()
		return nil, err
	}

	return client, nil
}

// closeClient stops the client and closes its transports.
func closeClient(client *directnet.Client) {
	if err := client.Close(); err != nil {
		logger.Warn("dnctl: close client", "error", err)
	}
	if err := client.Registry().Close(); err != nil {
		logger.Warn("dnctl: close transports", "error", err)
	}
}
