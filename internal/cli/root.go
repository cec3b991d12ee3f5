// Package cli implements the rift command line.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/hchap1/rift/internal/logger"
	"github.com/hchap1/rift/internal/node"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	listenAddr     string
	logLevel       string
	confirmTimeout time.Duration
	username       string
)

var rootCmd = &cobra.Command{
	Use:   "rift",
	Short: "direct peer to peer chat",
	Long: `rift connects two machines directly over QUIC and exchanges text and images,
confirming every delivery.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rift: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&listenAddr, "addr", ":0", "UDP address to listen on")
	flags.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.DurationVar(&confirmTimeout, "timeout", node.DefaultConfirmTimeout, "how long to wait for a delivery confirmation")
	flags.StringVar(&username, "name", "", "username announced to every peer")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

func nodeConfig() (node.Config, error) {
	log, err := newLogger()
	if err != nil {
		return node.Config{}, err
	}
	return node.Config{
		Addr:           listenAddr,
		Logger:         log,
		ConfirmTimeout: confirmTimeout,
	}, nil
}

func newLogger() (*logrus.Logger, error) {
	log, err := logger.New(logLevel)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return log, nil
}
