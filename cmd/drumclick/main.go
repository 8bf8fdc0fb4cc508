package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/accesstechnology-mike/drumclick/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cfg is loaded from the environment before flags are parsed, so flag
// defaults show the effective values.
var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "drumclick",
	Short: "Click track with band-wide clock sync",
	Long: `drumclick plays a precisely scheduled click track with spoken counts,
compound meters and polyrhythms, and keeps a band's clicks together over
WebRTC by estimating each member's clock skew.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logrus.SetLevel(cfg.Level())
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.AssetDir, "assets", cfg.AssetDir, "directory holding the voice samples")
	flags.StringVar(&cfg.Output, "output", cfg.Output, `audio output: "device" or "headless"`)
	flags.StringVar(&cfg.OSCTarget, "osc", cfg.OSCTarget, "send beats as OSC to host:port")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
