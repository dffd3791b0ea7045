// Command watchpost runs an on-device face recognition node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/watchpost/internal/config"
	"github.com/ayusman/watchpost/internal/logging"
)

// Version is the application version.
const Version = "0.1.0"

var (
	configFile string
	settings   *config.Settings
)

var rootCmd = &cobra.Command{
	Use:           "watchpost",
	Short:         "On-device face recognition and recording node",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.Load(configFile)
		if err != nil {
			return err
		}
		return logging.Init(logging.Options{
			Level:      settings.Log.Level,
			FilePath:   settings.Log.Path,
			MaxSizeMB:  settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			MaxAgeDays: settings.Log.MaxAgeDays,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: config.yaml in . or ~/.watchpost)")
	rootCmd.AddCommand(runCmd, galleryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "watchpost:", err)
		os.Exit(1)
	}
}
