// Command leadboard runs the property lead board: an HTTP API with a live
// event stream, a terminal board, and storage provisioning.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lead-board/config"
)

var (
	configPath string
	debug      bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "leadboard",
	Short: "Kanban board for property leads",
	Long: `leadboard tracks property listings across the stages of a sales pipeline.

Moves are applied locally at once and persisted in the background; a failed
write rolls the card back. Updates from other sessions and from the
automation worker arrive over a Redis channel.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			loaded.Debug = true
		}
		if loaded.Debug {
			log.SetLevel(log.DebugLevel)
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "leadboard.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, tuiCmd, initStorageCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("leadboard failed")
		os.Exit(1)
	}
}
