package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"procura.dev/bid-workbench/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bid-workbench",
	Short: "Tender bid evaluation workbench",
	Long:  "Serves the evaluation workbench for tender bids: per-partner extracted figures, joint-venture roll-ups, bookmarks and document search.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, exportCmd, resetCmd, tokenCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
