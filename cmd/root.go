package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "preco-cli",
	Short: "Retail price intelligence pipeline",
	Long:  "Extracts prices from supermarket flyers via redundant vision passes, reconciles them by consensus, maintains daily price snapshots with quality flags, and computes monthly city price indices.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
