package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load categories and stores from a YAML seed file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := seed.Load(seedFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := seed.Apply(ctx, env.Store, f)
		if err != nil {
			return err
		}

		zap.L().Info("seed complete",
			zap.String("file", seedFile),
			zap.Int("categories", res.Categories),
			zap.Int("stores", res.Stores),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "path to seed YAML (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
