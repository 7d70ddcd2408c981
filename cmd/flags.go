package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Price quality flag moderation",
}

var flagsListLimit int

var flagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved quality flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		flags, err := env.Store.ListUnresolvedFlags(ctx, flagsListLimit)
		if err != nil {
			return err
		}

		for _, f := range flags {
			fmt.Printf("%s  %-18s %-8s product=%s  %s  %s\n",
				f.CreatedAt.Format("2006-01-02 15:04"),
				f.FlagType,
				f.Severity,
				f.ProductID,
				f.Detail,
				f.ID,
			)
		}
		return nil
	},
}

var flagsResolveBy string

var flagsResolveCmd = &cobra.Command{
	Use:   "resolve <flag-id>",
	Short: "Mark a quality flag as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.ResolveFlag(ctx, args[0], flagsResolveBy); err != nil {
			return err
		}
		zap.L().Info("flag resolved", zap.String("flag_id", args[0]), zap.String("by", flagsResolveBy))
		return nil
	},
}

func init() {
	flagsListCmd.Flags().IntVar(&flagsListLimit, "limit", 50, "max flags to show")
	flagsResolveCmd.Flags().StringVar(&flagsResolveBy, "by", "", "resolver name (required)")
	_ = flagsResolveCmd.MarkFlagRequired("by")
	flagsCmd.AddCommand(flagsListCmd, flagsResolveCmd)
	rootCmd.AddCommand(flagsCmd)
}
