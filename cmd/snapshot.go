package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Daily price snapshot and quality-flag jobs",
}

var snapshotDate string

var snapshotRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Aggregate active promotions into daily snapshots and detect anomalies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		date := time.Now().UTC()
		if snapshotDate != "" {
			date, err = time.Parse("2006-01-02", snapshotDate)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", snapshotDate)
			}
		}

		jobID, err := env.Store.JobStart(ctx, "daily_snapshot")
		if err != nil {
			return err
		}

		engine := snapshot.NewEngine(env.Store, snapshotConfig())
		res, err := engine.RunDaily(ctx, date)
		if err != nil {
			_ = env.Store.JobFail(ctx, jobID, err.Error())
			return err
		}
		if err := env.Store.JobComplete(ctx, jobID, res.Metadata()); err != nil {
			return err
		}

		zap.L().Info("daily snapshot complete",
			zap.String("date", date.Format("2006-01-02")),
			zap.Int("snapshots", res.SnapshotsUpserted),
			zap.Int("flags", res.FlagsCreated),
			zap.Int("references", res.ReferencesUpdated),
			zap.Int("purged", res.SnapshotsPurged),
			zap.Int("failed", res.Failed),
		)
		return nil
	},
}

func init() {
	snapshotRunCmd.Flags().StringVar(&snapshotDate, "date", "", "snapshot date YYYY-MM-DD (default today)")
	snapshotCmd.AddCommand(snapshotRunCmd)
	rootCmd.AddCommand(snapshotCmd)
}
