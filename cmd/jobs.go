package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/index"
	"github.com/precoaberto/preco-cli/internal/schedule"
	"github.com/precoaberto/preco-cli/internal/snapshot"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Scheduled pipeline jobs",
}

var jobsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run whichever scheduled jobs are due",
	Long: `Checks the job log and runs the due jobs: the daily snapshot job at
most once per calendar day, and the monthly index job once per month
starting on the 3rd, covering the previous month. Intended to be invoked
from cron more often than the jobs themselves fire.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		now := time.Now().UTC()

		if err := runDailyIfDue(ctx, env, now); err != nil {
			return err
		}
		return runMonthlyIfDue(ctx, env, now)
	},
}

func runDailyIfDue(ctx context.Context, env *pipelineEnv, now time.Time) error {
	last, err := env.Store.JobLastSuccess(ctx, "daily_snapshot")
	if err != nil {
		return err
	}
	if !schedule.DailyDue(now, last) {
		zap.L().Debug("daily snapshot not due")
		return nil
	}

	jobID, err := env.Store.JobStart(ctx, "daily_snapshot")
	if err != nil {
		return err
	}

	engine := snapshot.NewEngine(env.Store, snapshotConfig())
	res, err := engine.RunDaily(ctx, now)
	if err != nil {
		_ = env.Store.JobFail(ctx, jobID, err.Error())
		return err
	}
	if err := env.Store.JobComplete(ctx, jobID, res.Metadata()); err != nil {
		return err
	}

	zap.L().Info("daily snapshot job complete",
		zap.Int("snapshots", res.SnapshotsUpserted),
		zap.Int("flags", res.FlagsCreated),
	)
	return nil
}

func runMonthlyIfDue(ctx context.Context, env *pipelineEnv, now time.Time) error {
	last, err := env.Store.JobLastSuccess(ctx, "monthly_index")
	if err != nil {
		return err
	}
	if !schedule.MonthlyDue(now, last) {
		zap.L().Debug("monthly index not due")
		return nil
	}

	cities := indexCities()
	if len(cities) == 0 {
		zap.L().Warn("monthly index due but no cities configured")
		return nil
	}

	jobID, err := env.Store.JobStart(ctx, "monthly_index")
	if err != nil {
		return err
	}

	year, month := schedule.PreviousMonth(now)
	gen := index.NewGenerator(env.Store, indexConfig())

	// Scheduled runs may auto-publish when the quality score clears the
	// configured threshold.
	var generated, skipped, failed int
	for _, res := range gen.GenerateAll(ctx, cities, year, month, false) {
		switch {
		case res.Err != nil:
			failed++
		case res.Outcome.Skipped():
			skipped++
		default:
			generated++
		}
	}

	if err := env.Store.JobComplete(ctx, jobID, map[string]any{
		"period":    fmt.Sprintf("%04d-%02d", year, int(month)),
		"generated": generated,
		"skipped":   skipped,
		"failed":    failed,
	}); err != nil {
		return err
	}

	zap.L().Info("monthly index job complete",
		zap.Int("generated", generated),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return nil
}

var jobsStatusLimit int

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent job runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListJobRuns(ctx, jobsStatusLimit)
		if err != nil {
			return err
		}

		for _, run := range runs {
			completed := "-"
			if run.CompletedAt != nil {
				completed = run.CompletedAt.Format("2006-01-02 15:04")
			}
			line := fmt.Sprintf("%s  %-16s %-9s completed=%s",
				run.StartedAt.Format("2006-01-02 15:04"), run.Job, run.Status, completed)
			if run.Error != "" {
				line += "  error=" + run.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	jobsStatusCmd.Flags().IntVar(&jobsStatusLimit, "limit", 20, "max runs to show")
	jobsCmd.AddCommand(jobsRunCmd, jobsStatusCmd)
	rootCmd.AddCommand(jobsCmd)
}
