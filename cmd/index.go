package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/export"
	"github.com/precoaberto/preco-cli/internal/index"
	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Monthly price index generation and publication",
}

var (
	indexCity  string
	indexState string
	indexMonth string
)

func parseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "parse --month %q (want YYYY-MM)", s)
	}
	return t.Year(), t.Month(), nil
}

func reportOutcome(city, state string, outcome *index.Outcome) {
	log := zap.L().With(zap.String("city", city), zap.String("state", state))
	if outcome.Skipped() {
		log.Warn("index skipped", zap.String("reason", outcome.SkipReason))
		return
	}
	log.Info("index generated",
		zap.String("index_id", outcome.Index.ID),
		zap.Float64("value", outcome.Index.IndexValue),
		zap.Int("quality_score", outcome.Index.DataQualityScore),
		zap.String("status", string(outcome.Index.Status)),
		zap.String("source", string(outcome.Source)),
	)
}

var indexGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a draft index for one city and month",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, month, err := parseMonth(indexMonth)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		gen := index.NewGenerator(env.Store, indexConfig())
		outcome, err := gen.Generate(ctx, indexCity, indexState, year, month, true)
		if err != nil {
			return err
		}
		reportOutcome(indexCity, indexState, outcome)
		return nil
	},
}

var indexGenerateAllCmd = &cobra.Command{
	Use:   "generate-all",
	Short: "Generate draft indices for every configured city",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, month, err := parseMonth(indexMonth)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cities := indexCities()
		if len(cities) == 0 {
			return eris.New("no cities configured")
		}

		gen := index.NewGenerator(env.Store, indexConfig())
		for _, res := range gen.GenerateAll(ctx, cities, year, month, true) {
			if res.Err != nil {
				zap.L().Error("index generation failed",
					zap.String("city", res.City), zap.String("state", res.State), zap.Error(res.Err))
				continue
			}
			reportOutcome(res.City, res.State, res.Outcome)
		}
		return nil
	},
}

var indexRecalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Delete and regenerate an index as a draft",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, month, err := parseMonth(indexMonth)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		gen := index.NewGenerator(env.Store, indexConfig())
		outcome, err := gen.Recalculate(ctx, indexCity, indexState, year, month)
		if err != nil {
			return err
		}
		reportOutcome(indexCity, indexState, outcome)
		return nil
	},
}

func setIndexStatus(cmd *cobra.Command, id string, status model.IndexStatus) error {
	ctx := cmd.Context()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	idx, err := env.Store.GetIndex(ctx, id)
	if err != nil {
		return err
	}
	if idx == nil {
		return eris.Errorf("index not found: %s", id)
	}

	var publishedAt *time.Time
	if status == model.IndexStatusPublished {
		now := time.Now().UTC()
		publishedAt = &now
	}
	if err := env.Store.UpdateIndexStatus(ctx, id, status, publishedAt); err != nil {
		return err
	}

	zap.L().Info("index status updated",
		zap.String("index_id", id),
		zap.String("from", string(idx.Status)),
		zap.String("to", string(status)),
	)
	return nil
}

var indexPublishCmd = &cobra.Command{
	Use:   "publish <index-id>",
	Short: "Publish a draft index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setIndexStatus(cmd, args[0], model.IndexStatusPublished)
	},
}

var indexArchiveCmd = &cobra.Command{
	Use:   "archive <index-id>",
	Short: "Archive a published index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setIndexStatus(cmd, args[0], model.IndexStatusArchived)
	},
}

var indexExportOut string

var indexExportCmd = &cobra.Command{
	Use:   "export <index-id>",
	Short: "Export an index with its breakdowns as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		idx, err := env.Store.GetIndex(ctx, args[0])
		if err != nil {
			return err
		}
		if idx == nil {
			return eris.Errorf("index not found: %s", args[0])
		}

		cats, err := env.Store.IndexCategories(ctx, idx.ID)
		if err != nil {
			return err
		}
		prods, err := env.Store.IndexProducts(ctx, idx.ID)
		if err != nil {
			return err
		}

		out := os.Stdout
		if indexExportOut != "" {
			f, err := os.Create(indexExportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", indexExportOut)
			}
			defer f.Close()
			out = f
		}
		return export.WriteIndexCSV(out, idx, cats, prods)
	},
}

var indexListStatus string

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List price indices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		indices, err := env.Store.ListIndices(ctx, store.IndexFilter{
			City:   indexCity,
			State:  indexState,
			Status: model.IndexStatus(indexListStatus),
			Limit:  100,
		})
		if err != nil {
			return err
		}

		for _, idx := range indices {
			fmt.Printf("%s  %-20s %s  %8.2f  score=%-3d %-9s %s\n",
				idx.PeriodStart.Format("2006-01"),
				idx.City, idx.State,
				idx.IndexValue,
				idx.DataQualityScore,
				idx.Status,
				idx.ID,
			)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{indexGenerateCmd, indexRecalculateCmd} {
		c.Flags().StringVar(&indexCity, "city", "", "city name (required)")
		c.Flags().StringVar(&indexState, "state", "", "state code (required)")
		c.Flags().StringVar(&indexMonth, "month", "", "period YYYY-MM (required)")
		_ = c.MarkFlagRequired("city")
		_ = c.MarkFlagRequired("state")
		_ = c.MarkFlagRequired("month")
	}

	indexGenerateAllCmd.Flags().StringVar(&indexMonth, "month", "", "period YYYY-MM (required)")
	_ = indexGenerateAllCmd.MarkFlagRequired("month")

	indexExportCmd.Flags().StringVar(&indexExportOut, "out", "", "output file (default stdout)")

	indexListCmd.Flags().StringVar(&indexCity, "city", "", "filter by city")
	indexListCmd.Flags().StringVar(&indexState, "state", "", "filter by state")
	indexListCmd.Flags().StringVar(&indexListStatus, "status", "", "filter by status")

	indexCmd.AddCommand(indexGenerateCmd, indexGenerateAllCmd, indexRecalculateCmd,
		indexPublishCmd, indexArchiveCmd, indexExportCmd, indexListCmd)
	rootCmd.AddCommand(indexCmd)
}
