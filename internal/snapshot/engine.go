package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

// Config tunes the daily job's windows. Zero values fall back to the
// defaults in DefaultConfig.
type Config struct {
	Thresholds          OutlierThresholds `yaml:"thresholds" mapstructure:"thresholds"`
	StaleAfterDays      int               `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	ReferenceWindowDays int               `yaml:"reference_window_days" mapstructure:"reference_window_days"`
	RetentionDays       int               `yaml:"retention_days" mapstructure:"retention_days"`
	FlagDedupWindow     time.Duration     `yaml:"flag_dedup_window" mapstructure:"flag_dedup_window"`
}

// DefaultConfig returns the standard daily job configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		StaleAfterDays:      7,
		ReferenceWindowDays: 30,
		RetentionDays:       365,
		FlagDedupWindow:     24 * time.Hour,
	}
}

// Result summarizes one daily run.
type Result struct {
	SnapshotsUpserted int
	FlagsCreated      int
	FlagsSuppressed   int
	ReferencesUpdated int
	SnapshotsPurged   int
	Failed            int
}

// Metadata renders the result for the job log.
func (r *Result) Metadata() map[string]any {
	return map[string]any{
		"snapshots_upserted": r.SnapshotsUpserted,
		"flags_created":      r.FlagsCreated,
		"flags_suppressed":   r.FlagsSuppressed,
		"references_updated": r.ReferencesUpdated,
		"snapshots_purged":   r.SnapshotsPurged,
		"failed":             r.Failed,
	}
}

// Engine runs the daily snapshot job.
type Engine struct {
	store store.Store
	cfg   Config
}

// NewEngine creates a daily snapshot engine.
func NewEngine(st store.Store, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Thresholds == (OutlierThresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.StaleAfterDays <= 0 {
		cfg.StaleAfterDays = def.StaleAfterDays
	}
	if cfg.ReferenceWindowDays <= 0 {
		cfg.ReferenceWindowDays = def.ReferenceWindowDays
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}
	if cfg.FlagDedupWindow <= 0 {
		cfg.FlagDedupWindow = def.FlagDedupWindow
	}
	return &Engine{store: st, cfg: cfg}
}

// RunDaily executes the full daily job for the given date: aggregate
// active promotions into snapshots, detect outliers against the reference
// prices as they stood before this run, flag stale products, refresh the
// rolling references, and purge expired snapshots. Failures on one product
// never abort the run; they are counted and logged.
func (e *Engine) RunDaily(ctx context.Context, date time.Time) (*Result, error) {
	log := zap.L().With(zap.String("component", "snapshot.engine"))
	day := model.Day(date)
	res := &Result{}

	promos, err := e.store.ActivePromotions(ctx, day)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: load active promotions")
	}
	log.Info("daily run starting",
		zap.Time("date", day),
		zap.Int("active_promotions", len(promos)),
	)

	snaps := BuildSnapshots(promos, day)
	if err := e.upsertSnapshots(ctx, snaps, res, log); err != nil {
		return nil, err
	}

	// Outliers are judged against the reference prices from before this
	// run; the refresh below must not see its own day's data reflected
	// into the comparison baseline.
	products, err := e.loadProducts(ctx, promos)
	if err != nil {
		return nil, err
	}
	e.detectOutliers(ctx, promos, products, res, log)
	e.detectStale(ctx, day, res, log)
	e.refreshReferences(ctx, day, snaps, res, log)

	cutoff := day.AddDate(0, 0, -e.cfg.RetentionDays)
	purged, err := e.store.PurgeSnapshotsBefore(ctx, cutoff)
	if err != nil {
		log.Error("purge failed", zap.Error(err))
		res.Failed++
	} else {
		res.SnapshotsPurged = purged
	}

	log.Info("daily run complete",
		zap.Int("snapshots", res.SnapshotsUpserted),
		zap.Int("flags_created", res.FlagsCreated),
		zap.Int("flags_suppressed", res.FlagsSuppressed),
		zap.Int("references_updated", res.ReferencesUpdated),
		zap.Int("purged", res.SnapshotsPurged),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// upsertSnapshots tries the bulk path first and degrades to per-row
// upserts so one bad row cannot sink the whole day.
func (e *Engine) upsertSnapshots(ctx context.Context, snaps []model.PriceSnapshot, res *Result, log *zap.Logger) error {
	if len(snaps) == 0 {
		return nil
	}

	if _, err := e.store.UpsertSnapshots(ctx, snaps); err != nil {
		log.Warn("bulk snapshot upsert failed, falling back to per-row", zap.Error(err))
	} else {
		res.SnapshotsUpserted = len(snaps)
		return nil
	}

	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.store.UpsertSnapshot(ctx, snap); err != nil {
			log.Error("snapshot upsert failed",
				zap.String("product_id", snap.ProductID),
				zap.Error(err),
			)
			res.Failed++
			continue
		}
		res.SnapshotsUpserted++
	}
	return nil
}

func (e *Engine) loadProducts(ctx context.Context, promos []model.Promotion) (map[string]model.Product, error) {
	seen := make(map[string]struct{}, len(promos))
	ids := make([]string, 0, len(promos))
	for _, p := range promos {
		if _, ok := seen[p.ProductID]; ok {
			continue
		}
		seen[p.ProductID] = struct{}{}
		ids = append(ids, p.ProductID)
	}

	products, err := e.store.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: load products")
	}
	return products, nil
}

func (e *Engine) detectOutliers(ctx context.Context, promos []model.Promotion, products map[string]model.Product, res *Result, log *zap.Logger) {
	since := time.Now().UTC().Add(-e.cfg.FlagDedupWindow)

	for _, p := range promos {
		product, ok := products[p.ProductID]
		if !ok || product.ReferencePrice == nil || *product.ReferencePrice <= 0 {
			continue
		}

		price := p.PromoPrice.InexactFloat64()
		ref := *product.ReferencePrice
		flagType, severity, isOutlier := e.cfg.Thresholds.Classify(price / ref)
		if !isOutlier {
			continue
		}

		exists, err := e.store.HasUnresolvedFlagSince(ctx, p.ProductID, flagType, since)
		if err != nil {
			log.Error("flag dedup check failed", zap.String("product_id", p.ProductID), zap.Error(err))
			res.Failed++
			continue
		}
		if exists {
			res.FlagsSuppressed++
			continue
		}

		_, err = e.store.CreateFlag(ctx, model.QualityFlag{
			ProductID:      p.ProductID,
			StoreID:        p.StoreID,
			FlagType:       flagType,
			Severity:       severity,
			Detail:         fmt.Sprintf("promo price %.2f is %.0f%% of reference %.2f", price, price/ref*100, ref),
			ReferenceValue: &ref,
			ActualValue:    &price,
		})
		if err != nil {
			log.Error("flag insert failed", zap.String("product_id", p.ProductID), zap.Error(err))
			res.Failed++
			continue
		}
		res.FlagsCreated++
	}
}

func (e *Engine) detectStale(ctx context.Context, day time.Time, res *Result, log *zap.Logger) {
	staleSince := day.AddDate(0, 0, -e.cfg.StaleAfterDays)
	stale, err := e.store.StaleProducts(ctx, staleSince)
	if err != nil {
		log.Error("stale product lookup failed", zap.Error(err))
		res.Failed++
		return
	}

	dedupSince := time.Now().UTC().Add(-e.cfg.FlagDedupWindow)
	for _, p := range stale {
		exists, err := e.store.HasUnresolvedFlagSince(ctx, p.ID, model.FlagStale, dedupSince)
		if err != nil {
			log.Error("stale dedup check failed", zap.String("product_id", p.ID), zap.Error(err))
			res.Failed++
			continue
		}
		if exists {
			res.FlagsSuppressed++
			continue
		}

		_, err = e.store.CreateFlag(ctx, model.QualityFlag{
			ProductID:      p.ID,
			FlagType:       model.FlagStale,
			Severity:       model.SeverityMedium,
			Detail:         fmt.Sprintf("no price snapshot since %s", staleSince.Format("2006-01-02")),
			ReferenceValue: p.ReferencePrice,
		})
		if err != nil {
			log.Error("stale flag insert failed", zap.String("product_id", p.ID), zap.Error(err))
			res.Failed++
			continue
		}
		res.FlagsCreated++
	}
}

func (e *Engine) refreshReferences(ctx context.Context, day time.Time, snaps []model.PriceSnapshot, res *Result, log *zap.Logger) {
	from := day.AddDate(0, 0, -e.cfg.ReferenceWindowDays)

	for _, snap := range snaps {
		mean, err := e.store.ReferenceWindowMean(ctx, snap.ProductID, from, day)
		if err != nil {
			log.Error("reference mean failed", zap.String("product_id", snap.ProductID), zap.Error(err))
			res.Failed++
			continue
		}
		if mean == nil {
			continue
		}
		if err := e.store.UpdateReferencePrice(ctx, snap.ProductID, *mean); err != nil {
			log.Error("reference update failed", zap.String("product_id", snap.ProductID), zap.Error(err))
			res.Failed++
			continue
		}
		res.ReferencesUpdated++
	}
}
