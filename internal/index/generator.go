package index

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

// Skip reasons for a deliberate no-op generation. Distinguishable from
// errors: the caller gets an Outcome, not a failure.
const (
	SkipExists      = "index already exists for period"
	SkipNoStores    = "no active stores in city"
	SkipNoPriceData = "no price data in period"
)

// Config tunes index generation.
type Config struct {
	Weights          Weights
	PublishThreshold int // quality score gating auto-publication
}

// Generator produces monthly price indices.
type Generator struct {
	store     store.Store
	weights   Weights
	threshold int
}

// NewGenerator creates an index generator. Zero config fields fall back
// to the standard weight table and the publish threshold of 70.
func NewGenerator(st store.Store, cfg Config) *Generator {
	if cfg.Weights.ByCategory == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.PublishThreshold <= 0 {
		cfg.PublishThreshold = 70
	}
	return &Generator{store: st, weights: cfg.Weights, threshold: cfg.PublishThreshold}
}

// Outcome reports one city's generation: either a created index or a
// named skip reason.
type Outcome struct {
	Index      *model.PriceIndex
	Source     Source
	SkipReason string
}

// Skipped reports whether generation was a deliberate no-op.
func (o *Outcome) Skipped() bool { return o.SkipReason != "" }

// Generate computes and persists the index for one city and month.
// Idempotent: an existing index for the period is a skip, not an error.
// forceDraft suppresses auto-publication; manual generation always sets
// it, reserving auto-publish for the unattended monthly job.
func (g *Generator) Generate(ctx context.Context, city, state string, year int, month time.Month, forceDraft bool) (*Outcome, error) {
	log := zap.L().With(
		zap.String("component", "index.generator"),
		zap.String("city", city),
		zap.String("state", state),
		zap.Int("year", year),
		zap.Int("month", int(month)),
	)

	periodStart, periodEnd := model.MonthPeriod(year, month)

	existing, err := g.store.GetIndexByPeriod(ctx, city, state, periodStart)
	if err != nil {
		return nil, eris.Wrap(err, "index: existence check")
	}
	if existing != nil {
		log.Info("skipping", zap.String("reason", SkipExists))
		return &Outcome{SkipReason: SkipExists}, nil
	}

	stores, err := g.store.ActiveStoresByCity(ctx, city, state)
	if err != nil {
		return nil, eris.Wrap(err, "index: load stores")
	}
	if len(stores) == 0 {
		log.Info("skipping", zap.String("reason", SkipNoStores))
		return &Outcome{SkipReason: SkipNoStores}, nil
	}
	storeIDs := make([]string, len(stores))
	for i, st := range stores {
		storeIDs[i] = st.ID
	}

	data, err := ResolvePeriodData(ctx, g.store, storeIDs, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if len(data.Products) == 0 {
		log.Info("skipping", zap.String("reason", SkipNoPriceData))
		return &Outcome{SkipReason: SkipNoPriceData}, nil
	}
	log.Info("period data resolved",
		zap.String("source", string(data.Source)),
		zap.Int("products", len(data.Products)),
		zap.Int("rows", data.SnapshotCount),
	)

	productIDs := make([]string, len(data.Products))
	for i, pa := range data.Products {
		productIDs[i] = pa.ProductID
	}
	products, err := g.store.ProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, eris.Wrap(err, "index: load products")
	}

	categories := AggregateCategories(data.Products, products, g.weights)
	indexValue := IndexValue(categories)

	score := QualityScore(QualityInputs{
		ProductsWithData:   len(data.Products),
		TotalProductsSeen:  data.TotalProductsSeen,
		SnapshotCount:      data.SnapshotCount,
		DaysInMonth:        periodEnd.Day(),
		StoreCount:         len(stores),
		CategoriesWithData: len(categories),
	})

	prev, prevCatAvg, prevProdAvg, err := g.loadPrevious(ctx, city, state, periodStart.AddDate(0, -1, 0))
	if err != nil {
		return nil, err
	}
	yoy, err := g.store.GetIndexByPeriod(ctx, city, state, periodStart.AddDate(-1, 0, 0))
	if err != nil {
		return nil, eris.Wrap(err, "index: load prior year index")
	}

	now := time.Now().UTC()
	idx := model.PriceIndex{
		ID:               uuid.New().String(),
		City:             city,
		State:            state,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		IndexValue:       indexValue,
		DataQualityScore: score,
		ProductCount:     len(data.Products),
		StoreCount:       len(stores),
		SnapshotCount:    data.SnapshotCount,
		Status:           model.IndexStatusDraft,
		CreatedAt:        now,
	}
	if prev != nil {
		idx.MoMChangePercent = PercentChange(indexValue, &prev.IndexValue)
	}
	if yoy != nil {
		idx.YoYChangePercent = PercentChange(indexValue, &yoy.IndexValue)
	}
	if !forceDraft && score >= g.threshold {
		idx.Status = model.IndexStatusPublished
		idx.PublishedAt = &now
	}

	catRows := make([]model.PriceIndexCategory, len(categories))
	for i, cat := range categories {
		catRows[i] = model.PriceIndexCategory{
			ID:               uuid.New().String(),
			IndexID:          idx.ID,
			CategoryID:       cat.CategoryID,
			AvgPrice:         cat.AvgPrice,
			MinPrice:         cat.MinPrice,
			MaxPrice:         cat.MaxPrice,
			ProductCount:     cat.ProductCount,
			MoMChangePercent: PercentChange(cat.AvgPrice, prevCatAvg[cat.CategoryID]),
			Weight:           cat.Weight,
		}
	}
	prodRows := make([]model.PriceIndexProduct, len(data.Products))
	for i, pa := range data.Products {
		prodRows[i] = model.PriceIndexProduct{
			ID:               uuid.New().String(),
			IndexID:          idx.ID,
			ProductID:        pa.ProductID,
			AvgPrice:         pa.AvgPrice,
			MinPrice:         pa.MinPrice,
			MaxPrice:         pa.MaxPrice,
			SnapshotDays:     pa.SnapshotDays,
			MoMChangePercent: PercentChange(pa.AvgPrice, prevProdAvg[pa.ProductID]),
		}
	}

	if err := g.store.CreateIndex(ctx, idx); err != nil {
		return nil, eris.Wrap(err, "index: insert")
	}
	if err := g.insertChildren(ctx, idx.ID, catRows, prodRows); err != nil {
		// Remove the parent so the existence check does not block a retry.
		if delErr := g.store.DeleteIndex(ctx, idx.ID); delErr != nil {
			log.Error("cleanup of partial index failed", zap.Error(delErr))
		}
		return nil, err
	}

	log.Info("index generated",
		zap.Float64("value", indexValue),
		zap.Int("quality_score", score),
		zap.String("status", string(idx.Status)),
	)
	return &Outcome{Index: &idx, Source: data.Source}, nil
}

func (g *Generator) insertChildren(ctx context.Context, indexID string, cats []model.PriceIndexCategory, prods []model.PriceIndexProduct) error {
	if err := g.store.InsertIndexCategories(ctx, cats); err != nil {
		return eris.Wrap(err, "index: insert categories")
	}
	if err := g.store.InsertIndexProducts(ctx, prods); err != nil {
		return eris.Wrap(err, "index: insert products")
	}
	return nil
}

// loadPrevious fetches the prior month's index and maps its category and
// product averages for MoM lookups.
func (g *Generator) loadPrevious(ctx context.Context, city, state string, periodStart time.Time) (*model.PriceIndex, map[string]*float64, map[string]*float64, error) {
	prev, err := g.store.GetIndexByPeriod(ctx, city, state, periodStart)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "index: load prior month index")
	}
	if prev == nil {
		return nil, nil, nil, nil
	}

	prevCats, err := g.store.IndexCategories(ctx, prev.ID)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "index: load prior month categories")
	}
	prevProds, err := g.store.IndexProducts(ctx, prev.ID)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "index: load prior month products")
	}

	catAvg := make(map[string]*float64, len(prevCats))
	for _, c := range prevCats {
		v := c.AvgPrice
		catAvg[c.CategoryID] = &v
	}
	prodAvg := make(map[string]*float64, len(prevProds))
	for _, p := range prevProds {
		v := p.AvgPrice
		prodAvg[p.ProductID] = &v
	}
	return prev, catAvg, prodAvg, nil
}

// CityState identifies one index generation unit.
type CityState struct {
	City  string `yaml:"city" mapstructure:"city"`
	State string `yaml:"state" mapstructure:"state"`
}

// CityOutcome is GenerateAll's per-city result.
type CityOutcome struct {
	CityState
	Outcome *Outcome
	Err     error
}

// GenerateAll runs Generate for each city. A failure in one city never
// stops the others; each city's outcome or error is reported separately.
func (g *Generator) GenerateAll(ctx context.Context, cities []CityState, year int, month time.Month, forceDraft bool) []CityOutcome {
	log := zap.L().With(zap.String("component", "index.generator"))
	results := make([]CityOutcome, 0, len(cities))

	var generated, skipped, failed int
	for _, cs := range cities {
		if err := ctx.Err(); err != nil {
			results = append(results, CityOutcome{CityState: cs, Err: err})
			failed++
			continue
		}

		outcome, err := g.Generate(ctx, cs.City, cs.State, year, month, forceDraft)
		if err != nil {
			log.Error("city generation failed",
				zap.String("city", cs.City),
				zap.String("state", cs.State),
				zap.Error(err),
			)
			results = append(results, CityOutcome{CityState: cs, Err: err})
			failed++
			continue
		}
		results = append(results, CityOutcome{CityState: cs, Outcome: outcome})
		if outcome.Skipped() {
			skipped++
		} else {
			generated++
		}
	}

	log.Info("batch complete",
		zap.Int("generated", generated),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return results
}

// Recalculate deletes an existing index for the period (children cascade)
// and regenerates it as a draft. Used after data corrections; the result
// always requires manual re-publication.
func (g *Generator) Recalculate(ctx context.Context, city, state string, year int, month time.Month) (*Outcome, error) {
	periodStart, _ := model.MonthPeriod(year, month)

	existing, err := g.store.GetIndexByPeriod(ctx, city, state, periodStart)
	if err != nil {
		return nil, eris.Wrap(err, "index: existence check")
	}
	if existing != nil {
		if err := g.store.DeleteIndex(ctx, existing.ID); err != nil {
			return nil, eris.Wrap(err, "index: delete for recalculation")
		}
	}
	return g.Generate(ctx, city, state, year, month, true)
}
