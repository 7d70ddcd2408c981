package index

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

// fakeStore implements the subset of store.Store the generator touches.
type fakeStore struct {
	store.Store

	indices    map[string]*model.PriceIndex // city|state|period -> index
	stores     []model.Store
	snapshots  []model.PriceSnapshot
	promotions []model.Promotion
	products   map[string]model.Product

	created      []model.PriceIndex
	catChildren  []model.PriceIndexCategory
	prodChildren []model.PriceIndexProduct
	deleted      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		indices:  map[string]*model.PriceIndex{},
		products: map[string]model.Product{},
	}
}

func periodKey(city, state string, start time.Time) string {
	return city + "|" + state + "|" + start.Format("2006-01")
}

func (f *fakeStore) GetIndexByPeriod(ctx context.Context, city, state string, periodStart time.Time) (*model.PriceIndex, error) {
	return f.indices[periodKey(city, state, periodStart)], nil
}

func (f *fakeStore) ActiveStoresByCity(ctx context.Context, city, state string) ([]model.Store, error) {
	return f.stores, nil
}

func (f *fakeStore) SnapshotsInPeriod(ctx context.Context, from, to time.Time) ([]model.PriceSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeStore) PromotionsInPeriod(ctx context.Context, storeIDs []string, from, to time.Time) ([]model.Promotion, error) {
	return f.promotions, nil
}

func (f *fakeStore) ProductsByIDs(ctx context.Context, ids []string) (map[string]model.Product, error) {
	out := map[string]model.Product{}
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeStore) CreateIndex(ctx context.Context, idx model.PriceIndex) error {
	f.created = append(f.created, idx)
	f.indices[periodKey(idx.City, idx.State, idx.PeriodStart)] = &idx
	return nil
}

func (f *fakeStore) InsertIndexCategories(ctx context.Context, rows []model.PriceIndexCategory) error {
	f.catChildren = append(f.catChildren, rows...)
	return nil
}

func (f *fakeStore) InsertIndexProducts(ctx context.Context, rows []model.PriceIndexProduct) error {
	f.prodChildren = append(f.prodChildren, rows...)
	return nil
}

func (f *fakeStore) IndexCategories(ctx context.Context, indexID string) ([]model.PriceIndexCategory, error) {
	var out []model.PriceIndexCategory
	for _, c := range f.catChildren {
		if c.IndexID == indexID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) IndexProducts(ctx context.Context, indexID string) ([]model.PriceIndexProduct, error) {
	var out []model.PriceIndexProduct
	for _, p := range f.prodChildren {
		if p.IndexID == indexID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteIndex(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	for k, idx := range f.indices {
		if idx.ID == id {
			delete(f.indices, k)
		}
	}
	return nil
}

func snap(productID string, day int, minPrice, avgPrice float64, stores int) model.PriceSnapshot {
	return model.PriceSnapshot{
		ProductID:     productID,
		Date:          time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		MinPromoPrice: minPrice,
		AvgPromoPrice: avgPrice,
		StoreCount:    stores,
	}
}

func matãoStore() *fakeStore {
	fs := newFakeStore()
	fs.stores = []model.Store{
		{ID: "st-1", City: "Matão", State: "SP", Active: true},
		{ID: "st-2", City: "Matão", State: "SP", Active: true},
	}
	fs.products = map[string]model.Product{
		"arroz":  {ID: "arroz", CategoryID: "graos", ReferencePrice: ref(19)},
		"feijao": {ID: "feijao", CategoryID: "graos", ReferencePrice: ref(8)},
	}
	fs.snapshots = []model.PriceSnapshot{
		snap("arroz", 1, 18, 20, 2),
		snap("arroz", 2, 19, 21, 2),
		snap("feijao", 1, 7.5, 8, 2),
	}
	return fs
}

func TestGenerate_CreatesIndexWithChildren(t *testing.T) {
	fs := matãoStore()
	g := NewGenerator(fs, Config{})

	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, true)
	require.NoError(t, err)
	require.False(t, outcome.Skipped())
	require.NotNil(t, outcome.Index)

	idx := outcome.Index
	assert.Equal(t, SourceSnapshots, outcome.Source)
	assert.Equal(t, 2, idx.ProductCount)
	assert.Equal(t, 2, idx.StoreCount)
	assert.Equal(t, 3, idx.SnapshotCount)
	assert.Equal(t, model.IndexStatusDraft, idx.Status)
	assert.Nil(t, idx.MoMChangePercent) // no prior index
	assert.Nil(t, idx.YoYChangePercent)
	assert.Greater(t, idx.IndexValue, 0.0)

	assert.Len(t, fs.catChildren, 1) // both products are graos
	assert.Len(t, fs.prodChildren, 2)
	assert.InDelta(t, 0.25, fs.catChildren[0].Weight, 0.0001)
}

func TestGenerate_SkipWhenExists(t *testing.T) {
	fs := matãoStore()
	start, _ := model.MonthPeriod(2026, time.March)
	fs.indices[periodKey("Matão", "SP", start)] = &model.PriceIndex{ID: "existing"}

	g := NewGenerator(fs, Config{})
	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, true)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped())
	assert.Equal(t, SkipExists, outcome.SkipReason)
	assert.Empty(t, fs.created)
}

func TestGenerate_SkipWhenNoStores(t *testing.T) {
	fs := matãoStore()
	fs.stores = nil

	g := NewGenerator(fs, Config{})
	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, true)
	require.NoError(t, err)
	assert.Equal(t, SkipNoStores, outcome.SkipReason)
}

func TestGenerate_SkipWhenNoData(t *testing.T) {
	fs := matãoStore()
	fs.snapshots = nil
	fs.promotions = nil

	g := NewGenerator(fs, Config{})
	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, true)
	require.NoError(t, err)
	assert.Equal(t, SkipNoPriceData, outcome.SkipReason)
}

func TestGenerate_PromotionFallback(t *testing.T) {
	fs := matãoStore()
	fs.snapshots = nil
	fs.promotions = []model.Promotion{
		{ID: "p1", ProductID: "arroz", StoreID: "st-1", PromoPrice: decimal.NewFromFloat(20)},
		{ID: "p2", ProductID: "arroz", StoreID: "st-2", PromoPrice: decimal.NewFromFloat(18)},
	}

	g := NewGenerator(fs, Config{})
	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, true)
	require.NoError(t, err)
	require.False(t, outcome.Skipped())
	assert.Equal(t, SourcePromotions, outcome.Source)
	assert.Equal(t, 1, outcome.Index.ProductCount)
}

func TestGenerate_AutoPublishGate(t *testing.T) {
	// The Matão fixture scores coverage 30 + density round(25*1.5/31)=1 +
	// stores 10 + diversity round(15/7)=2 + bonus 3 = 46.
	fs := matãoStore()
	g := NewGenerator(fs, Config{PublishThreshold: 46})

	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, false)
	require.NoError(t, err)
	idx := outcome.Index
	assert.Equal(t, 46, idx.DataQualityScore)
	assert.Equal(t, model.IndexStatusPublished, idx.Status)
	require.NotNil(t, idx.PublishedAt)

	// One point above the score stays draft.
	fs2 := matãoStore()
	g2 := NewGenerator(fs2, Config{PublishThreshold: 47})
	outcome2, err := g2.Generate(context.Background(), "Matão", "SP", 2026, time.March, false)
	require.NoError(t, err)
	assert.Equal(t, model.IndexStatusDraft, outcome2.Index.Status)
	assert.Nil(t, outcome2.Index.PublishedAt)
}

func TestGenerate_ManualAlwaysDraft(t *testing.T) {
	fs := matãoStore()
	g := NewGenerator(fs, Config{PublishThreshold: 1})

	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, true)
	require.NoError(t, err)
	assert.Equal(t, model.IndexStatusDraft, outcome.Index.Status)
	assert.Nil(t, outcome.Index.PublishedAt)
}

func TestGenerate_MoMFromPriorMonth(t *testing.T) {
	fs := matãoStore()
	prevStart, _ := model.MonthPeriod(2026, time.February)
	fs.indices[periodKey("Matão", "SP", prevStart)] = &model.PriceIndex{
		ID:         "prev",
		IndexValue: 100,
	}
	fs.catChildren = append(fs.catChildren, model.PriceIndexCategory{
		IndexID: "prev", CategoryID: "graos", AvgPrice: 13,
	})
	fs.prodChildren = append(fs.prodChildren, model.PriceIndexProduct{
		IndexID: "prev", ProductID: "arroz", AvgPrice: 19,
	})

	g := NewGenerator(fs, Config{})
	outcome, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, true)
	require.NoError(t, err)

	idx := outcome.Index
	require.NotNil(t, idx.MoMChangePercent)
	assert.InDelta(t, (idx.IndexValue-100)/100*100, *idx.MoMChangePercent, 0.001)

	var arroz *model.PriceIndexProduct
	for i := range fs.prodChildren {
		p := &fs.prodChildren[i]
		if p.IndexID == idx.ID && p.ProductID == "arroz" {
			arroz = p
		}
	}
	require.NotNil(t, arroz)
	require.NotNil(t, arroz.MoMChangePercent)
	// arroz averaged 20.5 this month vs 19 last month
	assert.InDelta(t, (20.5-19)/19*100, *arroz.MoMChangePercent, 0.001)
}

func TestRecalculate_DeletesAndRegeneratesAsDraft(t *testing.T) {
	fs := matãoStore()
	g := NewGenerator(fs, Config{PublishThreshold: 1})

	first, err := g.Generate(context.Background(), "Matão", "SP", 2026, time.March, false)
	require.NoError(t, err)
	require.Equal(t, model.IndexStatusPublished, first.Index.Status)

	second, err := g.Recalculate(context.Background(), "Matão", "SP", 2026, time.March)
	require.NoError(t, err)
	require.False(t, second.Skipped())
	assert.Contains(t, fs.deleted, first.Index.ID)
	assert.Equal(t, model.IndexStatusDraft, second.Index.Status)
	assert.NotEqual(t, first.Index.ID, second.Index.ID)
}

func TestGenerateAll_IsolatesCities(t *testing.T) {
	fs := matãoStore()
	g := NewGenerator(fs, Config{})

	results := g.GenerateAll(context.Background(),
		[]CityState{
			{City: "Matão", State: "SP"},
			{City: "Araraquara", State: "SP"},
		},
		2026, time.March, true,
	)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.False(t, results[0].Outcome.Skipped())
	// Second city shares the fake's store list but its index period is now
	// taken only per (city, state), so it generates independently too.
	assert.NoError(t, results[1].Err)
}
