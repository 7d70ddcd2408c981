package snapshot

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

func promo(productID, storeID string, price float64) model.Promotion {
	return model.Promotion{
		ID:         productID + "-" + storeID,
		ProductID:  productID,
		StoreID:    storeID,
		PromoPrice: decimal.NewFromFloat(price),
	}
}

func TestBuildSnapshots_Aggregates(t *testing.T) {
	day := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	promos := []model.Promotion{
		promo("arroz", "st-1", 20.00),
		promo("arroz", "st-2", 18.50),
		promo("arroz", "st-3", 22.00),
		promo("feijao", "st-1", 8.00),
	}

	snaps := BuildSnapshots(promos, day)
	require.Len(t, snaps, 2)

	arroz := snaps[0]
	assert.Equal(t, "arroz", arroz.ProductID)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), arroz.Date)
	assert.InDelta(t, 18.50, arroz.MinPromoPrice, 0.001)
	assert.InDelta(t, 20.1666, arroz.AvgPromoPrice, 0.001)
	assert.Equal(t, 3, arroz.StoreCount)

	feijao := snaps[1]
	assert.Equal(t, 1, feijao.StoreCount)
	assert.InDelta(t, 8.00, feijao.MinPromoPrice, 0.001)
}

func TestBuildSnapshots_DistinctStores(t *testing.T) {
	// Two promotions from the same store count once.
	promos := []model.Promotion{
		promo("arroz", "st-1", 20.00),
		{ID: "second", ProductID: "arroz", StoreID: "st-1", PromoPrice: decimal.NewFromFloat(19.00)},
	}

	snaps := BuildSnapshots(promos, time.Now())
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].StoreCount)
	assert.InDelta(t, 19.50, snaps[0].AvgPromoPrice, 0.001)
}

func TestBuildSnapshots_Empty(t *testing.T) {
	assert.Empty(t, BuildSnapshots(nil, time.Now()))
}

func TestClassify_Thresholds(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name     string
		ratio    float64
		wantType model.FlagType
		wantSev  model.Severity
		wantOK   bool
	}{
		{"exactly 30 percent is normal", 0.30, "", "", false},
		{"just under 30 percent", 0.299, model.FlagOutlierLow, model.SeverityHigh, true},
		{"under 15 percent is critical", 0.10, model.FlagOutlierLow, model.SeverityCritical, true},
		{"exactly 15 percent stays high", 0.15, model.FlagOutlierLow, model.SeverityHigh, true},
		{"normal price", 1.00, "", "", false},
		{"exactly 150 percent is normal", 1.50, "", "", false},
		{"just over 150 percent", 1.51, model.FlagOutlierHigh, model.SeverityHigh, true},
		{"exactly 200 percent stays high", 2.00, model.FlagOutlierHigh, model.SeverityHigh, true},
		{"over 200 percent is critical", 2.01, model.FlagOutlierHigh, model.SeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagType, sev, ok := th.Classify(tt.ratio)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantType, flagType)
			assert.Equal(t, tt.wantSev, sev)
		})
	}
}

// fakeStore implements the subset of store.Store the engine touches.
// Unimplemented methods panic via the embedded nil interface.
type fakeStore struct {
	store.Store

	promotions []model.Promotion
	products   map[string]model.Product
	stale      []model.Product
	unresolved map[string]bool // productID+flagType -> has unresolved flag
	refMeans   map[string]*float64

	snapshots  []model.PriceSnapshot
	flags      []model.QualityFlag
	refUpdates map[string]float64
	purged     int
	bulkFails  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:   map[string]model.Product{},
		unresolved: map[string]bool{},
		refMeans:   map[string]*float64{},
		refUpdates: map[string]float64{},
	}
}

func (f *fakeStore) ActivePromotions(ctx context.Context, at time.Time) ([]model.Promotion, error) {
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

func (f *fakeStore) UpsertSnapshots(ctx context.Context, snaps []model.PriceSnapshot) (int64, error) {
	if f.bulkFails {
		return 0, assert.AnError
	}
	f.snapshots = append(f.snapshots, snaps...)
	return int64(len(snaps)), nil
}

func (f *fakeStore) UpsertSnapshot(ctx context.Context, snap model.PriceSnapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeStore) HasUnresolvedFlagSince(ctx context.Context, productID string, flagType model.FlagType, since time.Time) (bool, error) {
	return f.unresolved[productID+"/"+string(flagType)], nil
}

func (f *fakeStore) CreateFlag(ctx context.Context, flag model.QualityFlag) (*model.QualityFlag, error) {
	f.flags = append(f.flags, flag)
	return &flag, nil
}

func (f *fakeStore) StaleProducts(ctx context.Context, since time.Time) ([]model.Product, error) {
	return f.stale, nil
}

func (f *fakeStore) ReferenceWindowMean(ctx context.Context, productID string, from, to time.Time) (*float64, error) {
	return f.refMeans[productID], nil
}

func (f *fakeStore) UpdateReferencePrice(ctx context.Context, productID string, price float64) error {
	f.refUpdates[productID] = price
	return nil
}

func (f *fakeStore) PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return f.purged, nil
}

func ref(v float64) *float64 { return &v }

func TestRunDaily_SnapshotsAndReferences(t *testing.T) {
	fs := newFakeStore()
	fs.promotions = []model.Promotion{
		promo("arroz", "st-1", 20.00),
		promo("arroz", "st-2", 18.50),
	}
	fs.products["arroz"] = model.Product{ID: "arroz", ReferencePrice: ref(19.00)}
	fs.refMeans["arroz"] = ref(19.25)
	fs.purged = 7

	eng := NewEngine(fs, Config{})
	res, err := eng.RunDaily(context.Background(), time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 1, res.SnapshotsUpserted)
	assert.Empty(t, fs.flags)
	assert.InDelta(t, 19.25, fs.refUpdates["arroz"], 0.001)
	assert.Equal(t, 7, res.SnapshotsPurged)
	assert.Equal(t, 0, res.Failed)
}

func TestRunDaily_OutlierFlagged(t *testing.T) {
	fs := newFakeStore()
	fs.promotions = []model.Promotion{promo("arroz", "st-1", 2.00)}
	fs.products["arroz"] = model.Product{ID: "arroz", ReferencePrice: ref(20.00)}

	eng := NewEngine(fs, Config{})
	res, err := eng.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)

	require.Len(t, fs.flags, 1)
	flag := fs.flags[0]
	assert.Equal(t, model.FlagOutlierLow, flag.FlagType)
	assert.Equal(t, model.SeverityCritical, flag.Severity) // 10% of reference
	assert.Equal(t, "st-1", flag.StoreID)
	assert.InDelta(t, 20.00, *flag.ReferenceValue, 0.001)
	assert.InDelta(t, 2.00, *flag.ActualValue, 0.001)
	assert.Equal(t, 1, res.FlagsCreated)
}

func TestRunDaily_NoReferenceNoOutlier(t *testing.T) {
	fs := newFakeStore()
	fs.promotions = []model.Promotion{promo("novo", "st-1", 1.00)}
	fs.products["novo"] = model.Product{ID: "novo"} // no reference yet

	eng := NewEngine(fs, Config{})
	_, err := eng.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, fs.flags)
}

func TestRunDaily_DedupSuppressesAcrossStores(t *testing.T) {
	// The dedup key is (product, flag type): an unresolved outlier_low on
	// the product suppresses a new one even from a different store.
	fs := newFakeStore()
	fs.promotions = []model.Promotion{
		promo("arroz", "st-1", 2.00),
		promo("arroz", "st-2", 2.50),
	}
	fs.products["arroz"] = model.Product{ID: "arroz", ReferencePrice: ref(20.00)}
	fs.unresolved["arroz/outlier_low"] = true

	eng := NewEngine(fs, Config{})
	res, err := eng.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Empty(t, fs.flags)
	assert.Equal(t, 2, res.FlagsSuppressed)
}

func TestRunDaily_StaleFlag(t *testing.T) {
	fs := newFakeStore()
	fs.stale = []model.Product{{ID: "sumido", ReferencePrice: ref(12.00)}}

	eng := NewEngine(fs, Config{})
	res, err := eng.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)

	require.Len(t, fs.flags, 1)
	flag := fs.flags[0]
	assert.Equal(t, model.FlagStale, flag.FlagType)
	assert.Equal(t, model.SeverityMedium, flag.Severity)
	assert.Empty(t, flag.StoreID)
	assert.Equal(t, 1, res.FlagsCreated)
}

func TestRunDaily_BulkFallback(t *testing.T) {
	fs := newFakeStore()
	fs.bulkFails = true
	fs.promotions = []model.Promotion{
		promo("arroz", "st-1", 20.00),
		promo("feijao", "st-1", 8.00),
	}

	eng := NewEngine(fs, Config{})
	res, err := eng.RunDaily(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, res.SnapshotsUpserted)
	assert.Len(t, fs.snapshots, 2)
}
