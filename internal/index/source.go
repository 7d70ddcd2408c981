// Package index implements the monthly price index: category-weighted
// index value, MoM/YoY deltas, and the data-quality score that gates
// auto-publication.
package index

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

// Source names which dataset a period's aggregates came from.
type Source string

const (
	SourceSnapshots  Source = "snapshots"
	SourcePromotions Source = "promotions"
)

// ProductAgg is one product's price aggregate over the period.
type ProductAgg struct {
	ProductID    string
	AvgPrice     float64
	MinPrice     float64
	MaxPrice     float64
	SnapshotDays int
}

// PeriodData is the resolved input for one index generation.
type PeriodData struct {
	Source            Source
	Products          []ProductAgg
	SnapshotCount     int // rows consumed from the chosen source
	TotalProductsSeen int // distinct products across snapshots AND promotions
}

// ResolvePeriodData gathers price data for the month. Daily snapshots are
// the primary source; when the snapshot job has no history yet, raw
// promotions active in the period serve as the fallback so an index can
// still be produced.
func ResolvePeriodData(ctx context.Context, st store.Store, storeIDs []string, from, to time.Time) (*PeriodData, error) {
	snaps, err := st.SnapshotsInPeriod(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "index: load snapshots")
	}
	promos, err := st.PromotionsInPeriod(ctx, storeIDs, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "index: load promotions")
	}

	seen := make(map[string]struct{})
	for _, s := range snaps {
		seen[s.ProductID] = struct{}{}
	}
	for _, p := range promos {
		seen[p.ProductID] = struct{}{}
	}

	if len(snaps) > 0 {
		return &PeriodData{
			Source:            SourceSnapshots,
			Products:          aggregateSnapshots(snaps),
			SnapshotCount:     len(snaps),
			TotalProductsSeen: len(seen),
		}, nil
	}

	return &PeriodData{
		Source:            SourcePromotions,
		Products:          aggregatePromotions(promos),
		SnapshotCount:     len(promos),
		TotalProductsSeen: len(seen),
	}, nil
}

func aggregateSnapshots(snaps []model.PriceSnapshot) []ProductAgg {
	type agg struct {
		sum  float64
		min  float64
		max  float64
		days int
	}
	byProduct := make(map[string]*agg)

	for _, s := range snaps {
		a, ok := byProduct[s.ProductID]
		if !ok {
			a = &agg{min: s.MinPromoPrice, max: s.AvgPromoPrice}
			byProduct[s.ProductID] = a
		}
		if s.MinPromoPrice < a.min {
			a.min = s.MinPromoPrice
		}
		if s.AvgPromoPrice > a.max {
			a.max = s.AvgPromoPrice
		}
		a.sum += s.AvgPromoPrice
		a.days++
	}

	return sortedAggs(byProduct, func(a *agg) ProductAgg {
		return ProductAgg{
			AvgPrice:     a.sum / float64(a.days),
			MinPrice:     a.min,
			MaxPrice:     a.max,
			SnapshotDays: a.days,
		}
	})
}

func aggregatePromotions(promos []model.Promotion) []ProductAgg {
	type agg struct {
		sum  float64
		min  float64
		max  float64
		days int
	}
	byProduct := make(map[string]*agg)

	for _, p := range promos {
		price := p.PromoPrice.InexactFloat64()
		a, ok := byProduct[p.ProductID]
		if !ok {
			a = &agg{min: price, max: price}
			byProduct[p.ProductID] = a
		}
		if price < a.min {
			a.min = price
		}
		if price > a.max {
			a.max = price
		}
		a.sum += price
		a.days++
	}

	return sortedAggs(byProduct, func(a *agg) ProductAgg {
		return ProductAgg{
			AvgPrice:     a.sum / float64(a.days),
			MinPrice:     a.min,
			MaxPrice:     a.max,
			SnapshotDays: a.days,
		}
	})
}

func sortedAggs[T any](byProduct map[string]*T, build func(*T) ProductAgg) []ProductAgg {
	out := make([]ProductAgg, 0, len(byProduct))
	for productID, a := range byProduct {
		pa := build(a)
		pa.ProductID = productID
		out = append(out, pa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
