// Package snapshot implements the daily price snapshot job: per-product
// daily aggregates, outlier and staleness flags, rolling reference prices,
// and retention.
package snapshot

import (
	"sort"
	"time"

	"github.com/precoaberto/preco-cli/internal/model"
)

// BuildSnapshots aggregates active promotions into one PriceSnapshot per
// product for the given day: minimum and mean promo price, and the number
// of distinct stores advertising the product.
func BuildSnapshots(promos []model.Promotion, day time.Time) []model.PriceSnapshot {
	day = model.Day(day)

	type agg struct {
		min    float64
		sum    float64
		count  int
		stores map[string]struct{}
	}
	byProduct := make(map[string]*agg)

	for _, p := range promos {
		price := p.PromoPrice.InexactFloat64()
		a, ok := byProduct[p.ProductID]
		if !ok {
			a = &agg{min: price, stores: make(map[string]struct{})}
			byProduct[p.ProductID] = a
		}
		if price < a.min {
			a.min = price
		}
		a.sum += price
		a.count++
		a.stores[p.StoreID] = struct{}{}
	}

	snaps := make([]model.PriceSnapshot, 0, len(byProduct))
	for productID, a := range byProduct {
		snaps = append(snaps, model.PriceSnapshot{
			ProductID:     productID,
			Date:          day,
			MinPromoPrice: a.min,
			AvgPromoPrice: a.sum / float64(a.count),
			StoreCount:    len(a.stores),
		})
	}

	// Deterministic order for bulk upserts and tests.
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ProductID < snaps[j].ProductID })
	return snaps
}
