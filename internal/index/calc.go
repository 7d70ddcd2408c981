package index

import (
	"sort"

	"github.com/precoaberto/preco-cli/internal/model"
)

// Weights is the fixed category weight table. Categories absent from the
// table fall back to Default.
type Weights struct {
	ByCategory map[string]float64
	Default    float64
}

// DefaultWeights returns the standard 7-category table (weights sum to
// 1.0) with the 0.05 fallback for unmapped categories.
func DefaultWeights() Weights {
	return Weights{
		ByCategory: map[string]float64{
			"graos":      0.25,
			"proteina":   0.20,
			"hortifruti": 0.15,
			"laticinios": 0.15,
			"padaria":    0.10,
			"bebidas":    0.08,
			"limpeza":    0.07,
		},
		Default: 0.05,
	}
}

// For returns the configured weight for a category.
func (w Weights) For(categoryID string) float64 {
	if v, ok := w.ByCategory[categoryID]; ok {
		return v
	}
	return w.Default
}

// PercentChange returns (current-previous)/previous*100, or nil when
// previous is absent or zero.
func PercentChange(current float64, previous *float64) *float64 {
	if previous == nil || *previous == 0 {
		return nil
	}
	v := (current - *previous) / *previous * 100
	return &v
}

// CategoryAgg accumulates product aggregates per category.
type CategoryAgg struct {
	CategoryID   string
	AvgPrice     float64 // mean of member product averages
	MinPrice     float64
	MaxPrice     float64
	ProductCount int
	Weight       float64

	// categoryIndex inputs: products with a usable reference price.
	indexSum   float64
	indexCount int
}

// AggregateCategories folds product aggregates into per-category rows.
// The category index contribution of each product is avg/reference*100;
// products without a reference price still count toward the price stats
// but not the index.
func AggregateCategories(aggs []ProductAgg, products map[string]model.Product, weights Weights) []CategoryAgg {
	byCategory := make(map[string]*CategoryAgg)

	for _, pa := range aggs {
		product, ok := products[pa.ProductID]
		if !ok {
			continue
		}

		cat, ok := byCategory[product.CategoryID]
		if !ok {
			cat = &CategoryAgg{
				CategoryID: product.CategoryID,
				MinPrice:   pa.MinPrice,
				MaxPrice:   pa.MaxPrice,
				Weight:     weights.For(product.CategoryID),
			}
			byCategory[product.CategoryID] = cat
		}

		cat.AvgPrice += pa.AvgPrice // summed; divided by count below
		if pa.MinPrice < cat.MinPrice {
			cat.MinPrice = pa.MinPrice
		}
		if pa.MaxPrice > cat.MaxPrice {
			cat.MaxPrice = pa.MaxPrice
		}
		cat.ProductCount++

		if product.ReferencePrice != nil && *product.ReferencePrice > 0 {
			cat.indexSum += pa.AvgPrice / *product.ReferencePrice * 100
			cat.indexCount++
		}
	}

	out := make([]CategoryAgg, 0, len(byCategory))
	for _, cat := range byCategory {
		cat.AvgPrice /= float64(cat.ProductCount)
		out = append(out, *cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out
}

// CategoryIndex returns the category's mean product index and whether any
// reference-priced product contributed.
func (c CategoryAgg) CategoryIndex() (float64, bool) {
	if c.indexCount == 0 {
		return 0, false
	}
	return c.indexSum / float64(c.indexCount), true
}

// IndexValue computes the weighted index across categories. Categories
// with no reference-priced products contribute no weight; the average is
// renormalized by the weight that actually contributed. With no signal at
// all the index is exactly 100.
func IndexValue(categories []CategoryAgg) float64 {
	var weightedSum, totalWeight float64
	for _, cat := range categories {
		catIndex, ok := cat.CategoryIndex()
		if !ok {
			continue
		}
		weightedSum += catIndex * cat.Weight
		totalWeight += cat.Weight
	}
	if totalWeight == 0 {
		return 100
	}
	return weightedSum / totalWeight
}
