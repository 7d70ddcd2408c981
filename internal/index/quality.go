package index

import "math"

// taxonomySize is the number of categories in the fixed product taxonomy.
const taxonomySize = 7

// QualityInputs are the five dimensions the scorer reads.
type QualityInputs struct {
	ProductsWithData   int
	TotalProductsSeen  int
	SnapshotCount      int
	DaysInMonth        int
	StoreCount         int
	CategoriesWithData int
}

// QualityScore computes the 0-100 data-quality score for one city/month:
//
//	coverage  (0-30): share of seen products that produced aggregates
//	density   (0-25): average snapshots per product relative to days in month
//	stores    (0-20): 5 points per participating store
//	diversity (0-15): share of the 7-category taxonomy with data
//	bonus     (0-10): +3 for >=5 products, +3 for >=2 stores, +4 for >=10 snapshots
//
// Each component is capped individually and the total is capped at 100.
func QualityScore(in QualityInputs) int {
	var coverage int
	if in.TotalProductsSeen > 0 {
		coverage = int(math.Round(30 * float64(in.ProductsWithData) / float64(in.TotalProductsSeen)))
	}
	if coverage > 30 {
		coverage = 30
	}

	var density int
	if in.ProductsWithData > 0 && in.DaysInMonth > 0 {
		perProduct := float64(in.SnapshotCount) / float64(in.ProductsWithData)
		density = int(math.Round(25 * perProduct / float64(in.DaysInMonth)))
	}
	if density > 25 {
		density = 25
	}

	stores := in.StoreCount * 5
	if stores > 20 {
		stores = 20
	}

	diversity := int(math.Round(15 * float64(in.CategoriesWithData) / float64(taxonomySize)))
	if diversity > 15 {
		diversity = 15
	}

	var bonus int
	if in.ProductsWithData >= 5 {
		bonus += 3
	}
	if in.StoreCount >= 2 {
		bonus += 3
	}
	if in.SnapshotCount >= 10 {
		bonus += 4
	}

	total := coverage + density + stores + diversity + bonus
	if total > 100 {
		total = 100
	}
	return total
}
