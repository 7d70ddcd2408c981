package model

import "time"

// IndexStatus is the publication state of a PriceIndex.
type IndexStatus string

const (
	IndexStatusDraft     IndexStatus = "draft"
	IndexStatusPublished IndexStatus = "published"
	IndexStatusArchived  IndexStatus = "archived"
)

// PriceIndex is one city/month price index row. One row per
// (city, state, period_start); draft rows can be deleted and regenerated.
type PriceIndex struct {
	ID               string      `json:"id"`
	City             string      `json:"city"`
	State            string      `json:"state"`
	PeriodStart      time.Time   `json:"period_start"`
	PeriodEnd        time.Time   `json:"period_end"`
	IndexValue       float64     `json:"index_value"`
	MoMChangePercent *float64    `json:"mom_change_percent,omitempty"`
	YoYChangePercent *float64    `json:"yoy_change_percent,omitempty"`
	DataQualityScore int         `json:"data_quality_score"`
	ProductCount     int         `json:"product_count"`
	StoreCount       int         `json:"store_count"`
	SnapshotCount    int         `json:"snapshot_count"`
	Status           IndexStatus `json:"status"`
	PublishedAt      *time.Time  `json:"published_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// PriceIndexCategory is a per-category breakdown row under a PriceIndex.
// Bulk-inserted once; a recalculation deletes the parent and cascades.
type PriceIndexCategory struct {
	ID               string   `json:"id"`
	IndexID          string   `json:"index_id"`
	CategoryID       string   `json:"category_id"`
	AvgPrice         float64  `json:"avg_price"`
	MinPrice         float64  `json:"min_price"`
	MaxPrice         float64  `json:"max_price"`
	ProductCount     int      `json:"product_count"`
	MoMChangePercent *float64 `json:"mom_change_percent,omitempty"`
	Weight           float64  `json:"weight"` // configured weight, not renormalized
}

// PriceIndexProduct is a per-product breakdown row under a PriceIndex.
type PriceIndexProduct struct {
	ID               string   `json:"id"`
	IndexID          string   `json:"index_id"`
	ProductID        string   `json:"product_id"`
	AvgPrice         float64  `json:"avg_price"`
	MinPrice         float64  `json:"min_price"`
	MaxPrice         float64  `json:"max_price"`
	SnapshotDays     int      `json:"snapshot_days"`
	MoMChangePercent *float64 `json:"mom_change_percent,omitempty"`
}

// MonthPeriod returns the first and last day (midnight UTC) of the given
// calendar month.
func MonthPeriod(year int, month time.Month) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}
