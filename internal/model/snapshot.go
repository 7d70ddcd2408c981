package model

import "time"

// PriceSnapshot is one product's daily price aggregate. Natural key
// (product_id, date); upserted by the daily job and retained 365 days.
type PriceSnapshot struct {
	ProductID     string    `json:"product_id"`
	Date          time.Time `json:"date"` // midnight UTC
	MinPromoPrice float64   `json:"min_promo_price"`
	AvgPromoPrice float64   `json:"avg_promo_price"`
	StoreCount    int       `json:"store_count"`
}

// FlagType identifies the kind of anomaly a QualityFlag records.
type FlagType string

const (
	FlagOutlierLow        FlagType = "outlier_low"
	FlagOutlierHigh       FlagType = "outlier_high"
	FlagStale             FlagType = "stale"
	FlagMissingData       FlagType = "missing_data"
	FlagSuspiciousPattern FlagType = "suspicious_pattern"
)

// Severity ranks a QualityFlag for moderation triage.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// QualityFlag is a structured anomaly emitted by the daily job. Flags are
// never auto-deleted; only a moderation action resolves them.
type QualityFlag struct {
	ID             string     `json:"id"`
	ProductID      string     `json:"product_id"`
	StoreID        string     `json:"store_id,omitempty"`
	FlagType       FlagType   `json:"flag_type"`
	Severity       Severity   `json:"severity"`
	Detail         string     `json:"detail"`
	ReferenceValue *float64   `json:"reference_value,omitempty"`
	ActualValue    *float64   `json:"actual_value,omitempty"`
	IsResolved     bool       `json:"is_resolved"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Day truncates t to midnight UTC. All snapshot dates go through this
// before comparison or persistence.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
