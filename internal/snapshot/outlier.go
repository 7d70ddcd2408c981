package snapshot

import "github.com/precoaberto/preco-cli/internal/model"

// Outlier thresholds as ratios of promo price to reference price. A price
// below 30% of reference or above 150% is flagged; past 15% / 200% the
// flag escalates to critical. All comparisons are strict, so a price at
// exactly 30% or 150% of reference is not an outlier.
type OutlierThresholds struct {
	LowRatio      float64 `yaml:"low_ratio" mapstructure:"low_ratio"`
	HighRatio     float64 `yaml:"high_ratio" mapstructure:"high_ratio"`
	CriticalLow   float64 `yaml:"critical_low" mapstructure:"critical_low"`
	CriticalHigh  float64 `yaml:"critical_high" mapstructure:"critical_high"`
}

// DefaultThresholds returns the standard outlier thresholds.
func DefaultThresholds() OutlierThresholds {
	return OutlierThresholds{
		LowRatio:     0.30,
		HighRatio:    1.50,
		CriticalLow:  0.15,
		CriticalHigh: 2.00,
	}
}

// Classify maps a promo/reference price ratio to an outlier flag type and
// severity. ok is false when the ratio is within normal bounds.
func (t OutlierThresholds) Classify(ratio float64) (flagType model.FlagType, severity model.Severity, ok bool) {
	switch {
	case ratio < t.LowRatio:
		severity = model.SeverityHigh
		if ratio < t.CriticalLow {
			severity = model.SeverityCritical
		}
		return model.FlagOutlierLow, severity, true
	case ratio > t.HighRatio:
		severity = model.SeverityHigh
		if ratio > t.CriticalHigh {
			severity = model.SeverityCritical
		}
		return model.FlagOutlierHigh, severity, true
	default:
		return "", "", false
	}
}
