// Package export renders a price index as a flat CSV document: one
// summary row, the category table, then the product table.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/precoaberto/preco-cli/internal/model"
)

// WriteIndexCSV writes one index with its children to w. Pure data
// selection; all numbers were computed at generation time.
func WriteIndexCSV(w io.Writer, idx *model.PriceIndex, cats []model.PriceIndexCategory, prods []model.PriceIndexProduct) error {
	cw := csv.NewWriter(w)

	records := [][]string{
		{"city", "state", "period_start", "period_end", "index_value", "mom_percent", "yoy_percent",
			"quality_score", "products", "stores", "snapshots", "status"},
		{
			idx.City,
			idx.State,
			idx.PeriodStart.Format("2006-01-02"),
			idx.PeriodEnd.Format("2006-01-02"),
			formatFloat(idx.IndexValue),
			formatPtr(idx.MoMChangePercent),
			formatPtr(idx.YoYChangePercent),
			strconv.Itoa(idx.DataQualityScore),
			strconv.Itoa(idx.ProductCount),
			strconv.Itoa(idx.StoreCount),
			strconv.Itoa(idx.SnapshotCount),
			string(idx.Status),
		},
		{},
		{"category_id", "avg_price", "min_price", "max_price", "products", "mom_percent", "weight"},
	}
	for _, c := range cats {
		records = append(records, []string{
			c.CategoryID,
			formatFloat(c.AvgPrice),
			formatFloat(c.MinPrice),
			formatFloat(c.MaxPrice),
			strconv.Itoa(c.ProductCount),
			formatPtr(c.MoMChangePercent),
			formatFloat(c.Weight),
		})
	}

	records = append(records, []string{},
		[]string{"product_id", "avg_price", "min_price", "max_price", "snapshot_days", "mom_percent"})
	for _, p := range prods {
		records = append(records, []string{
			p.ProductID,
			formatFloat(p.AvgPrice),
			formatFloat(p.MinPrice),
			formatFloat(p.MaxPrice),
			strconv.Itoa(p.SnapshotDays),
			formatPtr(p.MoMChangePercent),
		})
	}

	for _, rec := range records {
		if len(rec) == 0 {
			// csv.Writer rejects empty records; write the separator directly.
			cw.Flush()
			if err := cw.Error(); err != nil {
				return eris.Wrap(err, "export: write csv")
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return eris.Wrap(err, "export: write separator")
			}
			continue
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write csv")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
