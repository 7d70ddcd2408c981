package extraction

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/model"
)

// rawProduct is the loosely-typed shape the vision model emits. This is
// the single untyped-to-typed boundary for extraction output.
type rawProduct struct {
	Name          string      `json:"name"`
	Price         json.Number `json:"price"`
	OriginalPrice json.Number `json:"original_price"`
	Unit          string      `json:"unit"`
	Validity      string      `json:"validity"`
	MarketOrigin  string      `json:"market_origin"`
}

// parsePassOutput pulls the JSON array out of the model's response text
// (tolerating surrounding prose) and maps it to typed products. Entries
// with a missing name, unparseable price, or unknown unit are dropped;
// only an unlocatable or malformed array fails the whole pass.
func parsePassOutput(text string) ([]model.ExtractedProduct, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, eris.New("extraction: no JSON array in response")
	}

	var raw []rawProduct
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "extraction: unmarshal products")
	}

	products := make([]model.ExtractedProduct, 0, len(raw))
	for _, r := range raw {
		p, ok := mapRawProduct(r)
		if !ok {
			zap.L().Debug("dropping malformed product entry",
				zap.String("name", r.Name),
				zap.String("unit", r.Unit),
			)
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func mapRawProduct(r rawProduct) (model.ExtractedProduct, bool) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return model.ExtractedProduct{}, false
	}

	price, err := decimal.NewFromString(r.Price.String())
	if err != nil || price.Sign() <= 0 {
		return model.ExtractedProduct{}, false
	}

	unit, ok := model.ParseUnit(r.Unit)
	if !ok {
		return model.ExtractedProduct{}, false
	}

	p := model.ExtractedProduct{
		Name:         name,
		Price:        price,
		Unit:         unit,
		MarketOrigin: strings.TrimSpace(r.MarketOrigin),
	}

	if r.OriginalPrice.String() != "" {
		if orig, err := decimal.NewFromString(r.OriginalPrice.String()); err == nil && orig.Sign() > 0 {
			p.OriginalPrice = &orig
		}
	}

	if r.Validity != "" {
		if v, err := time.Parse("2006-01-02", r.Validity); err == nil {
			p.Validity = &v
		}
	}

	return p, true
}
