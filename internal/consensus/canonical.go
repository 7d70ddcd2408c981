package consensus

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/precoaberto/preco-cli/internal/model"
)

var foldCaser = cases.Fold()

// CanonicalKey reduces an extracted product to its comparison identity:
// casefolded trimmed name + price fixed to two decimals + unit.
// Validity, category, original price, and market origin vary across AI
// passes without indicating a real disagreement about what was sold and
// at what price, so they are excluded.
func CanonicalKey(p model.ExtractedProduct) string {
	name := foldCaser.String(strings.TrimSpace(p.Name))
	unit := strings.ToLower(strings.TrimSpace(string(p.Unit)))
	return name + "|" + p.Price.StringFixed(2) + "|" + unit
}

// keySet builds the canonical-key set of a pass's product list. Repeated
// identical products collapse: comparison is set-based, not multiset-based.
func keySet(products []model.ExtractedProduct) map[string]struct{} {
	set := make(map[string]struct{}, len(products))
	for _, p := range products {
		set[CanonicalKey(p)] = struct{}{}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
