package consensus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precoaberto/preco-cli/internal/model"
)

func prod(name string, price string, unit model.Unit) model.ExtractedProduct {
	return model.ExtractedProduct{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Unit:  unit,
	}
}

func pass(idx int, products ...model.ExtractedProduct) model.ExtractionPass {
	return model.ExtractionPass{PassIndex: idx, Products: products}
}

func errPass(idx int, msg string) model.ExtractionPass {
	return model.ExtractionPass{PassIndex: idx, Error: msg}
}

func TestCanonicalKey_CaseAndWhitespace(t *testing.T) {
	a := prod("  ARROZ ", "24.90", "un")
	b := prod("arroz", "24.9", "UN")
	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
}

func TestCanonicalKey_IgnoresNonIdentityFields(t *testing.T) {
	validity := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	orig := decimal.RequireFromString("29.90")

	a := prod("Feijão Preto", "8.49", model.UnitKg)
	b := a
	b.Validity = &validity
	b.OriginalPrice = &orig
	b.CategoryID = "graos"
	b.MarketOrigin = "Supermercado União"

	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
}

func TestCanonicalKey_PriceDiffers(t *testing.T) {
	a := prod("arroz", "24.90", model.UnitUn)
	b := prod("arroz", "24.91", model.UnitUn)
	assert.NotEqual(t, CanonicalKey(a), CanonicalKey(b))
}

func TestCompute_SinglePassAlwaysUnanimous(t *testing.T) {
	p := pass(0, prod("Leite Integral", "5.99", model.UnitL))
	res := Compute([]model.ExtractionPass{p})

	assert.Equal(t, model.ConsensusUnanimous, res.Type)
	assert.Equal(t, model.ConfidenceUnanimous, res.ConfidenceScore)
	require.NotNil(t, res.SelectedPassIndex)
	assert.Equal(t, 0, *res.SelectedPassIndex)
	assert.Len(t, res.ConsensusProducts, 1)
}

func TestCompute_ThreeEquivalentPasses_Unanimous(t *testing.T) {
	// Permutations of the same canonical set, varying case and whitespace.
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un"), prod("Feijão", "8.49", "kg")),
		pass(1, prod("feijão", "8.49", "KG"), prod("arroz", "24.90", "UN")),
		pass(2, prod(" ARROZ ", "24.90", "un"), prod("FEIJÃO", "8.49", "kg")),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusUnanimous, res.Type)
	assert.Equal(t, model.ConfidenceUnanimous, res.ConfidenceScore)
	require.NotNil(t, res.SelectedPassIndex)
	assert.Equal(t, 0, *res.SelectedPassIndex)
}

func TestCompute_ArrozScenario(t *testing.T) {
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un")),
		pass(1, prod("arroz", "24.90", "UN")),
		pass(2, prod("ARROZ ", "24.90", "un")),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusUnanimous, res.Type)
	assert.Equal(t, 100.0, res.ConfidenceScore)
	require.Len(t, res.ConsensusProducts, 1)
	// The winning list is pass 0's literal list, name exactly as provided.
	assert.Equal(t, "Arroz", res.ConsensusProducts[0].Name)
}

func TestCompute_DuplicatesCollapse(t *testing.T) {
	// A pass listing the same product twice still matches a pass listing
	// it once: comparison is over sets, not multisets.
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un"), prod("Arroz", "24.90", "un")),
		pass(1, prod("arroz", "24.90", "un")),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusUnanimous, res.Type)
	// The selected list keeps pass 0's duplicate entry.
	require.NotNil(t, res.SelectedPassIndex)
	assert.Equal(t, 0, *res.SelectedPassIndex)
	assert.Len(t, res.ConsensusProducts, 2)
}

func TestCompute_TwoAgreeOneErrors_Majority(t *testing.T) {
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un")),
		pass(1, prod("arroz", "24.90", "un")),
		errPass(2, "vision call timed out"),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusMajority, res.Type)
	assert.Equal(t, model.ConfidenceMajority, res.ConfidenceScore)
	require.NotNil(t, res.SelectedPassIndex)
	assert.Equal(t, 0, *res.SelectedPassIndex)
}

func TestCompute_TwoAgreeOneDiffers_Majority(t *testing.T) {
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un")),
		pass(1, prod("Macarrão", "4.99", "pack")),
		pass(2, prod("arroz", "24.90", "un")),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusMajority, res.Type)
	assert.Equal(t, model.ConfidenceMajority, res.ConfidenceScore)
	// First agreeing pass of the pair (0, 2) is pass 0.
	require.NotNil(t, res.SelectedPassIndex)
	assert.Equal(t, 0, *res.SelectedPassIndex)
}

func TestCompute_AllDistinct_None(t *testing.T) {
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un")),
		pass(1, prod("Feijão", "8.49", "kg")),
		pass(2, prod("Leite", "5.99", "l")),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusNone, res.Type)
	assert.Equal(t, model.ConfidenceNone, res.ConfidenceScore)
	assert.Nil(t, res.ConsensusProducts)
	assert.Nil(t, res.SelectedPassIndex)
}

func TestCompute_AllErroring_None(t *testing.T) {
	passes := []model.ExtractionPass{
		errPass(0, "timeout"),
		errPass(1, "unparseable output"),
		errPass(2, "timeout"),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusNone, res.Type)
	assert.Nil(t, res.ConsensusProducts)
	// Passes are retained for audit even when nothing agreed.
	assert.Len(t, res.Passes, 3)
}

func TestCompute_OneValidAmongSeveral_None(t *testing.T) {
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un")),
		errPass(1, "timeout"),
		errPass(2, "timeout"),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusNone, res.Type)
	assert.Nil(t, res.ConsensusProducts)
}

func TestCompute_EmptyProductListIsInvalid(t *testing.T) {
	// A pass with zero products and no error is still excluded from voting.
	passes := []model.ExtractionPass{
		pass(0, prod("Arroz", "24.90", "un")),
		pass(1, prod("arroz", "24.90", "un")),
		pass(2),
	}
	res := Compute(passes)

	// Two valid passes agree but pass 2 was excluded, so not unanimous.
	assert.Equal(t, model.ConsensusMajority, res.Type)
	assert.Equal(t, model.ConfidenceMajority, res.ConfidenceScore)
}

func TestCompute_OrderIndependence(t *testing.T) {
	a := prod("Arroz", "24.90", "un")
	b := prod("Feijão", "8.49", "kg")
	c := prod("Leite", "5.99", "l")

	passes := []model.ExtractionPass{
		pass(0, a, b, c),
		pass(1, c, a, b),
		pass(2, b, c, a),
	}
	res := Compute(passes)

	assert.Equal(t, model.ConsensusUnanimous, res.Type)
}

func TestCompute_NoPasses_None(t *testing.T) {
	res := Compute(nil)
	assert.Equal(t, model.ConsensusNone, res.Type)
	assert.Equal(t, model.ConfidenceNone, res.ConfidenceScore)
}
