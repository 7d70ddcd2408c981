// Package consensus reconciles redundant AI extraction passes of the same
// flyer document into a single trusted product list with a confidence
// classification. Compute is pure; the Runner fans out the extraction calls.
package consensus

import "github.com/precoaberto/preco-cli/internal/model"

// Compute classifies agreement between extraction passes and selects one
// pass's literal product list as the trusted output.
//
// A pass votes only if it has no error and at least one product. An
// excluded pass still counts against unanimity: all-sets-equal among the
// valid passes is "unanimous" only when every input pass was valid, and
// "majority" otherwise. Disagreeing sets fall back to a pairwise scan for
// any two valid passes whose sets match.
func Compute(passes []model.ExtractionPass) model.ConsensusResult {
	res := model.ConsensusResult{
		Type:            model.ConsensusNone,
		ConfidenceScore: model.ConfidenceNone,
		Passes:          passes,
	}

	if len(passes) == 0 {
		return res
	}

	// Single-pass environments trust the sole pass outright. No comparison
	// was possible, but this is the designed behavior for deployments that
	// run only one extraction pass.
	if len(passes) == 1 {
		return selectPass(res, model.ConsensusUnanimous, model.ConfidenceUnanimous, passes[0])
	}

	var valid []model.ExtractionPass
	for _, p := range passes {
		if p.Valid() {
			valid = append(valid, p)
		}
	}

	// Zero surviving passes, or a single survivor among several: other
	// passes existed and errored or disagreed, so one list is not enough
	// to establish agreement.
	if len(valid) < 2 {
		return res
	}

	sets := make([]map[string]struct{}, len(valid))
	for i, p := range valid {
		sets[i] = keySet(p.Products)
	}

	allEqual := true
	for i := 1; i < len(sets); i++ {
		if !setsEqual(sets[0], sets[i]) {
			allEqual = false
			break
		}
	}

	if allEqual {
		if len(valid) == len(passes) {
			return selectPass(res, model.ConsensusUnanimous, model.ConfidenceUnanimous, valid[0])
		}
		// All valid passes agree but at least one pass was excluded.
		return selectPass(res, model.ConsensusMajority, model.ConfidenceMajority, valid[0])
	}

	// Pairwise scan: any two valid passes with matching sets form a
	// majority. The first agreeing pass's original list wins.
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			if setsEqual(sets[i], sets[j]) {
				return selectPass(res, model.ConsensusMajority, model.ConfidenceMajority, valid[i])
			}
		}
	}

	return res
}

// selectPass fills in the winning pass. ConsensusProducts is the pass's
// literal, non-deduplicated product list: downstream publishing uses it
// as-is, including any duplicate entries within the pass.
func selectPass(res model.ConsensusResult, t model.ConsensusType, confidence float64, pass model.ExtractionPass) model.ConsensusResult {
	idx := pass.PassIndex
	res.Type = t
	res.ConfidenceScore = confidence
	res.ConsensusProducts = pass.Products
	res.SelectedPassIndex = &idx
	return res
}
