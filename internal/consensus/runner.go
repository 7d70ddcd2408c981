package consensus

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/precoaberto/preco-cli/internal/model"
)

// PassExtractor produces one extraction pass over a rendered flyer page.
// Implementations capture failures inside ExtractionPass.Error rather than
// returning them; a failed call is a vote that doesn't count, not an abort.
type PassExtractor interface {
	ExtractPass(ctx context.Context, image []byte, mediaType string, passIndex int) model.ExtractionPass
}

// Runner issues the configured number of extraction passes concurrently
// and reconciles them. All passes complete before Compute runs; there is
// no partial or streaming consensus.
type Runner struct {
	extractor   PassExtractor
	passes      int
	concurrency int
}

// NewRunner creates a Runner. passes is clamped to [1, 3]; concurrency
// defaults to the pass count.
func NewRunner(extractor PassExtractor, passes, concurrency int) *Runner {
	if passes < 1 {
		passes = 1
	}
	if passes > 3 {
		passes = 3
	}
	if concurrency <= 0 || concurrency > passes {
		concurrency = passes
	}
	return &Runner{extractor: extractor, passes: passes, concurrency: concurrency}
}

// Run extracts the document r.passes times and computes consensus.
func (r *Runner) Run(ctx context.Context, image []byte, mediaType string) (model.ConsensusResult, error) {
	log := zap.L().With(zap.String("component", "consensus.runner"))

	results := make([]model.ExtractionPass, r.passes)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := 0; i < r.passes; i++ {
		g.Go(func() error {
			results[i] = r.extractor.ExtractPass(gctx, image, mediaType, i)
			if results[i].Error != "" {
				log.Warn("extraction pass failed",
					zap.Int("pass", i),
					zap.String("error", results[i].Error),
				)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return model.ConsensusResult{}, err
	}

	res := Compute(results)
	log.Info("consensus computed",
		zap.String("type", string(res.Type)),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Int("passes", len(results)),
	)
	return res, nil
}
