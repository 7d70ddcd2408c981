package extraction

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/precoaberto/preco-cli/internal/model"
)

// Extractor runs single extraction passes against the vision client,
// rate-limited across concurrent passes. It satisfies the consensus
// runner's PassExtractor interface.
type Extractor struct {
	client    Client
	modelID   string
	maxTokens int64
	limiter   *rate.Limiter
}

// NewExtractor creates an Extractor. ratePerSec bounds vision calls per
// second across all concurrent passes; zero or negative disables limiting.
func NewExtractor(client Client, modelID string, maxTokens int64, ratePerSec float64) *Extractor {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &Extractor{
		client:    client,
		modelID:   modelID,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

// ExtractPass performs one vision call over the document image. Call and
// parse failures are captured in the returned pass's Error field; the
// consensus resolver treats such passes as excluded votes.
func (e *Extractor) ExtractPass(ctx context.Context, image []byte, mediaType string, passIndex int) model.ExtractionPass {
	pass := model.ExtractionPass{PassIndex: passIndex}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			pass.Error = err.Error()
			return pass
		}
	}

	resp, err := e.client.ExtractDocument(ctx, DocumentRequest{
		Model:     e.modelID,
		MaxTokens: e.maxTokens,
		MediaType: mediaType,
		Image:     image,
		Prompt:    extractPrompt,
	})
	if err != nil {
		pass.Error = err.Error()
		return pass
	}
	resp.Usage.LogCost(e.modelID, passIndex)

	products, err := parsePassOutput(resp.Text)
	if err != nil {
		pass.Error = err.Error()
		return pass
	}

	pass.Products = products
	return pass
}
