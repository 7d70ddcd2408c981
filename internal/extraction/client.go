// Package extraction wraps the vision-model flyer extraction behind a
// small client interface. It produces ExtractionPass values for the
// consensus resolver and never lets a failed call escape as a Go error.
package extraction

import (
	"context"
	"encoding/base64"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the vision API operations used by the extractor.
type Client interface {
	ExtractDocument(ctx context.Context, req DocumentRequest) (*DocumentResponse, error)
}

// DocumentRequest carries one rendered flyer page image plus the prompt.
type DocumentRequest struct {
	Model     string
	MaxTokens int64
	MediaType string // "image/jpeg", "image/png", "image/webp"
	Image     []byte
	Prompt    string
}

// DocumentResponse is the raw model output for one extraction call.
type DocumentResponse struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// LogCost logs token usage with structured zap fields.
func (u TokenUsage) LogCost(model string, passIndex int) {
	zap.L().Info("extraction cost",
		zap.String("model", model),
		zap.Int("pass", passIndex),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a vision client backed by the SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
	}
}

func (c *sdkClient) ExtractDocument(ctx context.Context, req DocumentRequest) (*DocumentResponse, error) {
	encoded := base64.StdEncoding.EncodeToString(req.Image)

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(req.MediaType, encoded),
				sdk.NewTextBlock(req.Prompt),
			),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extraction: create message")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &DocumentResponse{
		Text: text,
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}
