package consensus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precoaberto/preco-cli/internal/model"
)

// mockExtractor returns a scripted pass per index and records call order.
type mockExtractor struct {
	mu     sync.Mutex
	passes map[int]model.ExtractionPass
	calls  []int
}

func (m *mockExtractor) ExtractPass(_ context.Context, _ []byte, _ string, passIndex int) model.ExtractionPass {
	m.mu.Lock()
	m.calls = append(m.calls, passIndex)
	m.mu.Unlock()

	if p, ok := m.passes[passIndex]; ok {
		return p
	}
	return model.ExtractionPass{PassIndex: passIndex, Error: "not scripted"}
}

func TestRunner_CollectsAllPassesBeforeConsensus(t *testing.T) {
	ext := &mockExtractor{passes: map[int]model.ExtractionPass{
		0: pass(0, prod("Arroz", "24.90", "un")),
		1: pass(1, prod("arroz", "24.90", "un")),
		2: errPass(2, "timeout"),
	}}

	r := NewRunner(ext, 3, 2)
	res, err := r.Run(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)

	assert.Len(t, ext.calls, 3)
	assert.Equal(t, model.ConsensusMajority, res.Type)
	assert.Len(t, res.Passes, 3)
}

func TestRunner_SinglePass(t *testing.T) {
	ext := &mockExtractor{passes: map[int]model.ExtractionPass{
		0: pass(0, prod("Leite", "5.99", "l")),
	}}

	r := NewRunner(ext, 1, 1)
	res, err := r.Run(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, model.ConsensusUnanimous, res.Type)
	assert.Equal(t, model.ConfidenceUnanimous, res.ConfidenceScore)
}

func TestRunner_ClampsPassCount(t *testing.T) {
	ext := &mockExtractor{passes: map[int]model.ExtractionPass{}}

	r := NewRunner(ext, 7, 0)
	_, err := r.Run(context.Background(), nil, "image/png")
	require.NoError(t, err)
	assert.Len(t, ext.calls, 3)
}

func TestRunner_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ext := &mockExtractor{passes: map[int]model.ExtractionPass{}}
	r := NewRunner(ext, 3, 3)

	_, err := r.Run(ctx, nil, "image/png")
	assert.Error(t, err)
}
