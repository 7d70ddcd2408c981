package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "price_snapshots",
		Columns:      []string{"product_id", "date", "min_promo_price"},
		ConflictKeys: []string{"product_id", "date"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "price_snapshots",
		ConflictKeys: []string{"product_id", "date"},
	}, [][]any{{"p1", "2026-03-01", 9.90}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "price_snapshots",
		Columns: []string{"product_id", "date"},
	}, [][]any{{"p1", "2026-03-01"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"product_id", "date", "min_promo_price"})
	assert.Equal(t, `"product_id", "date", "min_promo_price"`, result)
}
