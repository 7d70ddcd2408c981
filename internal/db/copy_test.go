package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "price_index_products", []string{"id", "index_id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
