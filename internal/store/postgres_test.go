package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precoaberto/preco-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetIndexByPeriod_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	period := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM price_indices WHERE city = \$1 AND state = \$2 AND period_start = \$3`).
		WithArgs("Matão", "SP", period).
		WillReturnError(pgx.ErrNoRows)

	idx, err := s.GetIndexByPeriod(context.Background(), "Matão", "SP", period)
	require.NoError(t, err)
	assert.Nil(t, idx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetImportDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM import_documents WHERE id = \$1`).
		WithArgs("missing-doc").
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.GetImportDocument(context.Background(), "missing-doc")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	date := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO price_snapshots .+ ON CONFLICT \(product_id, date\)`).
		WithArgs("prod-1", date, 4.50, 5.25, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertSnapshot(context.Background(), model.PriceSnapshot{
		ProductID:     "prod-1",
		Date:          date,
		MinPromoPrice: 4.50,
		AvgPromoPrice: 5.25,
		StoreCount:    3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasUnresolvedFlagSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("prod-1", "outlier_low", since).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	got, err := s.HasUnresolvedFlagSince(context.Background(), "prod-1", model.FlagOutlierLow, since)
	require.NoError(t, err)
	assert.True(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateFlag_NullStoreID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Stale flags carry no store; the column must go in as NULL, not "".
	mock.ExpectExec(`INSERT INTO price_quality_flags`).
		WithArgs(pgxmock.AnyArg(), "prod-1", (*string)(nil), "stale", "medium", "no snapshot in 7 days",
			(*float64)(nil), (*float64)(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	flag, err := s.CreateFlag(context.Background(), model.QualityFlag{
		ProductID: "prod-1",
		FlagType:  model.FlagStale,
		Severity:  model.SeverityMedium,
		Detail:    "no snapshot in 7 days",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, flag.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveFlag_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE price_quality_flags`).
		WithArgs("admin", pgxmock.AnyArg(), "missing-flag").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ResolveFlag(context.Background(), "missing-flag", "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found or already resolved")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeSnapshotsBefore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cutoff := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM price_snapshots WHERE date < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	n, err := s.PurgeSnapshotsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReferenceWindowMean_NoData(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	from := time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT AVG\(min_promo_price\) FROM price_snapshots`).
		WithArgs("prod-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow((*float64)(nil)))

	mean, err := s.ReferenceWindowMean(context.Background(), "prod-1", from, to)
	require.NoError(t, err)
	assert.Nil(t, mean)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_JobLastSuccess_NeverRan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT started_at FROM job_log`).
		WithArgs("daily_snapshot").
		WillReturnError(pgx.ErrNoRows)

	last, err := s.JobLastSuccess(context.Background(), "daily_snapshot")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIndexStatus_Publish(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE price_indices SET status = \$1, published_at = \$2 WHERE id = \$3`).
		WithArgs("published", &now, "idx-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateIndexStatus(context.Background(), "idx-1", model.IndexStatusPublished, &now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ActiveStoresByCity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, city, state, active FROM stores`).
		WithArgs("Matão", "SP").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "city", "state", "active"}).
			AddRow("st-1", "Mercado Central", "Matão", "SP", true).
			AddRow("st-2", "Supermercado União", "Matão", "SP", true))

	stores, err := s.ActiveStoresByCity(context.Background(), "Matão", "SP")
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.Equal(t, "Mercado Central", stores[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ProductsByIDs_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	products, err := s.ProductsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, products)
}
