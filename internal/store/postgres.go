package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/precoaberto/preco-cli/internal/db"
	"github.com/precoaberto/preco-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the daily job's hot paths.
var preparedStatements = map[string]string{
	"upsert_snapshot": `INSERT INTO price_snapshots (product_id, date, min_promo_price, avg_promo_price, store_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (product_id, date) DO UPDATE SET min_promo_price = $3, avg_promo_price = $4, store_count = $5`,
	"unresolved_flag_check": `SELECT EXISTS (
		 SELECT 1 FROM price_quality_flags
		 WHERE product_id = $1 AND flag_type = $2 AND is_resolved = false AND created_at >= $3)`,
	"update_reference_price": `UPDATE products SET reference_price = $1, updated_at = $2 WHERE id = $3`,
	"reference_window_mean": `SELECT AVG(min_promo_price) FROM price_snapshots
		 WHERE product_id = $1 AND date >= $2 AND date <= $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS categories (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS stores (
	id     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name   TEXT NOT NULL,
	city   TEXT NOT NULL,
	state  TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	UNIQUE (name, city, state)
);

CREATE INDEX IF NOT EXISTS idx_stores_city_state ON stores(city, state);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL,
	category_id     TEXT NOT NULL DEFAULT '',
	unit            TEXT NOT NULL,
	reference_price DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, unit)
);

CREATE TABLE IF NOT EXISTS promotions (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id     TEXT NOT NULL REFERENCES products(id),
	store_id       TEXT NOT NULL REFERENCES stores(id),
	promo_price    NUMERIC(12,2) NOT NULL,
	original_price NUMERIC(12,2),
	starts_at      TIMESTAMPTZ NOT NULL,
	ends_at        TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_promotions_product ON promotions(product_id);
CREATE INDEX IF NOT EXISTS idx_promotions_window ON promotions(starts_at, ends_at);

CREATE TABLE IF NOT EXISTS price_snapshots (
	product_id      TEXT NOT NULL REFERENCES products(id),
	date            DATE NOT NULL,
	min_promo_price DOUBLE PRECISION NOT NULL,
	avg_promo_price DOUBLE PRECISION NOT NULL,
	store_count     INTEGER NOT NULL,
	PRIMARY KEY (product_id, date)
);

CREATE INDEX IF NOT EXISTS idx_price_snapshots_date ON price_snapshots(date);

CREATE TABLE IF NOT EXISTS price_quality_flags (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id      TEXT NOT NULL REFERENCES products(id),
	store_id        TEXT,
	flag_type       TEXT NOT NULL,
	severity        TEXT NOT NULL,
	detail          TEXT NOT NULL,
	reference_value DOUBLE PRECISION,
	actual_value    DOUBLE PRECISION,
	is_resolved     BOOLEAN NOT NULL DEFAULT false,
	resolved_by     TEXT,
	resolved_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_quality_flags_dedup ON price_quality_flags(product_id, flag_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_quality_flags_unresolved ON price_quality_flags(is_resolved);

CREATE TABLE IF NOT EXISTS import_documents (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	city               TEXT NOT NULL,
	state              TEXT NOT NULL,
	source_file        TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	consensus          JSONB NOT NULL,
	promotions_created INTEGER NOT NULL DEFAULT 0,
	reviewed_by        TEXT,
	reviewed_at        TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_import_documents_status ON import_documents(status);

CREATE TABLE IF NOT EXISTS price_indices (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	city               TEXT NOT NULL,
	state              TEXT NOT NULL,
	period_start       DATE NOT NULL,
	period_end         DATE NOT NULL,
	index_value        DOUBLE PRECISION NOT NULL,
	mom_change_percent DOUBLE PRECISION,
	yoy_change_percent DOUBLE PRECISION,
	data_quality_score INTEGER NOT NULL,
	product_count      INTEGER NOT NULL,
	store_count        INTEGER NOT NULL,
	snapshot_count     INTEGER NOT NULL,
	status             TEXT NOT NULL DEFAULT 'draft',
	published_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (city, state, period_start)
);

CREATE TABLE IF NOT EXISTS price_index_categories (
	id                 TEXT PRIMARY KEY,
	index_id           TEXT NOT NULL REFERENCES price_indices(id) ON DELETE CASCADE,
	category_id        TEXT NOT NULL,
	avg_price          DOUBLE PRECISION NOT NULL,
	min_price          DOUBLE PRECISION NOT NULL,
	max_price          DOUBLE PRECISION NOT NULL,
	product_count      INTEGER NOT NULL,
	mom_change_percent DOUBLE PRECISION,
	weight             DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_index_categories_index ON price_index_categories(index_id);

CREATE TABLE IF NOT EXISTS price_index_products (
	id                 TEXT PRIMARY KEY,
	index_id           TEXT NOT NULL REFERENCES price_indices(id) ON DELETE CASCADE,
	product_id         TEXT NOT NULL,
	avg_price          DOUBLE PRECISION NOT NULL,
	min_price          DOUBLE PRECISION NOT NULL,
	max_price          DOUBLE PRECISION NOT NULL,
	snapshot_days      INTEGER NOT NULL,
	mom_change_percent DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_index_products_index ON price_index_products(index_id);

CREATE TABLE IF NOT EXISTS job_log (
	id           BIGSERIAL PRIMARY KEY,
	job          TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	error        TEXT,
	metadata     JSONB
);

CREATE INDEX IF NOT EXISTS idx_job_log_job ON job_log(job, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Reference data

func (s *PostgresStore) ActiveStoresByCity(ctx context.Context, city, state string) ([]model.Store, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, city, state, active FROM stores
		 WHERE city = $1 AND state = $2 AND active = true
		 ORDER BY name`,
		city, state,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stores")
	}
	defer rows.Close()

	var stores []model.Store
	for rows.Next() {
		var st model.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.City, &st.State, &st.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan store")
		}
		stores = append(stores, st)
	}
	return stores, eris.Wrap(rows.Err(), "postgres: list stores iterate")
}

func (s *PostgresStore) UpsertStore(ctx context.Context, st model.Store) (*model.Store, error) {
	id := uuid.New().String()

	var out model.Store
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stores (id, name, city, state, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, city, state) DO UPDATE SET active = EXCLUDED.active
		 RETURNING id, name, city, state, active`,
		id, st.Name, st.City, st.State, st.Active,
	).Scan(&out.ID, &out.Name, &out.City, &out.State, &out.Active)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert store %s", st.Name)
	}
	return &out, nil
}

func (s *PostgresStore) Categories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

func (s *PostgresStore) UpsertCategory(ctx context.Context, c model.Category) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO categories (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		c.ID, c.Name,
	)
	return eris.Wrapf(err, "postgres: upsert category %s", c.ID)
}

func (s *PostgresStore) ProductsByIDs(ctx context.Context, ids []string) (map[string]model.Product, error) {
	if len(ids) == 0 {
		return map[string]model.Product{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, category_id, unit, reference_price, created_at, updated_at
		 FROM products WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: products by ids")
	}
	defer rows.Close()

	products := make(map[string]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Unit, &p.ReferencePrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		products[p.ID] = p
	}
	return products, eris.Wrap(rows.Err(), "postgres: products by ids iterate")
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, name string, unit model.Unit, categoryID string) (*model.Product, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var p model.Product
	err := s.pool.QueryRow(ctx,
		`INSERT INTO products (id, name, category_id, unit, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (name, unit) DO UPDATE SET updated_at = $5
		 RETURNING id, name, category_id, unit, reference_price, created_at, updated_at`,
		id, name, categoryID, string(unit), now,
	).Scan(&p.ID, &p.Name, &p.CategoryID, &p.Unit, &p.ReferencePrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert product %s", name)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateReferencePrice(ctx context.Context, productID string, price float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET reference_price = $1, updated_at = $2 WHERE id = $3`,
		price, time.Now().UTC(), productID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update reference price %s", productID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("product not found: %s", productID)
	}
	return nil
}

func (s *PostgresStore) StaleProducts(ctx context.Context, since time.Time) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, p.category_id, p.unit, p.reference_price, p.created_at, p.updated_at
		 FROM products p
		 WHERE p.reference_price IS NOT NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM price_snapshots ps
		     WHERE ps.product_id = p.id AND ps.date >= $1
		   )`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stale products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Unit, &p.ReferencePrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale product")
		}
		products = append(products, p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: stale products iterate")
}

func (s *PostgresStore) ReferenceWindowMean(ctx context.Context, productID string, from, to time.Time) (*float64, error) {
	var mean *float64
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(min_promo_price) FROM price_snapshots
		 WHERE product_id = $1 AND date >= $2 AND date <= $3`,
		productID, from, to,
	).Scan(&mean)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: reference window mean %s", productID)
	}
	return mean, nil
}

// Promotions

func (s *PostgresStore) CreatePromotion(ctx context.Context, p model.Promotion) (*model.Promotion, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO promotions (id, product_id, store_id, promo_price, original_price, starts_at, ends_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ProductID, p.StoreID, p.PromoPrice, p.OriginalPrice, p.StartsAt, p.EndsAt, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert promotion")
	}
	return &p, nil
}

func (s *PostgresStore) ActivePromotions(ctx context.Context, at time.Time) ([]model.Promotion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, store_id, promo_price, original_price, starts_at, ends_at, created_at
		 FROM promotions WHERE starts_at <= $1 AND ends_at >= $1`,
		at,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active promotions")
	}
	defer rows.Close()
	return scanPromotions(rows)
}

func (s *PostgresStore) PromotionsInPeriod(ctx context.Context, storeIDs []string, from, to time.Time) ([]model.Promotion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, store_id, promo_price, original_price, starts_at, ends_at, created_at
		 FROM promotions
		 WHERE store_id = ANY($1) AND starts_at <= $3 AND ends_at >= $2`,
		storeIDs, from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: promotions in period")
	}
	defer rows.Close()
	return scanPromotions(rows)
}

func scanPromotions(rows pgx.Rows) ([]model.Promotion, error) {
	var promos []model.Promotion
	for rows.Next() {
		var p model.Promotion
		if err := rows.Scan(&p.ID, &p.ProductID, &p.StoreID, &p.PromoPrice, &p.OriginalPrice, &p.StartsAt, &p.EndsAt, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan promotion")
		}
		promos = append(promos, p)
	}
	return promos, eris.Wrap(rows.Err(), "postgres: promotions iterate")
}

// Price snapshots

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap model.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_snapshots (product_id, date, min_promo_price, avg_promo_price, store_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (product_id, date) DO UPDATE SET min_promo_price = $3, avg_promo_price = $4, store_count = $5`,
		snap.ProductID, snap.Date, snap.MinPromoPrice, snap.AvgPromoPrice, snap.StoreCount,
	)
	return eris.Wrapf(err, "postgres: upsert snapshot %s", snap.ProductID)
}

func (s *PostgresStore) UpsertSnapshots(ctx context.Context, snaps []model.PriceSnapshot) (int64, error) {
	rows := make([][]any, len(snaps))
	for i, sn := range snaps {
		rows[i] = []any{sn.ProductID, sn.Date, sn.MinPromoPrice, sn.AvgPromoPrice, sn.StoreCount}
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "price_snapshots",
		Columns:      []string{"product_id", "date", "min_promo_price", "avg_promo_price", "store_count"},
		ConflictKeys: []string{"product_id", "date"},
	}, rows)
}

func (s *PostgresStore) SnapshotsInPeriod(ctx context.Context, from, to time.Time) ([]model.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, date, min_promo_price, avg_promo_price, store_count
		 FROM price_snapshots WHERE date >= $1 AND date <= $2`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshots in period")
	}
	defer rows.Close()

	var snaps []model.PriceSnapshot
	for rows.Next() {
		var sn model.PriceSnapshot
		if err := rows.Scan(&sn.ProductID, &sn.Date, &sn.MinPromoPrice, &sn.AvgPromoPrice, &sn.StoreCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: snapshots iterate")
}

func (s *PostgresStore) PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_snapshots WHERE date < $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge snapshots")
	}
	return int(tag.RowsAffected()), nil
}

// Quality flags

func (s *PostgresStore) HasUnresolvedFlagSince(ctx context.Context, productID string, flagType model.FlagType, since time.Time) (bool, error) {
	var exists bool
	// Deliberately not scoped by store_id: an unresolved flag of the same
	// type on the same product suppresses re-flagging from any store.
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		 SELECT 1 FROM price_quality_flags
		 WHERE product_id = $1 AND flag_type = $2 AND is_resolved = false AND created_at >= $3)`,
		productID, string(flagType), since,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: unresolved flag check %s", productID)
	}
	return exists, nil
}

func (s *PostgresStore) CreateFlag(ctx context.Context, f model.QualityFlag) (*model.QualityFlag, error) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	var storeID *string
	if f.StoreID != "" {
		storeID = &f.StoreID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_quality_flags
		 (id, product_id, store_id, flag_type, severity, detail, reference_value, actual_value, is_resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
		f.ID, f.ProductID, storeID, string(f.FlagType), string(f.Severity), f.Detail,
		f.ReferenceValue, f.ActualValue, f.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert flag")
	}
	return &f, nil
}

func (s *PostgresStore) ResolveFlag(ctx context.Context, id, resolvedBy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_quality_flags
		 SET is_resolved = true, resolved_by = $1, resolved_at = $2
		 WHERE id = $3 AND is_resolved = false`,
		resolvedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve flag %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("flag not found or already resolved: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListUnresolvedFlags(ctx context.Context, limit int) ([]model.QualityFlag, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, store_id, flag_type, severity, detail, reference_value, actual_value, is_resolved, resolved_by, resolved_at, created_at
		 FROM price_quality_flags
		 WHERE is_resolved = false
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unresolved flags")
	}
	defer rows.Close()

	var flags []model.QualityFlag
	for rows.Next() {
		var f model.QualityFlag
		var storeID, resolvedBy *string
		if err := rows.Scan(&f.ID, &f.ProductID, &storeID, &f.FlagType, &f.Severity, &f.Detail,
			&f.ReferenceValue, &f.ActualValue, &f.IsResolved, &resolvedBy, &f.ResolvedAt, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flag")
		}
		if storeID != nil {
			f.StoreID = *storeID
		}
		if resolvedBy != nil {
			f.ResolvedBy = *resolvedBy
		}
		flags = append(flags, f)
	}
	return flags, eris.Wrap(rows.Err(), "postgres: list flags iterate")
}

// Import documents

func (s *PostgresStore) CreateImportDocument(ctx context.Context, doc model.ImportDocument) (*model.ImportDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	consensusJSON, err := json.Marshal(doc.Consensus)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal consensus")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_documents (id, city, state, source_file, status, consensus, promotions_created, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.City, doc.State, doc.SourceFile, string(doc.Status), consensusJSON, doc.PromotionsCreated, doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert import document")
	}
	return &doc, nil
}

func (s *PostgresStore) GetImportDocument(ctx context.Context, id string) (*model.ImportDocument, error) {
	var doc model.ImportDocument
	var consensusJSON []byte
	var reviewedBy *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, city, state, source_file, status, consensus, promotions_created, reviewed_by, reviewed_at, created_at
		 FROM import_documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.City, &doc.State, &doc.SourceFile, &doc.Status, &consensusJSON,
		&doc.PromotionsCreated, &reviewedBy, &doc.ReviewedAt, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get import document %s", id)
	}

	if err := json.Unmarshal(consensusJSON, &doc.Consensus); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal consensus")
	}
	if reviewedBy != nil {
		doc.ReviewedBy = *reviewedBy
	}
	return &doc, nil
}

func (s *PostgresStore) ListImportDocuments(ctx context.Context, status model.ImportStatus, limit int) ([]model.ImportDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, city, state, source_file, status, consensus, promotions_created, reviewed_by, reviewed_at, created_at
		 FROM import_documents
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list import documents")
	}
	defer rows.Close()

	var docs []model.ImportDocument
	for rows.Next() {
		var doc model.ImportDocument
		var consensusJSON []byte
		var reviewedBy *string
		if err := rows.Scan(&doc.ID, &doc.City, &doc.State, &doc.SourceFile, &doc.Status, &consensusJSON,
			&doc.PromotionsCreated, &reviewedBy, &doc.ReviewedAt, &doc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan import document")
		}
		if err := json.Unmarshal(consensusJSON, &doc.Consensus); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal consensus")
		}
		if reviewedBy != nil {
			doc.ReviewedBy = *reviewedBy
		}
		docs = append(docs, doc)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list import documents iterate")
}

func (s *PostgresStore) SetImportReview(ctx context.Context, id string, status model.ImportStatus, reviewedBy string, promotionsCreated int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_documents
		 SET status = $1, reviewed_by = $2, reviewed_at = $3, promotions_created = $4
		 WHERE id = $5`,
		string(status), reviewedBy, time.Now().UTC(), promotionsCreated, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set import review %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("import document not found: %s", id)
	}
	return nil
}

// Price indices

func (s *PostgresStore) GetIndexByPeriod(ctx context.Context, city, state string, periodStart time.Time) (*model.PriceIndex, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, city, state, period_start, period_end, index_value, mom_change_percent, yoy_change_percent,
		        data_quality_score, product_count, store_count, snapshot_count, status, published_at, created_at
		 FROM price_indices WHERE city = $1 AND state = $2 AND period_start = $3`,
		city, state, periodStart,
	)
	return scanIndex(row)
}

func (s *PostgresStore) GetIndex(ctx context.Context, id string) (*model.PriceIndex, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, city, state, period_start, period_end, index_value, mom_change_percent, yoy_change_percent,
		        data_quality_score, product_count, store_count, snapshot_count, status, published_at, created_at
		 FROM price_indices WHERE id = $1`,
		id,
	)
	return scanIndex(row)
}

func scanIndex(row pgx.Row) (*model.PriceIndex, error) {
	var idx model.PriceIndex
	err := row.Scan(&idx.ID, &idx.City, &idx.State, &idx.PeriodStart, &idx.PeriodEnd, &idx.IndexValue,
		&idx.MoMChangePercent, &idx.YoYChangePercent, &idx.DataQualityScore,
		&idx.ProductCount, &idx.StoreCount, &idx.SnapshotCount, &idx.Status, &idx.PublishedAt, &idx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get index")
	}
	return &idx, nil
}

func (s *PostgresStore) CreateIndex(ctx context.Context, idx model.PriceIndex) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_indices
		 (id, city, state, period_start, period_end, index_value, mom_change_percent, yoy_change_percent,
		  data_quality_score, product_count, store_count, snapshot_count, status, published_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		idx.ID, idx.City, idx.State, idx.PeriodStart, idx.PeriodEnd, idx.IndexValue,
		idx.MoMChangePercent, idx.YoYChangePercent, idx.DataQualityScore,
		idx.ProductCount, idx.StoreCount, idx.SnapshotCount, string(idx.Status), idx.PublishedAt, idx.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert index")
}

func (s *PostgresStore) InsertIndexCategories(ctx context.Context, rows []model.PriceIndexCategory) error {
	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = []any{r.ID, r.IndexID, r.CategoryID, r.AvgPrice, r.MinPrice, r.MaxPrice,
			r.ProductCount, r.MoMChangePercent, r.Weight}
	}
	_, err := db.CopyFrom(ctx, s.pool, "price_index_categories",
		[]string{"id", "index_id", "category_id", "avg_price", "min_price", "max_price",
			"product_count", "mom_change_percent", "weight"},
		copyRows)
	return err
}

func (s *PostgresStore) InsertIndexProducts(ctx context.Context, rows []model.PriceIndexProduct) error {
	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = []any{r.ID, r.IndexID, r.ProductID, r.AvgPrice, r.MinPrice, r.MaxPrice,
			r.SnapshotDays, r.MoMChangePercent}
	}
	_, err := db.CopyFrom(ctx, s.pool, "price_index_products",
		[]string{"id", "index_id", "product_id", "avg_price", "min_price", "max_price",
			"snapshot_days", "mom_change_percent"},
		copyRows)
	return err
}

func (s *PostgresStore) IndexCategories(ctx context.Context, indexID string) ([]model.PriceIndexCategory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, index_id, category_id, avg_price, min_price, max_price, product_count, mom_change_percent, weight
		 FROM price_index_categories WHERE index_id = $1 ORDER BY category_id`,
		indexID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: index categories")
	}
	defer rows.Close()

	var cats []model.PriceIndexCategory
	for rows.Next() {
		var c model.PriceIndexCategory
		if err := rows.Scan(&c.ID, &c.IndexID, &c.CategoryID, &c.AvgPrice, &c.MinPrice, &c.MaxPrice,
			&c.ProductCount, &c.MoMChangePercent, &c.Weight); err != nil {
			return nil, eris.Wrap(err, "postgres: scan index category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "postgres: index categories iterate")
}

func (s *PostgresStore) IndexProducts(ctx context.Context, indexID string) ([]model.PriceIndexProduct, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, index_id, product_id, avg_price, min_price, max_price, snapshot_days, mom_change_percent
		 FROM price_index_products WHERE index_id = $1 ORDER BY product_id`,
		indexID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: index products")
	}
	defer rows.Close()

	var prods []model.PriceIndexProduct
	for rows.Next() {
		var p model.PriceIndexProduct
		if err := rows.Scan(&p.ID, &p.IndexID, &p.ProductID, &p.AvgPrice, &p.MinPrice, &p.MaxPrice,
			&p.SnapshotDays, &p.MoMChangePercent); err != nil {
			return nil, eris.Wrap(err, "postgres: scan index product")
		}
		prods = append(prods, p)
	}
	return prods, eris.Wrap(rows.Err(), "postgres: index products iterate")
}

func (s *PostgresStore) DeleteIndex(ctx context.Context, id string) error {
	// Children cascade via FK.
	_, err := s.pool.Exec(ctx, `DELETE FROM price_indices WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete index %s", id)
}

func (s *PostgresStore) UpdateIndexStatus(ctx context.Context, id string, status model.IndexStatus, publishedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_indices SET status = $1, published_at = $2 WHERE id = $3`,
		string(status), publishedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update index status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("index not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListIndices(ctx context.Context, filter IndexFilter) ([]model.PriceIndex, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, city, state, period_start, period_end, index_value, mom_change_percent, yoy_change_percent,
		        data_quality_score, product_count, store_count, snapshot_count, status, published_at, created_at
		 FROM price_indices
		 WHERE ($1 = '' OR city = $1) AND ($2 = '' OR state = $2) AND ($3 = '' OR status = $3)
		 ORDER BY period_start DESC LIMIT $4`,
		filter.City, filter.State, string(filter.Status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list indices")
	}
	defer rows.Close()

	var indices []model.PriceIndex
	for rows.Next() {
		var idx model.PriceIndex
		if err := rows.Scan(&idx.ID, &idx.City, &idx.State, &idx.PeriodStart, &idx.PeriodEnd, &idx.IndexValue,
			&idx.MoMChangePercent, &idx.YoYChangePercent, &idx.DataQualityScore,
			&idx.ProductCount, &idx.StoreCount, &idx.SnapshotCount, &idx.Status, &idx.PublishedAt, &idx.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan index row")
		}
		indices = append(indices, idx)
	}
	return indices, eris.Wrap(rows.Err(), "postgres: list indices iterate")
}

// Job log

func (s *PostgresStore) JobLastSuccess(ctx context.Context, job string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM job_log
		 WHERE job = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		job,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: job last success %s", job)
	}
	return &t, nil
}

func (s *PostgresStore) JobStart(ctx context.Context, job string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO job_log (job, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		job,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start job %s", job)
	}
	return id, nil
}

func (s *PostgresStore) JobComplete(ctx context.Context, jobID int64, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal job metadata")
		}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE job_log SET status = 'complete', completed_at = now(), metadata = $1 WHERE id = $2`,
		metaJSON, jobID,
	)
	return eris.Wrapf(err, "postgres: complete job %d", jobID)
}

func (s *PostgresStore) JobFail(ctx context.Context, jobID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_log SET status = 'failed', completed_at = now(), error = $1 WHERE id = $2`,
		errMsg, jobID,
	)
	return eris.Wrapf(err, "postgres: fail job %d", jobID)
}

func (s *PostgresStore) ListJobRuns(ctx context.Context, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job, status, started_at, completed_at, error, metadata
		 FROM job_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job runs")
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var r JobRun
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&r.ID, &r.Job, &r.Status, &r.StartedAt, &r.CompletedAt, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job run")
		}
		if errStr != nil {
			r.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &r.Metadata)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list job runs iterate")
}
