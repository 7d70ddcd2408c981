package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/precoaberto/preco-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Meant for local
// development and single-city deployments; the daily and monthly jobs run
// unchanged against it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS categories (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS stores (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	city   TEXT NOT NULL,
	state  TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	UNIQUE (name, city, state)
);

CREATE INDEX IF NOT EXISTS idx_stores_city_state ON stores(city, state);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	category_id     TEXT NOT NULL DEFAULT '',
	unit            TEXT NOT NULL,
	reference_price REAL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (name, unit)
);

CREATE TABLE IF NOT EXISTS promotions (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL REFERENCES products(id),
	store_id       TEXT NOT NULL REFERENCES stores(id),
	promo_price    TEXT NOT NULL,
	original_price TEXT,
	starts_at      DATETIME NOT NULL,
	ends_at        DATETIME NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_promotions_product ON promotions(product_id);
CREATE INDEX IF NOT EXISTS idx_promotions_window ON promotions(starts_at, ends_at);

CREATE TABLE IF NOT EXISTS price_snapshots (
	product_id      TEXT NOT NULL REFERENCES products(id),
	date            DATETIME NOT NULL,
	min_promo_price REAL NOT NULL,
	avg_promo_price REAL NOT NULL,
	store_count     INTEGER NOT NULL,
	PRIMARY KEY (product_id, date)
);

CREATE INDEX IF NOT EXISTS idx_price_snapshots_date ON price_snapshots(date);

CREATE TABLE IF NOT EXISTS price_quality_flags (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL REFERENCES products(id),
	store_id        TEXT,
	flag_type       TEXT NOT NULL,
	severity        TEXT NOT NULL,
	detail          TEXT NOT NULL,
	reference_value REAL,
	actual_value    REAL,
	is_resolved     INTEGER NOT NULL DEFAULT 0,
	resolved_by     TEXT,
	resolved_at     DATETIME,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quality_flags_dedup ON price_quality_flags(product_id, flag_type, created_at);
CREATE INDEX IF NOT EXISTS idx_quality_flags_unresolved ON price_quality_flags(is_resolved);

CREATE TABLE IF NOT EXISTS import_documents (
	id                 TEXT PRIMARY KEY,
	city               TEXT NOT NULL,
	state              TEXT NOT NULL,
	source_file        TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	consensus          TEXT NOT NULL,
	promotions_created INTEGER NOT NULL DEFAULT 0,
	reviewed_by        TEXT,
	reviewed_at        DATETIME,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_import_documents_status ON import_documents(status);

CREATE TABLE IF NOT EXISTS price_indices (
	id                 TEXT PRIMARY KEY,
	city               TEXT NOT NULL,
	state              TEXT NOT NULL,
	period_start       DATETIME NOT NULL,
	period_end         DATETIME NOT NULL,
	index_value        REAL NOT NULL,
	mom_change_percent REAL,
	yoy_change_percent REAL,
	data_quality_score INTEGER NOT NULL,
	product_count      INTEGER NOT NULL,
	store_count        INTEGER NOT NULL,
	snapshot_count     INTEGER NOT NULL,
	status             TEXT NOT NULL DEFAULT 'draft',
	published_at       DATETIME,
	created_at         DATETIME NOT NULL,
	UNIQUE (city, state, period_start)
);

CREATE TABLE IF NOT EXISTS price_index_categories (
	id                 TEXT PRIMARY KEY,
	index_id           TEXT NOT NULL REFERENCES price_indices(id) ON DELETE CASCADE,
	category_id        TEXT NOT NULL,
	avg_price          REAL NOT NULL,
	min_price          REAL NOT NULL,
	max_price          REAL NOT NULL,
	product_count      INTEGER NOT NULL,
	mom_change_percent REAL,
	weight             REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_index_categories_index ON price_index_categories(index_id);

CREATE TABLE IF NOT EXISTS price_index_products (
	id                 TEXT PRIMARY KEY,
	index_id           TEXT NOT NULL REFERENCES price_indices(id) ON DELETE CASCADE,
	product_id         TEXT NOT NULL,
	avg_price          REAL NOT NULL,
	min_price          REAL NOT NULL,
	max_price          REAL NOT NULL,
	snapshot_days      INTEGER NOT NULL,
	mom_change_percent REAL
);

CREATE INDEX IF NOT EXISTS idx_index_products_index ON price_index_products(index_id);

CREATE TABLE IF NOT EXISTS job_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	job          TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	error        TEXT,
	metadata     TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_log_job ON job_log(job, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

// placeholders returns "?, ?, ..., ?" with n entries.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Reference data

func (s *SQLiteStore) ActiveStoresByCity(ctx context.Context, city, state string) ([]model.Store, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, city, state, active FROM stores
		 WHERE city = ? AND state = ? AND active = 1
		 ORDER BY name`,
		city, state,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stores")
	}
	defer rows.Close()

	var stores []model.Store
	for rows.Next() {
		var st model.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.City, &st.State, &st.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan store")
		}
		stores = append(stores, st)
	}
	return stores, eris.Wrap(rows.Err(), "sqlite: list stores iterate")
}

func (s *SQLiteStore) UpsertStore(ctx context.Context, st model.Store) (*model.Store, error) {
	id := uuid.New().String()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stores (id, name, city, state, active)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name, city, state) DO UPDATE SET active = excluded.active`,
		id, st.Name, st.City, st.State, st.Active,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert store %s", st.Name)
	}

	var out model.Store
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, city, state, active FROM stores
		 WHERE name = ? AND city = ? AND state = ?`,
		st.Name, st.City, st.State,
	).Scan(&out.ID, &out.Name, &out.City, &out.State, &out.Active)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read back store %s", st.Name)
	}
	return &out, nil
}

func (s *SQLiteStore) Categories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: list categories iterate")
}

func (s *SQLiteStore) UpsertCategory(ctx context.Context, c model.Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name,
	)
	return eris.Wrapf(err, "sqlite: upsert category %s", c.ID)
}

func (s *SQLiteStore) ProductsByIDs(ctx context.Context, ids []string) (map[string]model.Product, error) {
	if len(ids) == 0 {
		return map[string]model.Product{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category_id, unit, reference_price, created_at, updated_at
		 FROM products WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: products by ids")
	}
	defer rows.Close()

	products := make(map[string]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Unit, &p.ReferencePrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		products[p.ID] = p
	}
	return products, eris.Wrap(rows.Err(), "sqlite: products by ids iterate")
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, name string, unit model.Unit, categoryID string) (*model.Product, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, category_id, unit, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, unit) DO UPDATE SET updated_at = excluded.updated_at`,
		id, name, categoryID, string(unit), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert product %s", name)
	}

	var p model.Product
	err = s.db.QueryRowContext(ctx,
		`SELECT id, name, category_id, unit, reference_price, created_at, updated_at
		 FROM products WHERE name = ? AND unit = ?`,
		name, string(unit),
	).Scan(&p.ID, &p.Name, &p.CategoryID, &p.Unit, &p.ReferencePrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read back product %s", name)
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateReferencePrice(ctx context.Context, productID string, price float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET reference_price = ?, updated_at = ? WHERE id = ?`,
		price, time.Now().UTC(), productID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update reference price %s", productID)
	}
	return checkRowsAffected(res, "product", productID)
}

func (s *SQLiteStore) StaleProducts(ctx context.Context, since time.Time) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.category_id, p.unit, p.reference_price, p.created_at, p.updated_at
		 FROM products p
		 WHERE p.reference_price IS NOT NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM price_snapshots ps
		     WHERE ps.product_id = p.id AND ps.date >= ?
		   )`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stale products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CategoryID, &p.Unit, &p.ReferencePrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale product")
		}
		products = append(products, p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: stale products iterate")
}

func (s *SQLiteStore) ReferenceWindowMean(ctx context.Context, productID string, from, to time.Time) (*float64, error) {
	var mean *float64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(min_promo_price) FROM price_snapshots
		 WHERE product_id = ? AND date >= ? AND date <= ?`,
		productID, from, to,
	).Scan(&mean)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reference window mean %s", productID)
	}
	return mean, nil
}

// Promotions

func (s *SQLiteStore) CreatePromotion(ctx context.Context, p model.Promotion) (*model.Promotion, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var originalPrice *string
	if p.OriginalPrice != nil {
		v := p.OriginalPrice.StringFixed(2)
		originalPrice = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promotions (id, product_id, store_id, promo_price, original_price, starts_at, ends_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProductID, p.StoreID, p.PromoPrice.StringFixed(2), originalPrice, p.StartsAt, p.EndsAt, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert promotion")
	}
	return &p, nil
}

func (s *SQLiteStore) ActivePromotions(ctx context.Context, at time.Time) ([]model.Promotion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, store_id, promo_price, original_price, starts_at, ends_at, created_at
		 FROM promotions WHERE starts_at <= ? AND ends_at >= ?`,
		at, at,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active promotions")
	}
	defer rows.Close()
	return scanSQLitePromotions(rows)
}

func (s *SQLiteStore) PromotionsInPeriod(ctx context.Context, storeIDs []string, from, to time.Time) ([]model.Promotion, error) {
	if len(storeIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(storeIDs)+2)
	for _, id := range storeIDs {
		args = append(args, id)
	}
	args = append(args, to, from)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, store_id, promo_price, original_price, starts_at, ends_at, created_at
		 FROM promotions
		 WHERE store_id IN (`+placeholders(len(storeIDs))+`) AND starts_at <= ? AND ends_at >= ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: promotions in period")
	}
	defer rows.Close()
	return scanSQLitePromotions(rows)
}

func scanSQLitePromotions(rows *sql.Rows) ([]model.Promotion, error) {
	var promos []model.Promotion
	for rows.Next() {
		var p model.Promotion
		if err := rows.Scan(&p.ID, &p.ProductID, &p.StoreID, &p.PromoPrice, &p.OriginalPrice, &p.StartsAt, &p.EndsAt, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan promotion")
		}
		promos = append(promos, p)
	}
	return promos, eris.Wrap(rows.Err(), "sqlite: promotions iterate")
}

// Price snapshots

func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap model.PriceSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_snapshots (product_id, date, min_promo_price, avg_promo_price, store_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (product_id, date) DO UPDATE SET
		   min_promo_price = excluded.min_promo_price,
		   avg_promo_price = excluded.avg_promo_price,
		   store_count = excluded.store_count`,
		snap.ProductID, snap.Date, snap.MinPromoPrice, snap.AvgPromoPrice, snap.StoreCount,
	)
	return eris.Wrapf(err, "sqlite: upsert snapshot %s", snap.ProductID)
}

// UpsertSnapshots upserts row by row inside one transaction. SQLite has no
// COPY protocol, so the bulk path degenerates to the per-row one.
func (s *SQLiteStore) UpsertSnapshots(ctx context.Context, snaps []model.PriceSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_snapshots (product_id, date, min_promo_price, avg_promo_price, store_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (product_id, date) DO UPDATE SET
		   min_promo_price = excluded.min_promo_price,
		   avg_promo_price = excluded.avg_promo_price,
		   store_count = excluded.store_count`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	for _, snap := range snaps {
		if _, err := stmt.ExecContext(ctx, snap.ProductID, snap.Date, snap.MinPromoPrice, snap.AvgPromoPrice, snap.StoreCount); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert snapshot %s", snap.ProductID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert tx")
	}
	return int64(len(snaps)), nil
}

func (s *SQLiteStore) SnapshotsInPeriod(ctx context.Context, from, to time.Time) ([]model.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, date, min_promo_price, avg_promo_price, store_count
		 FROM price_snapshots WHERE date >= ? AND date <= ?`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshots in period")
	}
	defer rows.Close()

	var snaps []model.PriceSnapshot
	for rows.Next() {
		var sn model.PriceSnapshot
		if err := rows.Scan(&sn.ProductID, &sn.Date, &sn.MinPromoPrice, &sn.AvgPromoPrice, &sn.StoreCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: snapshots iterate")
}

func (s *SQLiteStore) PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_snapshots WHERE date < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge snapshots")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge rows affected")
	}
	return int(n), nil
}

// Quality flags

func (s *SQLiteStore) HasUnresolvedFlagSince(ctx context.Context, productID string, flagType model.FlagType, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		 SELECT 1 FROM price_quality_flags
		 WHERE product_id = ? AND flag_type = ? AND is_resolved = 0 AND created_at >= ?)`,
		productID, string(flagType), since,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: unresolved flag check %s", productID)
	}
	return exists, nil
}

func (s *SQLiteStore) CreateFlag(ctx context.Context, f model.QualityFlag) (*model.QualityFlag, error) {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_quality_flags
		 (id, product_id, store_id, flag_type, severity, detail, reference_value, actual_value, is_resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		f.ID, f.ProductID, storeID, string(f.FlagType), string(f.Severity), f.Detail,
		f.ReferenceValue, f.ActualValue, f.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert flag")
	}
	return &f, nil
}

func (s *SQLiteStore) ResolveFlag(ctx context.Context, id, resolvedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_quality_flags
		 SET is_resolved = 1, resolved_by = ?, resolved_at = ?
		 WHERE id = ? AND is_resolved = 0`,
		resolvedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve flag %s", id)
	}
	return checkRowsAffected(res, "flag", id)
}

func (s *SQLiteStore) ListUnresolvedFlags(ctx context.Context, limit int) ([]model.QualityFlag, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, store_id, flag_type, severity, detail, reference_value, actual_value, is_resolved, resolved_by, resolved_at, created_at
		 FROM price_quality_flags
		 WHERE is_resolved = 0
		 ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unresolved flags")
	}
	defer rows.Close()

	var flags []model.QualityFlag
	for rows.Next() {
		var f model.QualityFlag
		var storeID, resolvedBy *string
		if err := rows.Scan(&f.ID, &f.ProductID, &storeID, &f.FlagType, &f.Severity, &f.Detail,
			&f.ReferenceValue, &f.ActualValue, &f.IsResolved, &resolvedBy, &f.ResolvedAt, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flag")
		}
		if storeID != nil {
			f.StoreID = *storeID
		}
		if resolvedBy != nil {
			f.ResolvedBy = *resolvedBy
		}
		flags = append(flags, f)
	}
	return flags, eris.Wrap(rows.Err(), "sqlite: list flags iterate")
}

// Import documents

func (s *SQLiteStore) CreateImportDocument(ctx context.Context, doc model.ImportDocument) (*model.ImportDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	consensusJSON, err := json.Marshal(doc.Consensus)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal consensus")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_documents (id, city, state, source_file, status, consensus, promotions_created, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.City, doc.State, doc.SourceFile, string(doc.Status), string(consensusJSON), doc.PromotionsCreated, doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert import document")
	}
	return &doc, nil
}

func (s *SQLiteStore) GetImportDocument(ctx context.Context, id string) (*model.ImportDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, city, state, source_file, status, consensus, promotions_created, reviewed_by, reviewed_at, created_at
		 FROM import_documents WHERE id = ?`,
		id,
	)
	doc, err := scanSQLiteImportDocument(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get import document %s", id)
	}
	return doc, nil
}

func (s *SQLiteStore) ListImportDocuments(ctx context.Context, status model.ImportStatus, limit int) ([]model.ImportDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, city, state, source_file, status, consensus, promotions_created, reviewed_by, reviewed_at, created_at
		 FROM import_documents
		 WHERE (? = '' OR status = ?)
		 ORDER BY created_at DESC LIMIT ?`,
		string(status), string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list import documents")
	}
	defer rows.Close()

	var docs []model.ImportDocument
	for rows.Next() {
		doc, err := scanSQLiteImportDocument(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import document")
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list import documents iterate")
}

func scanSQLiteImportDocument(scan func(...any) error) (*model.ImportDocument, error) {
	var doc model.ImportDocument
	var consensusJSON string
	var reviewedBy *string

	err := scan(&doc.ID, &doc.City, &doc.State, &doc.SourceFile, &doc.Status, &consensusJSON,
		&doc.PromotionsCreated, &reviewedBy, &doc.ReviewedAt, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(consensusJSON), &doc.Consensus); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal consensus")
	}
	if reviewedBy != nil {
		doc.ReviewedBy = *reviewedBy
	}
	return &doc, nil
}

func (s *SQLiteStore) SetImportReview(ctx context.Context, id string, status model.ImportStatus, reviewedBy string, promotionsCreated int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_documents
		 SET status = ?, reviewed_by = ?, reviewed_at = ?, promotions_created = ?
		 WHERE id = ?`,
		string(status), reviewedBy, time.Now().UTC(), promotionsCreated, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set import review %s", id)
	}
	return checkRowsAffected(res, "import document", id)
}

// Price indices

const sqliteIndexColumns = `id, city, state, period_start, period_end, index_value, mom_change_percent, yoy_change_percent,
	data_quality_score, product_count, store_count, snapshot_count, status, published_at, created_at`

func (s *SQLiteStore) GetIndexByPeriod(ctx context.Context, city, state string, periodStart time.Time) (*model.PriceIndex, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteIndexColumns+` FROM price_indices WHERE city = ? AND state = ? AND period_start = ?`,
		city, state, periodStart,
	)
	return scanSQLiteIndex(row.Scan)
}

func (s *SQLiteStore) GetIndex(ctx context.Context, id string) (*model.PriceIndex, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteIndexColumns+` FROM price_indices WHERE id = ?`,
		id,
	)
	return scanSQLiteIndex(row.Scan)
}

func scanSQLiteIndex(scan func(...any) error) (*model.PriceIndex, error) {
	var idx model.PriceIndex
	err := scan(&idx.ID, &idx.City, &idx.State, &idx.PeriodStart, &idx.PeriodEnd, &idx.IndexValue,
		&idx.MoMChangePercent, &idx.YoYChangePercent, &idx.DataQualityScore,
		&idx.ProductCount, &idx.StoreCount, &idx.SnapshotCount, &idx.Status, &idx.PublishedAt, &idx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get index")
	}
	return &idx, nil
}

func (s *SQLiteStore) CreateIndex(ctx context.Context, idx model.PriceIndex) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_indices (`+sqliteIndexColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idx.ID, idx.City, idx.State, idx.PeriodStart, idx.PeriodEnd, idx.IndexValue,
		idx.MoMChangePercent, idx.YoYChangePercent, idx.DataQualityScore,
		idx.ProductCount, idx.StoreCount, idx.SnapshotCount, string(idx.Status), idx.PublishedAt, idx.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert index")
}

func (s *SQLiteStore) InsertIndexCategories(ctx context.Context, rows []model.PriceIndexCategory) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin index categories tx")
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_index_categories
			 (id, index_id, category_id, avg_price, min_price, max_price, product_count, mom_change_percent, weight)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.IndexID, r.CategoryID, r.AvgPrice, r.MinPrice, r.MaxPrice,
			r.ProductCount, r.MoMChangePercent, r.Weight,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert index category")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit index categories")
}

func (s *SQLiteStore) InsertIndexProducts(ctx context.Context, rows []model.PriceIndexProduct) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin index products tx")
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_index_products
			 (id, index_id, product_id, avg_price, min_price, max_price, snapshot_days, mom_change_percent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.IndexID, r.ProductID, r.AvgPrice, r.MinPrice, r.MaxPrice,
			r.SnapshotDays, r.MoMChangePercent,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert index product")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit index products")
}

func (s *SQLiteStore) IndexCategories(ctx context.Context, indexID string) ([]model.PriceIndexCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, index_id, category_id, avg_price, min_price, max_price, product_count, mom_change_percent, weight
		 FROM price_index_categories WHERE index_id = ? ORDER BY category_id`,
		indexID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: index categories")
	}
	defer rows.Close()

	var cats []model.PriceIndexCategory
	for rows.Next() {
		var c model.PriceIndexCategory
		if err := rows.Scan(&c.ID, &c.IndexID, &c.CategoryID, &c.AvgPrice, &c.MinPrice, &c.MaxPrice,
			&c.ProductCount, &c.MoMChangePercent, &c.Weight); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan index category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: index categories iterate")
}

func (s *SQLiteStore) IndexProducts(ctx context.Context, indexID string) ([]model.PriceIndexProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, index_id, product_id, avg_price, min_price, max_price, snapshot_days, mom_change_percent
		 FROM price_index_products WHERE index_id = ? ORDER BY product_id`,
		indexID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: index products")
	}
	defer rows.Close()

	var prods []model.PriceIndexProduct
	for rows.Next() {
		var p model.PriceIndexProduct
		if err := rows.Scan(&p.ID, &p.IndexID, &p.ProductID, &p.AvgPrice, &p.MinPrice, &p.MaxPrice,
			&p.SnapshotDays, &p.MoMChangePercent); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan index product")
		}
		prods = append(prods, p)
	}
	return prods, eris.Wrap(rows.Err(), "sqlite: index products iterate")
}

func (s *SQLiteStore) DeleteIndex(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM price_indices WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete index %s", id)
}

func (s *SQLiteStore) UpdateIndexStatus(ctx context.Context, id string, status model.IndexStatus, publishedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_indices SET status = ?, published_at = ? WHERE id = ?`,
		string(status), publishedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update index status %s", id)
	}
	return checkRowsAffected(res, "index", id)
}

func (s *SQLiteStore) ListIndices(ctx context.Context, filter IndexFilter) ([]model.PriceIndex, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteIndexColumns+`
		 FROM price_indices
		 WHERE (? = '' OR city = ?) AND (? = '' OR state = ?) AND (? = '' OR status = ?)
		 ORDER BY period_start DESC LIMIT ?`,
		filter.City, filter.City, filter.State, filter.State, string(filter.Status), string(filter.Status), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list indices")
	}
	defer rows.Close()

	var indices []model.PriceIndex
	for rows.Next() {
		var idx model.PriceIndex
		if err := rows.Scan(&idx.ID, &idx.City, &idx.State, &idx.PeriodStart, &idx.PeriodEnd, &idx.IndexValue,
			&idx.MoMChangePercent, &idx.YoYChangePercent, &idx.DataQualityScore,
			&idx.ProductCount, &idx.StoreCount, &idx.SnapshotCount, &idx.Status, &idx.PublishedAt, &idx.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan index row")
		}
		indices = append(indices, idx)
	}
	return indices, eris.Wrap(rows.Err(), "sqlite: list indices iterate")
}

// Job log

func (s *SQLiteStore) JobLastSuccess(ctx context.Context, job string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM job_log
		 WHERE job = ? AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		job,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: job last success %s", job)
	}
	return &t, nil
}

func (s *SQLiteStore) JobStart(ctx context.Context, job string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_log (job, status, started_at) VALUES (?, 'running', ?)`,
		job, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start job %s", job)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: job insert id")
	}
	return id, nil
}

func (s *SQLiteStore) JobComplete(ctx context.Context, jobID int64, metadata map[string]any) error {
	var metaJSON *string
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal job metadata")
		}
		v := string(b)
		metaJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE job_log SET status = 'complete', completed_at = ?, metadata = ? WHERE id = ?`,
		time.Now().UTC(), metaJSON, jobID,
	)
	return eris.Wrapf(err, "sqlite: complete job %d", jobID)
}

func (s *SQLiteStore) JobFail(ctx context.Context, jobID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_log SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), errMsg, jobID,
	)
	return eris.Wrapf(err, "sqlite: fail job %d", jobID)
}

func (s *SQLiteStore) ListJobRuns(ctx context.Context, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job, status, started_at, completed_at, error, metadata
		 FROM job_log ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job runs")
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var r JobRun
		var errStr, metaJSON *string
		if err := rows.Scan(&r.ID, &r.Job, &r.Status, &r.StartedAt, &r.CompletedAt, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job run")
		}
		if errStr != nil {
			r.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal([]byte(*metaJSON), &r.Metadata)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list job runs iterate")
}
