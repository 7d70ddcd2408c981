package store

import (
	"context"
	"time"

	"github.com/precoaberto/preco-cli/internal/model"
)

// IndexFilter specifies criteria for listing price indices.
type IndexFilter struct {
	City   string            `json:"city,omitempty"`
	State  string            `json:"state,omitempty"`
	Status model.IndexStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

// JobRun is one row of the job_log table, recording a scheduled job run.
type JobRun struct {
	ID          int64          `json:"id"`
	Job         string         `json:"job"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Store defines the persistence interface for the price pipeline.
type Store interface {
	// Reference data
	ActiveStoresByCity(ctx context.Context, city, state string) ([]model.Store, error)
	UpsertStore(ctx context.Context, s model.Store) (*model.Store, error)
	Categories(ctx context.Context) ([]model.Category, error)
	UpsertCategory(ctx context.Context, c model.Category) error
	ProductsByIDs(ctx context.Context, ids []string) (map[string]model.Product, error)
	UpsertProduct(ctx context.Context, name string, unit model.Unit, categoryID string) (*model.Product, error)
	UpdateReferencePrice(ctx context.Context, productID string, price float64) error
	StaleProducts(ctx context.Context, since time.Time) ([]model.Product, error)
	ReferenceWindowMean(ctx context.Context, productID string, from, to time.Time) (*float64, error)

	// Promotions
	CreatePromotion(ctx context.Context, p model.Promotion) (*model.Promotion, error)
	ActivePromotions(ctx context.Context, at time.Time) ([]model.Promotion, error)
	PromotionsInPeriod(ctx context.Context, storeIDs []string, from, to time.Time) ([]model.Promotion, error)

	// Price snapshots
	UpsertSnapshot(ctx context.Context, snap model.PriceSnapshot) error
	UpsertSnapshots(ctx context.Context, snaps []model.PriceSnapshot) (int64, error)
	SnapshotsInPeriod(ctx context.Context, from, to time.Time) ([]model.PriceSnapshot, error)
	PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Quality flags
	HasUnresolvedFlagSince(ctx context.Context, productID string, flagType model.FlagType, since time.Time) (bool, error)
	CreateFlag(ctx context.Context, f model.QualityFlag) (*model.QualityFlag, error)
	ResolveFlag(ctx context.Context, id, resolvedBy string) error
	ListUnresolvedFlags(ctx context.Context, limit int) ([]model.QualityFlag, error)

	// Import documents (moderation queue)
	CreateImportDocument(ctx context.Context, doc model.ImportDocument) (*model.ImportDocument, error)
	GetImportDocument(ctx context.Context, id string) (*model.ImportDocument, error)
	ListImportDocuments(ctx context.Context, status model.ImportStatus, limit int) ([]model.ImportDocument, error)
	SetImportReview(ctx context.Context, id string, status model.ImportStatus, reviewedBy string, promotionsCreated int) error

	// Price indices
	GetIndexByPeriod(ctx context.Context, city, state string, periodStart time.Time) (*model.PriceIndex, error)
	GetIndex(ctx context.Context, id string) (*model.PriceIndex, error)
	CreateIndex(ctx context.Context, idx model.PriceIndex) error
	InsertIndexCategories(ctx context.Context, rows []model.PriceIndexCategory) error
	InsertIndexProducts(ctx context.Context, rows []model.PriceIndexProduct) error
	IndexCategories(ctx context.Context, indexID string) ([]model.PriceIndexCategory, error)
	IndexProducts(ctx context.Context, indexID string) ([]model.PriceIndexProduct, error)
	DeleteIndex(ctx context.Context, id string) error
	UpdateIndexStatus(ctx context.Context, id string, status model.IndexStatus, publishedAt *time.Time) error
	ListIndices(ctx context.Context, filter IndexFilter) ([]model.PriceIndex, error)

	// Job log
	JobLastSuccess(ctx context.Context, job string) (*time.Time, error)
	JobStart(ctx context.Context, job string) (int64, error)
	JobComplete(ctx context.Context, jobID int64, metadata map[string]any) error
	JobFail(ctx context.Context, jobID int64, errMsg string) error
	ListJobRuns(ctx context.Context, limit int) ([]JobRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
