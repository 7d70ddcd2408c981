package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractedProduct is one candidate product from one extraction pass.
// It exists only during an import run; approved products become Promotion
// rows through the publish step.
type ExtractedProduct struct {
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Unit          Unit             `json:"unit"`
	Validity      *time.Time       `json:"validity,omitempty"`
	CategoryID    string           `json:"category_id,omitempty"`
	MarketOrigin  string           `json:"market_origin,omitempty"`
}

// ExtractionPass is the outcome of one vision-model call over a document.
// A pass with a non-empty Error is invalid and never votes, regardless of
// its product list.
type ExtractionPass struct {
	PassIndex int                `json:"pass_index"`
	Products  []ExtractedProduct `json:"products"`
	Error     string             `json:"error,omitempty"`
}

// Valid reports whether the pass may participate in consensus voting:
// no error and at least one product.
func (p ExtractionPass) Valid() bool {
	return p.Error == "" && len(p.Products) > 0
}

// ConsensusType classifies agreement between extraction passes.
type ConsensusType string

const (
	ConsensusUnanimous ConsensusType = "unanimous"
	ConsensusMajority  ConsensusType = "majority"
	ConsensusNone      ConsensusType = "none"
)

// Fixed confidence scores per consensus type. ConfidenceMajority is a
// constant, not matching/total: the pipeline runs at most 3 passes, and
// 2-of-3 agreement is always reported as 66.67.
const (
	ConfidenceUnanimous = 100.0
	ConfidenceMajority  = 66.67
	ConfidenceNone      = 0.0
)

// ConsensusResult is the reconciliation of 1-3 extraction passes.
// Immutable once computed; persisted with the raw passes so a human can
// review a "none" outcome.
type ConsensusResult struct {
	Type              ConsensusType      `json:"type"`
	ConfidenceScore   float64            `json:"confidence_score"`
	ConsensusProducts []ExtractedProduct `json:"consensus_products,omitempty"`
	SelectedPassIndex *int               `json:"selected_pass_index,omitempty"`
	Passes            []ExtractionPass   `json:"passes"`
}

// ImportStatus tracks an import document through moderation.
type ImportStatus string

const (
	ImportStatusPending      ImportStatus = "pending"
	ImportStatusAutoApproved ImportStatus = "auto_approved"
	ImportStatusNeedsReview  ImportStatus = "needs_review"
	ImportStatusApproved     ImportStatus = "approved"
	ImportStatusRejected     ImportStatus = "rejected"
)

// ImportDocument is the audit row for one flyer import: the consensus
// result (with all passes) plus moderation state. Documents whose
// consensus type is "none" land here as needs_review.
type ImportDocument struct {
	ID                string          `json:"id"`
	City              string          `json:"city"`
	State             string          `json:"state"`
	SourceFile        string          `json:"source_file"`
	Status            ImportStatus    `json:"status"`
	Consensus         ConsensusResult `json:"consensus"`
	PromotionsCreated int             `json:"promotions_created"`
	ReviewedBy        string          `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
