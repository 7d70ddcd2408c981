package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/consensus"
	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import flyer documents through consensus extraction",
}

var (
	importFile    string
	importCity    string
	importState   string
	importStoreID string
	importPasses  int
	importOffline bool
)

var importRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract a flyer image and publish consensus promotions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := extractImport(ctx)
		if err != nil {
			return err
		}

		doc := model.ImportDocument{
			City:       importCity,
			State:      importState,
			SourceFile: filepath.Base(importFile),
			Status:     model.ImportStatusNeedsReview,
			Consensus:  *result,
		}

		if result.Type != model.ConsensusNone {
			created, failed := publishProducts(ctx, env.Store, result.ConsensusProducts, importStoreID)
			doc.Status = model.ImportStatusAutoApproved
			doc.PromotionsCreated = created
			if failed > 0 {
				zap.L().Warn("some products failed to publish", zap.Int("failed", failed))
			}
		}

		saved, err := env.Store.CreateImportDocument(ctx, doc)
		if err != nil {
			return eris.Wrap(err, "save import document")
		}

		zap.L().Info("import complete",
			zap.String("document_id", saved.ID),
			zap.String("consensus", string(result.Type)),
			zap.Float64("confidence", result.ConfidenceScore),
			zap.String("status", string(saved.Status)),
			zap.Int("promotions_created", saved.PromotionsCreated),
		)
		return nil
	},
}

var (
	reviewApprove bool
	reviewReject  bool
	reviewBy      string
	reviewPass    int
)

var importReviewCmd = &cobra.Command{
	Use:   "review <document-id>",
	Short: "Approve or reject a pending import document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if reviewApprove == reviewReject {
			return eris.New("exactly one of --approve or --reject is required")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := env.Store.GetImportDocument(ctx, args[0])
		if err != nil {
			return err
		}
		if doc == nil {
			return eris.Errorf("import document not found: %s", args[0])
		}
		if doc.Status != model.ImportStatusPending && doc.Status != model.ImportStatusNeedsReview {
			return eris.Errorf("document already reviewed (status %s)", doc.Status)
		}

		if reviewReject {
			if err := env.Store.SetImportReview(ctx, doc.ID, model.ImportStatusRejected, reviewBy, 0); err != nil {
				return err
			}
			zap.L().Info("import rejected", zap.String("document_id", doc.ID), zap.String("by", reviewBy))
			return nil
		}

		products := doc.Consensus.ConsensusProducts
		if len(products) == 0 {
			// No-consensus documents carry only raw passes; the reviewer
			// picks which one to trust.
			if reviewPass < 0 || reviewPass >= len(doc.Consensus.Passes) {
				return eris.Errorf("--pass is required for a no-consensus document (0-%d)", len(doc.Consensus.Passes)-1)
			}
			products = doc.Consensus.Passes[reviewPass].Products
		}
		if len(products) == 0 {
			return eris.New("selected pass has no products")
		}

		created, failed := publishProducts(ctx, env.Store, products, importStoreID)
		if err := env.Store.SetImportReview(ctx, doc.ID, model.ImportStatusApproved, reviewBy, created); err != nil {
			return err
		}

		zap.L().Info("import approved",
			zap.String("document_id", doc.ID),
			zap.String("by", reviewBy),
			zap.Int("promotions_created", created),
			zap.Int("failed", failed),
		)
		return nil
	},
}

var (
	importListStatus string
	importListLimit  int
)

var importListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := env.Store.ListImportDocuments(ctx, model.ImportStatus(importListStatus), importListLimit)
		if err != nil {
			return err
		}

		for _, doc := range docs {
			fmt.Printf("%s  %-13s %-9s conf=%6.2f  promos=%-3d %s/%s  %s\n",
				doc.CreatedAt.Format("2006-01-02 15:04"),
				doc.Status,
				doc.Consensus.Type,
				doc.Consensus.ConfidenceScore,
				doc.PromotionsCreated,
				doc.City, doc.State,
				doc.ID,
			)
		}
		return nil
	},
}

// extractImport produces a consensus result for --file: normally by
// fanning out vision passes, or in offline mode by reading pre-extracted
// passes from a JSON file and resolving consensus locally.
func extractImport(ctx context.Context) (*model.ConsensusResult, error) {
	if importOffline {
		data, err := os.ReadFile(importFile)
		if err != nil {
			return nil, eris.Wrapf(err, "read passes %s", importFile)
		}
		var passes []model.ExtractionPass
		if err := json.Unmarshal(data, &passes); err != nil {
			return nil, eris.Wrapf(err, "parse passes %s", importFile)
		}
		result := consensus.Compute(passes)
		return &result, nil
	}

	if importPasses > 0 {
		cfg.Extraction.Passes = importPasses
	}
	runner, err := initConsensusRunner()
	if err != nil {
		return nil, err
	}

	image, err := os.ReadFile(importFile)
	if err != nil {
		return nil, eris.Wrapf(err, "read flyer %s", importFile)
	}
	mediaType, err := flyerMediaType(importFile)
	if err != nil {
		return nil, err
	}

	result, err := runner.Run(ctx, image, mediaType)
	if err != nil {
		return nil, eris.Wrap(err, "extraction run")
	}
	return &result, nil
}

// publishProducts turns consensus products into promotion rows. One bad
// product never blocks the rest.
func publishProducts(ctx context.Context, st store.Store, products []model.ExtractedProduct, storeID string) (created, failed int) {
	now := time.Now().UTC()

	for _, ep := range products {
		product, err := st.UpsertProduct(ctx, ep.Name, ep.Unit, ep.CategoryID)
		if err != nil {
			zap.L().Error("product upsert failed", zap.String("name", ep.Name), zap.Error(err))
			failed++
			continue
		}

		endsAt := now.AddDate(0, 0, 7)
		if ep.Validity != nil {
			endsAt = *ep.Validity
		}

		_, err = st.CreatePromotion(ctx, model.Promotion{
			ProductID:     product.ID,
			StoreID:       storeID,
			PromoPrice:    ep.Price,
			OriginalPrice: ep.OriginalPrice,
			StartsAt:      now,
			EndsAt:        endsAt,
		})
		if err != nil {
			zap.L().Error("promotion insert failed", zap.String("name", ep.Name), zap.Error(err))
			failed++
			continue
		}
		created++
	}
	return created, failed
}

func flyerMediaType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	case ".png":
		return "image/png", nil
	case ".webp":
		return "image/webp", nil
	case ".gif":
		return "image/gif", nil
	default:
		return "", eris.Errorf("unsupported flyer format: %s", filepath.Ext(path))
	}
}

func init() {
	importRunCmd.Flags().StringVar(&importFile, "file", "", "path to flyer image (required)")
	importRunCmd.Flags().StringVar(&importCity, "city", "", "store city (required)")
	importRunCmd.Flags().StringVar(&importState, "state", "", "store state (required)")
	importRunCmd.Flags().StringVar(&importStoreID, "store", "", "store ID the flyer belongs to (required)")
	importRunCmd.Flags().IntVar(&importPasses, "passes", 0, "extraction pass count (default from config)")
	importRunCmd.Flags().BoolVar(&importOffline, "offline", false, "treat --file as a JSON array of extraction passes; no vision calls")
	_ = importRunCmd.MarkFlagRequired("file")
	_ = importRunCmd.MarkFlagRequired("city")
	_ = importRunCmd.MarkFlagRequired("state")
	_ = importRunCmd.MarkFlagRequired("store")

	importReviewCmd.Flags().BoolVar(&reviewApprove, "approve", false, "approve and publish promotions")
	importReviewCmd.Flags().BoolVar(&reviewReject, "reject", false, "reject the document")
	importReviewCmd.Flags().StringVar(&reviewBy, "by", "", "reviewer name (required)")
	importReviewCmd.Flags().IntVar(&reviewPass, "pass", -1, "pass index to publish when consensus is none")
	importReviewCmd.Flags().StringVar(&importStoreID, "store", "", "store ID to publish promotions under")
	_ = importReviewCmd.MarkFlagRequired("by")

	importListCmd.Flags().StringVar(&importListStatus, "status", "", "filter by status")
	importListCmd.Flags().IntVar(&importListLimit, "limit", 50, "max documents to list")

	importCmd.AddCommand(importRunCmd, importReviewCmd, importListCmd)
	rootCmd.AddCommand(importCmd)
}
