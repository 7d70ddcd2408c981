package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/precoaberto/preco-cli/internal/consensus"
	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for flyer imports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runner, err := initConsensusRunner()
		if err != nil {
			return err
		}

		mux := buildMux(ctx, env.Store, runner)
		return startServer(ctx, mux, resolvePort(servePort, cfg.Server.Port))
	},
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// buildMux wires the webhook routes. The consensus runner may be nil in
// tests; the import handler then only validates the request.
func buildMux(ctx context.Context, st store.Store, runner *consensus.Runner) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /webhook/import", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			City        string `json:"city"`
			State       string `json:"state"`
			StoreID     string `json:"store_id"`
			SourceFile  string `json:"source_file"`
			ImageBase64 string `json:"image_base64"`
			MediaType   string `json:"media_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		if req.City == "" || req.State == "" || req.StoreID == "" {
			http.Error(w, `{"error":"city, state and store_id are required"}`, http.StatusBadRequest)
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil || len(image) == 0 {
			http.Error(w, `{"error":"image_base64 must be a non-empty base64 string"}`, http.StatusBadRequest)
			return
		}
		if req.MediaType == "" {
			req.MediaType = "image/jpeg"
		}

		// Run extraction asynchronously
		go func() {
			if runner == nil {
				return
			}
			result, err := runner.Run(ctx, image, req.MediaType)
			if err != nil {
				zap.L().Error("webhook extraction failed",
					zap.String("city", req.City),
					zap.Error(err),
				)
				return
			}

			doc := model.ImportDocument{
				City:       req.City,
				State:      req.State,
				SourceFile: req.SourceFile,
				Status:     model.ImportStatusNeedsReview,
				Consensus:  result,
			}
			if result.Type != model.ConsensusNone {
				created, _ := publishProducts(ctx, st, result.ConsensusProducts, req.StoreID)
				doc.Status = model.ImportStatusAutoApproved
				doc.PromotionsCreated = created
			}

			saved, err := st.CreateImportDocument(ctx, doc)
			if err != nil {
				zap.L().Error("webhook import save failed",
					zap.String("city", req.City),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook import complete",
				zap.String("document_id", saved.ID),
				zap.String("consensus", string(result.Type)),
				zap.Int("promotions_created", saved.PromotionsCreated),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"city":   req.City,
		})
	})

	mux.HandleFunc("GET /indices", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		indices, err := st.ListIndices(r.Context(), store.IndexFilter{
			City:   q.Get("city"),
			State:  q.Get("state"),
			Status: model.IndexStatus(q.Get("status")),
			Limit:  100,
		})
		if err != nil {
			zap.L().Error("index listing failed", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(indices)
	})

	return mux
}

func startServer(ctx context.Context, mux *http.ServeMux, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
