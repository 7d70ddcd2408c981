package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/precoaberto/preco-cli/internal/consensus"
	"github.com/precoaberto/preco-cli/internal/extraction"
	"github.com/precoaberto/preco-cli/internal/index"
	"github.com/precoaberto/preco-cli/internal/snapshot"
	"github.com/precoaberto/preco-cli/internal/store"
)

// pipelineEnv holds the store and engines shared by the commands.
type pipelineEnv struct {
	Store store.Store
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initEnv validates config, opens the store, and applies migrations.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return &pipelineEnv{Store: st}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	}
}

// initConsensusRunner builds the extraction pass runner from config.
func initConsensusRunner() (*consensus.Runner, error) {
	if cfg.Extraction.Key == "" {
		return nil, eris.New("extraction key is required (PRECO_EXTRACTION_KEY)")
	}

	client := extraction.NewClient(cfg.Extraction.Key)
	extractor := extraction.NewExtractor(client, cfg.Extraction.Model, cfg.Extraction.MaxTokens, cfg.Extraction.RatePerSec)
	return consensus.NewRunner(extractor, cfg.Extraction.Passes, cfg.Extraction.Concurrency), nil
}

func snapshotConfig() snapshot.Config {
	return snapshot.Config{
		Thresholds: snapshot.OutlierThresholds{
			LowRatio:     cfg.Snapshot.OutlierLowRatio,
			HighRatio:    cfg.Snapshot.OutlierHighRatio,
			CriticalLow:  cfg.Snapshot.OutlierCriticalLow,
			CriticalHigh: cfg.Snapshot.OutlierCriticalHigh,
		},
		StaleAfterDays:      cfg.Snapshot.StaleAfterDays,
		ReferenceWindowDays: cfg.Snapshot.ReferenceWindowDays,
		RetentionDays:       cfg.Snapshot.RetentionDays,
		FlagDedupWindow:     time.Duration(cfg.Snapshot.FlagDedupHours) * time.Hour,
	}
}

func indexConfig() index.Config {
	weights := index.DefaultWeights()
	if len(cfg.Index.CategoryWeights) > 0 {
		weights.ByCategory = cfg.Index.CategoryWeights
	}
	if cfg.Index.DefaultWeight > 0 {
		weights.Default = cfg.Index.DefaultWeight
	}
	return index.Config{
		Weights:          weights,
		PublishThreshold: cfg.Index.PublishThreshold,
	}
}

func indexCities() []index.CityState {
	cities := make([]index.CityState, len(cfg.Cities))
	for i, c := range cfg.Cities {
		cities[i] = index.CityState{City: c.City, State: c.State}
	}
	return cities
}
