// Package seed loads reference data (categories and stores) from a YAML
// file and upserts it into the store. Runs are idempotent.
package seed

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

// File is the top-level seed file layout.
type File struct {
	Categories []CategoryEntry `yaml:"categories"`
	Stores     []StoreEntry    `yaml:"stores"`
}

// CategoryEntry is one taxonomy category.
type CategoryEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StoreEntry is one retail store. Active defaults to true when omitted.
type StoreEntry struct {
	Name   string `yaml:"name"`
	City   string `yaml:"city"`
	State  string `yaml:"state"`
	Active *bool  `yaml:"active,omitempty"`
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "seed: parse %s", path)
	}

	for i, c := range f.Categories {
		if c.ID == "" || c.Name == "" {
			return nil, eris.Errorf("seed: category %d missing id or name", i)
		}
	}
	for i, s := range f.Stores {
		if s.Name == "" || s.City == "" || s.State == "" {
			return nil, eris.Errorf("seed: store %d missing name, city or state", i)
		}
	}
	return &f, nil
}

// Result counts what Apply touched.
type Result struct {
	Categories int
	Stores     int
}

// Apply upserts every entry of the seed file.
func Apply(ctx context.Context, st store.Store, f *File) (*Result, error) {
	log := zap.L().With(zap.String("component", "seed"))
	var res Result

	for _, c := range f.Categories {
		if err := st.UpsertCategory(ctx, model.Category{ID: c.ID, Name: c.Name}); err != nil {
			return nil, err
		}
		res.Categories++
	}

	for _, entry := range f.Stores {
		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		saved, err := st.UpsertStore(ctx, model.Store{
			Name:   entry.Name,
			City:   entry.City,
			State:  entry.State,
			Active: active,
		})
		if err != nil {
			return nil, err
		}
		log.Debug("store seeded",
			zap.String("store_id", saved.ID),
			zap.String("name", saved.Name),
			zap.String("city", saved.City),
		)
		res.Stores++
	}

	return &res, nil
}
