//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precoaberto/preco-cli/internal/model"
	"github.com/precoaberto/preco-cli/internal/store"
)

// fakeServeStore stubs only what the HTTP handlers touch. Any other
// Store call panics through the embedded nil interface.
type fakeServeStore struct {
	store.Store
	indices []model.PriceIndex
}

func (f *fakeServeStore) ListIndices(_ context.Context, filter store.IndexFilter) ([]model.PriceIndex, error) {
	out := make([]model.PriceIndex, 0, len(f.indices))
	for _, idx := range f.indices {
		if filter.City != "" && idx.City != filter.City {
			continue
		}
		if filter.Status != "" && idx.Status != filter.Status {
			continue
		}
		out = append(out, idx)
	}
	return out, nil
}

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux := buildMux(context.Background(), &fakeServeStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_WebhookImport_Accepted(t *testing.T) {
	// With a nil runner the goroutine returns immediately; this only
	// exercises request validation and the accepted response.
	mux := buildMux(context.Background(), &fakeServeStore{}, nil)

	payload := map[string]string{
		"city":         "Matão",
		"state":        "SP",
		"store_id":     "store-1",
		"source_file":  "flyer.jpg",
		"image_base64": base64.StdEncoding.EncodeToString([]byte("not a real image")),
		"media_type":   "image/png",
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/import", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "Matão", resp["city"])
}

func TestBuildMux_WebhookImport_MissingFields(t *testing.T) {
	mux := buildMux(context.Background(), &fakeServeStore{}, nil)

	body, _ := json.Marshal(map[string]string{
		"city":         "Matão",
		"image_base64": base64.StdEncoding.EncodeToString([]byte("x")),
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/import", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildMux_WebhookImport_BadImage(t *testing.T) {
	mux := buildMux(context.Background(), &fakeServeStore{}, nil)

	body, _ := json.Marshal(map[string]string{
		"city":         "Matão",
		"state":        "SP",
		"store_id":     "store-1",
		"image_base64": "%%% not base64 %%%",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook/import", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildMux_Indices_FilterByCity(t *testing.T) {
	st := &fakeServeStore{indices: []model.PriceIndex{
		{ID: "i1", City: "Matão", State: "SP", IndexValue: 101.5, Status: model.IndexStatusPublished},
		{ID: "i2", City: "Araraquara", State: "SP", IndexValue: 99.8, Status: model.IndexStatusDraft},
	}}
	mux := buildMux(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodGet, "/indices?city=Mat%C3%A3o", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var got []model.PriceIndex
	err := json.Unmarshal(rr.Body.Bytes(), &got)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "i1", got[0].ID)
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func TestFlyerMediaType(t *testing.T) {
	mt, err := flyerMediaType("/tmp/flyer.JPG")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mt)

	mt, err = flyerMediaType("flyer.webp")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", mt)

	_, err = flyerMediaType("flyer.pdf")
	assert.Error(t, err)
}
