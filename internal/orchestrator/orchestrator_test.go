package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/martinmeyer1/tilecellar/internal/config"
	"github.com/martinmeyer1/tilecellar/internal/coord"
	"github.com/martinmeyer1/tilecellar/internal/download"
	"github.com/martinmeyer1/tilecellar/internal/geocode"
	"github.com/martinmeyer1/tilecellar/internal/metadata"
	"github.com/martinmeyer1/tilecellar/internal/source"
)

func TestRunDownloadsRegionAndRefreshesMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89\x00\x00\x00\nIDATx\x9cc\x00\x01\x00\x00\x05\x00\x01\r\n-\xb4\x00\x00\x00\x00IEND\xaeB`\x82"))
	}))
	defer srv.Close()

	root := t.TempDir()
	cfg := &config.Config{
		Regions: map[string]config.RegionCfg{
			"istanbul": {BBox: [4]float64{28.5, 40.8, 29.5, 41.2}, MinZoom: 10, MaxZoom: 10},
		},
		OutputDir: root,
		Limits:    config.DownloadLimits{MaxWorkersPerServer: 4, RetryAttempts: 1, TimeoutSeconds: 5},
	}
	registry := source.NewRegistry(&config.Config{
		HTTPSources: []config.HTTPSourceCfg{{Name: "osm", TileType: "raster", URL: srv.URL + "/{z}/{x}/{y}.png"}},
	})

	o := &Orchestrator{
		Config:   cfg,
		Registry: registry,
		Pipeline: download.NewPipeline(root, 4, 0),
		Store:    metadata.NewStore(root, root+"/metadata/regions", 10*time.Minute),
		Geocode:  geocode.Unavailable{},
	}

	outcome, err := o.Run(context.Background(), Request{Region: "istanbul", MinZoom: 10, MaxZoom: 10})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Downloaded == 0 {
		t.Fatal("expected at least one tile downloaded")
	}
	if outcome.Provenance != metadata.ProvenanceRegionCfg {
		t.Fatalf("Provenance = %q, want region_config", outcome.Provenance)
	}

	doc, err := o.Store.Load("istanbul")
	if err != nil {
		t.Fatalf("metadata not refreshed: %v", err)
	}
	stats, ok := doc.Sources["osm"]
	if !ok || stats.Count == 0 {
		t.Fatalf("expected osm source stats after refresh, got %+v", doc.Sources)
	}
}

func TestRunRejectsUnknownRegion(t *testing.T) {
	cfg := &config.Config{Regions: map[string]config.RegionCfg{}, OutputDir: t.TempDir()}
	o := &Orchestrator{
		Config:   cfg,
		Registry: source.NewRegistry(cfg),
		Pipeline: download.NewPipeline(t.TempDir(), 1, 0),
		Store:    metadata.NewStore(t.TempDir(), t.TempDir(), time.Minute),
		Geocode:  geocode.Unavailable{},
	}
	if _, err := o.Run(context.Background(), Request{Region: "nowhere", MaxZoom: 1}); err == nil {
		t.Fatal("expected an error for an unknown region")
	}
}

func TestRunResolvesPlaceThroughGeocoder(t *testing.T) {
	cfg := &config.Config{Regions: map[string]config.RegionCfg{}, OutputDir: t.TempDir()}
	o := &Orchestrator{
		Config:   cfg,
		Registry: source.NewRegistry(cfg),
		Pipeline: download.NewPipeline(t.TempDir(), 1, 0),
		Store:    metadata.NewStore(t.TempDir(), t.TempDir(), time.Minute),
		Geocode:  fakeResolver{bbox: coord.BBox{MinLon: 1, MinLat: 1, MaxLon: 2, MaxLat: 2}},
	}
	if _, err := o.Run(context.Background(), Request{Place: "atlantis", MaxZoom: 1}); err == nil {
		t.Fatal("expected an error since no sources are registered")
	}
}

type fakeResolver struct {
	bbox coord.BBox
}

func (f fakeResolver) BBoxForPlace(context.Context, string) (coord.BBox, error) { return f.bbox, nil }
func (f fakeResolver) PolygonForPlace(context.Context, string) ([]byte, error)  { return nil, nil }
func (f fakeResolver) Suggest(context.Context, string, int) ([]geocode.Suggestion, error) {
	return nil, nil
}
