package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/martinmeyer1/tilecellar/internal/config"
	"github.com/martinmeyer1/tilecellar/internal/fsys"
	"github.com/martinmeyer1/tilecellar/internal/metadata"
	"github.com/martinmeyer1/tilecellar/internal/source"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	writeFakeTile(t, fsys.TilePath(root, "istanbul", fsys.Raster, "osm", 5, 1, 2, "png"))
	cfg := &config.Config{Regions: map[string]config.RegionCfg{}, OutputDir: root}
	store := metadata.NewStore(root, root+"/metadata/regions", time.Minute)
	registry := source.NewRegistry(&config.Config{})
	return New(root, cfg, store, registry), root
}

func writeFakeTile(t *testing.T, path string) {
	t.Helper()
	if err := fsys.WriteAtomic(path, []byte("\x89PNG\r\n\x1a\nrest-of-png"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListRegions(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/list_regions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var regions []string
	if err := json.Unmarshal(rec.Body.Bytes(), &regions); err != nil {
		t.Fatal(err)
	}
	if len(regions) != 1 || regions[0] != "istanbul" {
		t.Fatalf("regions = %v, want [istanbul]", regions)
	}
}

func TestMapTileServesStaticFile(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/map_tiles/istanbul/raster/osm/5/1/2.png", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Cache-Control") != "public, max-age=3600" {
		t.Fatalf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
}

func TestRegionMapStylesDiacriticsFallback(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/region_map_styles/%C4%B0stanbul", nil) // İstanbul
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestMapTileNotFound(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/map_tiles/istanbul/raster/osm/5/1/9.png", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestVectorTileConditionalGet(t *testing.T) {
	root := t.TempDir()
	writeFakeTile(t, fsys.TilePath(root, "r", fsys.Vector, "ovl", 5, 1, 2, "pbf"))
	cfg := &config.Config{Regions: map[string]config.RegionCfg{}, OutputDir: root}
	store := metadata.NewStore(root, root+"/metadata/regions", time.Minute)
	registry := source.NewRegistry(&config.Config{})
	srv := New(root, cfg, store, registry)

	req := httptest.NewRequest(http.MethodGet, "/map_tiles/r/vector/ovl/5/1/2.pbf", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag on the first response")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/map_tiles/r/vector/ovl/5/1/2.pbf", nil)
	req2.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotModified {
		t.Fatalf("second request status = %d, want 304", rec2.Code)
	}
	if rec2.Body.Len() != 0 {
		t.Fatalf("304 response body should be empty, got %d bytes", rec2.Body.Len())
	}
}

func TestCORSHeadersPresent(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/list_regions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("OPTIONS status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}
