package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/martinmeyer1/tilecellar/internal/fsys"
	"github.com/martinmeyer1/tilecellar/internal/source"
)

func TestDownloadRegionVectorThenRasterFallback(t *testing.T) {
	vector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer vector.Close()
	raster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(onePxPNG))
	}))
	defer raster.Close()

	v := source.Handle{Kind: source.KindHTTP, Name: "vec", TileType: source.Vector, URLTemplate: vector.URL + "/{z}/{x}/{y}.pbf"}
	r := source.Handle{Kind: source.KindHTTP, Name: "osm", TileType: source.Raster, URLTemplate: raster.URL + "/{z}/{x}/{y}.png"}

	root := t.TempDir()
	p := NewPipeline(root, 2, 0)
	tiles := []Tile{{Z: 5, X: 10, Y: 12}}
	result := p.DownloadRegion(context.Background(), "testRegion", tiles, []source.Handle{v, r}, nil)

	if result.Downloaded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 1 downloaded, 0 failed", result)
	}
	path := fsys.TilePath(root, "testRegion", fsys.Raster, "osm", 5, 10, 12, "png")
	if !fsys.FileExists(path) {
		t.Fatalf("expected raster fallback tile at %s", path)
	}
	vectorPath := fsys.TilePath(root, "testRegion", fsys.Vector, "vec", 5, 10, 12, "pbf")
	if fsys.FileExists(vectorPath) {
		t.Fatal("expected no vector tile written when the vector source returns 404")
	}
}

func TestDownloadRegionSkipsExistingTile(t *testing.T) {
	root := t.TempDir()
	path := fsys.TilePath(root, "r", fsys.Raster, "osm", 5, 1, 2, "png")
	if err := fsys.WriteAtomic(path, []byte("oldcontent"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("newcontent"))
	}))
	defer srv.Close()

	h := source.Handle{Kind: source.KindHTTP, Name: "osm", TileType: source.Raster, URLTemplate: srv.URL + "/{z}/{x}/{y}.png"}
	p := NewPipeline(root, 1, 0)
	result := p.DownloadRegion(context.Background(), "r", []Tile{{Z: 5, X: 1, Y: 2}}, []source.Handle{h}, nil)

	if result.Downloaded != 1 {
		t.Fatalf("Downloaded = %d, want 1", result.Downloaded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "oldcontent" {
		t.Fatalf("file contents = %q, want unchanged %q", data, "oldcontent")
	}
}

func TestDownloadRegionArchivePhase(t *testing.T) {
	root := t.TempDir()
	h := source.Handle{Kind: source.KindLocal, Name: "archive1", TileType: source.Vector, Path: "/data/a.mbtiles"}

	extracted := []ArchiveTile{{X: 3, Y: 4, Data: []byte("pbfdata")}}
	calls := 0
	extract := func(ctx context.Context, handle source.Handle, z int) ([]ArchiveTile, error) {
		calls++
		if z != 5 {
			t.Fatalf("unexpected zoom %d", z)
		}
		return extracted, nil
	}

	p := NewPipeline(root, 1, 0)
	result := p.DownloadRegion(context.Background(), "r", []Tile{{Z: 5, X: 1, Y: 1}}, []source.Handle{h}, extract)

	if calls != 1 {
		t.Fatalf("extract called %d times, want 1", calls)
	}
	if result.Downloaded != 1 {
		t.Fatalf("Downloaded = %d, want 1", result.Downloaded)
	}
	path := fsys.TilePath(root, "r", fsys.Vector, "archive1", 5, 3, 4, "pbf")
	if !fsys.FileExists(path) {
		t.Fatalf("expected archive-extracted tile at %s", path)
	}
}
