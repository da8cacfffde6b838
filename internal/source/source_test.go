package source

import (
	"reflect"
	"testing"

	"github.com/martinmeyer1/tilecellar/internal/config"
)

func testRegistry() *Registry {
	cfg := &config.Config{
		HTTPSources: []config.HTTPSourceCfg{
			{Name: "osm", TileType: "raster", URL: "https://tile.example.com/{z}/{x}/{y}.png"},
			{Name: "ovl", TileType: "vector", URL: "https://vec.example.com/{z}/{x}/{y}.pbf"},
		},
		LocalSources: []config.LocalSourceCfg{
			{Name: "archive1", TileType: "vector", Path: "/data/a.mbtiles"},
		},
	}
	return NewRegistry(cfg)
}

func TestRenderTemplate(t *testing.T) {
	h := Handle{URLTemplate: "https://x/{z}/{x}/{y}.png"}
	got := h.URL(5, 10, 12)
	want := "https://x/5/10/12.png"
	if got != want {
		t.Fatalf("URL() = %q, want %q", got, want)
	}
}

func TestRegistryFilterUnion(t *testing.T) {
	r := testRegistry()
	got := r.Filter([]string{"osm"}, []string{"archive1"})
	names := namesOf(got)
	want := []string{"osm", "archive1"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("Filter union = %v, want %v", names, want)
	}
}

func TestRegistryFilterOnlyRemote(t *testing.T) {
	r := testRegistry()
	got := r.Filter([]string{"ovl"}, nil)
	names := namesOf(got)
	if !reflect.DeepEqual(names, []string{"ovl"}) {
		t.Fatalf("Filter remote-only = %v, want [ovl]", names)
	}
}

func TestRegistryFilterNeitherReturnsAll(t *testing.T) {
	r := testRegistry()
	got := r.Filter(nil, nil)
	if len(got) != 3 {
		t.Fatalf("Filter() with no filters returned %d sources, want 3", len(got))
	}
}

func namesOf(hs []Handle) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Name
	}
	return out
}
