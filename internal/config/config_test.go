package config

import "testing"

const sampleDoc = `{
  "regions": {
    "istanbul": {"bbox": [28.5, 40.8, 29.5, 41.2], "min_zoom": 8, "max_zoom": 14, "description": "Istanbul"}
  },
  "servers": [
    {"name": "osm", "type": "http", "tile_type": "raster", "url": "https://tile.example.com/{z}/{x}/{y}.png"},
    {"name": "local-archive", "type": "local", "tile_type": "vector", "path": "/data/region.mbtiles", "source_type": "mbtiles"}
  ],
  "output_dir": "/data/tiles",
  "max_workers_per_server": 4,
  "retry_attempts": 3,
  "timeout": 10
}`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Regions) != 1 {
		t.Fatalf("len(Regions) = %d, want 1", len(cfg.Regions))
	}
	if len(cfg.HTTPSources) != 1 || len(cfg.LocalSources) != 1 {
		t.Fatalf("HTTPSources=%d LocalSources=%d, want 1 and 1", len(cfg.HTTPSources), len(cfg.LocalSources))
	}
	if cfg.Limits.MaxWorkersPerServer != 4 {
		t.Fatalf("MaxWorkersPerServer = %d, want 4", cfg.Limits.MaxWorkersPerServer)
	}
}

func TestParseMissingOutputDir(t *testing.T) {
	_, err := Parse([]byte(`{"regions": {}, "max_workers_per_server": 1, "retry_attempts": 1, "timeout": 1}`))
	if err == nil {
		t.Fatal("expected error for missing output_dir")
	}
}

func TestParseBadURLTemplate(t *testing.T) {
	doc := `{
	  "regions": {"r": {"bbox": [0,0,1,1], "min_zoom": 0, "max_zoom": 1}},
	  "servers": [{"name": "bad", "type": "http", "tile_type": "raster", "url": "not-a-template"}],
	  "output_dir": "/tmp/x",
	  "max_workers_per_server": 1, "retry_attempts": 1, "timeout": 1
	}`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected error for url template missing placeholders")
	}
}

func TestParseBadBBox(t *testing.T) {
	doc := `{
	  "regions": {"r": {"bbox": [1,0,0,1], "min_zoom": 0, "max_zoom": 1}},
	  "servers": [],
	  "output_dir": "/tmp/x",
	  "max_workers_per_server": 1, "retry_attempts": 1, "timeout": 1
	}`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected error for min_lon > max_lon")
	}
}

func TestRawRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if string(cfg.Raw()) != sampleDoc {
		t.Fatal("Raw() did not return the original document bytes")
	}
}
