package archive

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func mustExec(t *testing.T, db *sql.DB, stmt string, args ...any) {
	t.Helper()
	if _, err := db.Exec(stmt, args...); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func newStandardArchive(t *testing.T, tms bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "standard.mbtiles")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mustExec(t, db, `CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`)
	mustExec(t, db, `CREATE TABLE metadata (name TEXT, value TEXT)`)
	mustExec(t, db, `INSERT INTO metadata (name, value) VALUES ('bounds', '28.5,40.8,29.5,41.3')`)
	mustExec(t, db, `INSERT INTO metadata (name, value) VALUES ('minzoom', '0')`)
	mustExec(t, db, `INSERT INTO metadata (name, value) VALUES ('maxzoom', '14')`)
	if tms {
		mustExec(t, db, `INSERT INTO metadata (name, value) VALUES ('scheme', 'tms')`)
	}

	// z=5, xyz (x=10, y=12). Stored row depends on scheme.
	row := 12
	if tms {
		row = tmsInvert(5, 12)
	}
	mustExec(t, db, `INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (5, 10, ?, ?)`, row, []byte("xyz-tile"))
	return path
}

func newSplitArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "split.mbtiles")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mustExec(t, db, `CREATE TABLE map (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_id TEXT)`)
	mustExec(t, db, `CREATE TABLE images (tile_id TEXT, tile_data BLOB)`)
	mustExec(t, db, `CREATE TABLE metadata (name TEXT, value TEXT)`)
	mustExec(t, db, `INSERT INTO metadata (name, value) VALUES ('bounds', '28.5,40.8,29.5,41.3')`)
	mustExec(t, db, `INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (5, 10, 12, 't1')`)
	mustExec(t, db, `INSERT INTO images (tile_id, tile_data) VALUES ('t1', ?)`, []byte("split-tile"))
	return path
}

func newAlternateArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alt.mbtiles")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mustExec(t, db, `CREATE TABLE tiles_data (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`)
	mustExec(t, db, `CREATE TABLE metadata (name TEXT, value TEXT)`)
	mustExec(t, db, `INSERT INTO metadata (name, value) VALUES ('bounds', '28.5,40.8,29.5,41.3')`)
	mustExec(t, db, `INSERT INTO tiles_data (zoom_level, tile_column, tile_row, tile_data) VALUES (5, 10, 12, ?)`, []byte("alt-tile"))
	return path
}

func TestOpenDetectsStandardSchema(t *testing.T) {
	path := newStandardArchive(t, false)
	a, err := Open(path, [4]float64{0, 0, 0, 0}, 0, 10)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if a.Descriptor().Schema != SchemaStandard {
		t.Fatalf("Schema = %v, want standard", a.Descriptor().Schema)
	}
	if a.Descriptor().MaxZoom != 14 {
		t.Fatalf("MaxZoom = %d, want 14 (from metadata)", a.Descriptor().MaxZoom)
	}
}

func TestGetStandardXYZ(t *testing.T) {
	path := newStandardArchive(t, false)
	a, err := Open(path, [4]float64{0, 0, 0, 0}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	data, err := a.Get(context.Background(), 5, 10, 12)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "xyz-tile" {
		t.Fatalf("Get() = %q, want %q", data, "xyz-tile")
	}
}

func TestGetStandardTMSConvertsRow(t *testing.T) {
	path := newStandardArchive(t, true)
	a, err := Open(path, [4]float64{0, 0, 0, 0}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Descriptor().IsTMS {
		t.Fatal("expected IsTMS = true")
	}
	// Querying with the XYZ (x=10, y=12) coordinate must still hit the
	// TMS-stored row, since Get accepts only XYZ coordinates.
	data, err := a.Get(context.Background(), 5, 10, 12)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "xyz-tile" {
		t.Fatalf("Get() = %q, want %q", data, "xyz-tile")
	}
}

func TestGetMiss(t *testing.T) {
	path := newStandardArchive(t, false)
	a, err := Open(path, [4]float64{0, 0, 0, 0}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	data, err := a.Get(context.Background(), 5, 99, 99)
	if err != nil {
		t.Fatalf("Get() error = %v, want nil error on miss", err)
	}
	if data != nil {
		t.Fatalf("Get() = %v, want nil on miss", data)
	}
}

func TestGetSplitSchema(t *testing.T) {
	path := newSplitArchive(t)
	a, err := Open(path, [4]float64{0, 0, 0, 0}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if a.Descriptor().Schema != SchemaSplit {
		t.Fatalf("Schema = %v, want split", a.Descriptor().Schema)
	}
	data, err := a.Get(context.Background(), 5, 10, 12)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "split-tile" {
		t.Fatalf("Get() = %q, want %q", data, "split-tile")
	}
}

func TestGetAlternateSchema(t *testing.T) {
	path := newAlternateArchive(t)
	a, err := Open(path, [4]float64{0, 0, 0, 0}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if a.Descriptor().Schema != SchemaAlternate {
		t.Fatalf("Schema = %v, want alternate", a.Descriptor().Schema)
	}
	data, err := a.Get(context.Background(), 5, 10, 12)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "alt-tile" {
		t.Fatalf("Get() = %q, want %q", data, "alt-tile")
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.mbtiles"), [4]float64{}, 0, 10)
	if err == nil {
		t.Fatal("expected error opening missing archive")
	}
}

func TestOpenUnsupportedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mbtiles")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	mustExec(t, db, `CREATE TABLE unrelated (id INTEGER)`)
	db.Close()

	_, err = Open(path, [4]float64{}, 0, 10)
	if err == nil {
		t.Fatal("expected unsupported schema error")
	}
}

func TestValidateBBoxFallsBackToDeclared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nometa.mbtiles")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	mustExec(t, db, `CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`)
	db.Close()

	a, err := Open(path, [4]float64{10, 10, 20, 20}, 2, 12)
	if err != nil {
		t.Fatal(err)
	}
	if !a.ValidateBBox(11, 11, 19, 19) {
		t.Fatal("expected bbox inside declared bounds to validate")
	}
	if a.ValidateBBox(0, 0, 30, 30) {
		t.Fatal("expected bbox outside declared bounds to fail validation")
	}
}

func TestExtractNormalizesToXYZ(t *testing.T) {
	path := newStandardArchive(t, true)
	a, err := Open(path, [4]float64{0, 0, 0, 0}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	toRange := func(minLon, minLat, maxLon, maxLat float64, z int) (int, int, int, int) {
		return 10, 10, 12, 12
	}
	tiles, err := a.Extract(context.Background(), 28.9, 41.0, 29.0, 41.1, 5, toRange)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("Extract() returned %d tiles, want 1", len(tiles))
	}
	if tiles[0].X != 10 || tiles[0].Y != 12 {
		t.Fatalf("Extract() tile = (%d,%d), want (10,12) in XYZ", tiles[0].X, tiles[0].Y)
	}
}
