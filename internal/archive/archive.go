// Package archive implements the local tile-archive adapter (C2): opening
// a SQLite tile container, detecting which of three schema dialects it
// uses, and answering point and range tile queries with coordinates
// normalized to XYZ. Schema detection replaces a class hierarchy with a
// single adapter parameterized by a dialect enum, per spec §9 — the same
// shape as the teacher's MVTBackupMBTiles, which owns one SQLite schema
// outright (services/mvt_backup_mbtiles.go) rather than subclassing per
// dialect.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pocketbase/dbx"

	_ "modernc.org/sqlite"
)

// ErrArchiveUnavailable is returned when the archive file is missing or
// not a SQLite database.
var ErrArchiveUnavailable = errors.New("archive: unavailable")

// ErrUnsupportedSchema is returned when none of the three recognized
// dialects match the container's tables.
var ErrUnsupportedSchema = errors.New("archive: unsupported schema")

// Schema identifies which of the three recognized dialects a container uses.
type Schema int

const (
	SchemaStandard Schema = iota
	SchemaSplit
	SchemaAlternate
)

func (s Schema) String() string {
	switch s {
	case SchemaStandard:
		return "standard"
	case SchemaSplit:
		return "split"
	case SchemaAlternate:
		return "alternate"
	default:
		return "unknown"
	}
}

// alternateTileTableNames lists table names recognized as carrying the
// same columns as the standard "tiles" table under a different name.
var alternateTileTableNames = []string{"tiles_data", "tile_data_table", "mbtiles_tiles"}

// Descriptor is the immutable, post-open description of an archive
// (§3 "Archive descriptor").
type Descriptor struct {
	Schema      Schema
	TableName   string // for SchemaStandard/SchemaAlternate, the tiles table name
	IsTMS       bool
	Bounds      [4]float64
	MinZoom     int
	MaxZoom     int
	RawMetadata map[string]string
}

// XYZTile is a single tile returned from a range query, with (X, Y)
// already normalized to the XYZ scheme regardless of how it was stored.
type XYZTile struct {
	X, Y int
	Data []byte
}

// Archive is a read-only handle over one SQLite tile container. Per §5
// "SQLite connection lifetime", no *sql.DB is held between calls: every
// Get/Extract opens a fresh connection and closes it before returning.
type Archive struct {
	path           string
	descriptor     Descriptor
	declaredBounds [4]float64
	declaredMinZ   int
	declaredMaxZ   int
}

// Open validates the file exists and is a SQLite database, detects its
// schema dialect, and derives bounds/zoom/TMS-ness from its metadata
// table, falling back to the declared configuration values supplied by
// the caller (§4.2 "Adapter initialization derives ... using declared
// configuration values only as fallback").
func Open(path string, declaredBounds [4]float64, declaredMinZoom, declaredMaxZoom int) (*Archive, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveUnavailable, path, err)
	}

	db, err := dbx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveUnavailable, path, err)
	}
	defer db.Close()

	if err := db.DB().Ping(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveUnavailable, path, err)
	}

	schema, tableName, err := detectSchema(db)
	if err != nil {
		return nil, err
	}

	raw := readMetadata(db)

	desc := Descriptor{
		Schema:         schema,
		TableName:      tableName,
		RawMetadata:    raw,
		Bounds:         declaredBounds,
		MinZoom:        declaredMinZoom,
		MaxZoom:        declaredMaxZoom,
	}

	if b, ok := raw["bounds"]; ok {
		if parsed, ok := parseBounds(b); ok {
			desc.Bounds = parsed
		}
	}
	if v, ok := raw["minzoom"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			desc.MinZoom = n
		}
	}
	if v, ok := raw["maxzoom"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			desc.MaxZoom = n
		}
	}
	desc.IsTMS = strings.EqualFold(strings.TrimSpace(raw["scheme"]), "tms")

	return &Archive{
		path:           path,
		descriptor:     desc,
		declaredBounds: declaredBounds,
		declaredMinZ:   declaredMinZoom,
		declaredMaxZ:   declaredMaxZoom,
	}, nil
}

// Descriptor returns the archive's immutable, post-open descriptor.
func (a *Archive) Descriptor() Descriptor {
	return a.descriptor
}

func detectSchema(db *dbx.DB) (Schema, string, error) {
	var names []string
	err := db.NewQuery("SELECT name FROM sqlite_master WHERE type IN ('table', 'view')").Column(&names)
	if err != nil {
		return 0, "", fmt.Errorf("%w: reading sqlite_master: %v", ErrUnsupportedSchema, err)
	}

	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}

	if set["tiles"] {
		return SchemaStandard, "tiles", nil
	}
	if set["map"] && set["images"] {
		return SchemaSplit, "", nil
	}
	for _, alt := range alternateTileTableNames {
		if set[alt] {
			return SchemaAlternate, alt, nil
		}
	}
	return 0, "", fmt.Errorf("%w: no recognized tile table in %v", ErrUnsupportedSchema, names)
}

func readMetadata(db *dbx.DB) map[string]string {
	type kv struct {
		Name  string `db:"name"`
		Value string `db:"value"`
	}
	var rows []kv
	if err := db.Select("name", "value").From("metadata").All(&rows); err != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[strings.ToLower(r.Name)] = r.Value
	}
	return out
}

func parseBounds(s string) ([4]float64, bool) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

// ValidateBBox reports whether bbox lies within the archive's declared
// bounds (§4.2).
func (a *Archive) ValidateBBox(minLon, minLat, maxLon, maxLat float64) bool {
	b := a.descriptor.Bounds
	return minLon >= b[0] && minLat >= b[1] && maxLon <= b[2] && maxLat <= b[3]
}

// Get answers a point query for tile (z, x, y), given in XYZ coordinates.
// It returns (nil, nil) on a miss — individual tile misses are not errors
// (§4.2 "Failure semantics").
func (a *Archive) Get(ctx context.Context, z, x, y int) ([]byte, error) {
	db, err := dbx.Open("sqlite", a.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	defer db.Close()

	row := y
	if a.descriptor.IsTMS {
		row = tmsInvert(z, y)
	}

	var data []byte
	switch a.descriptor.Schema {
	case SchemaSplit:
		q := db.Select("images.tile_data").
			From("map").
			InnerJoin("images", dbx.NewExp("map.tile_id = images.tile_id")).
			Where(dbx.HashExp{"map.zoom_level": z, "map.tile_column": x, "map.tile_row": row}).
			WithContext(ctx)
		err = q.Row(&data)
	default:
		table := a.descriptor.TableName
		if table == "" {
			table = "tiles"
		}
		q := db.Select("tile_data").
			From(table).
			Where(dbx.HashExp{"zoom_level": z, "tile_column": x, "tile_row": row}).
			WithContext(ctx)
		err = q.Row(&data)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get tile (%d,%d,%d): %w", z, x, y, err)
	}
	return data, nil
}

// Extract answers a range query for the tiles covering bbox at zoom z,
// returning coordinates normalized to XYZ. On a connection error the
// partial result accumulated so far is returned alongside the error, per
// §4.2 "returns the partial result accumulated so far plus logs".
func (a *Archive) Extract(ctx context.Context, minLon, minLat, maxLon, maxLat float64, z int, toTileRange func(minLon, minLat, maxLon, maxLat float64, z int) (xMin, xMax, yMin, yMax int)) ([]XYZTile, error) {
	if !a.ValidateBBox(minLon, minLat, maxLon, maxLat) {
		return nil, nil
	}

	xMin, xMax, yMin, yMax := toTileRange(minLon, minLat, maxLon, maxLat, z)

	dbYMin, dbYMax := yMin, yMax
	if a.descriptor.IsTMS {
		a1, a2 := tmsInvert(z, yMin), tmsInvert(z, yMax)
		dbYMin, dbYMax = a1, a2
		if dbYMin > dbYMax {
			dbYMin, dbYMax = dbYMax, dbYMin
		}
	}

	db, err := dbx.Open("sqlite", a.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	defer db.Close()

	type row struct {
		X    int    `db:"tile_column"`
		Y    int    `db:"tile_row"`
		Data []byte `db:"tile_data"`
	}
	var rows []row

	switch a.descriptor.Schema {
	case SchemaSplit:
		err = db.Select("map.tile_column AS tile_column", "map.tile_row AS tile_row", "images.tile_data AS tile_data").
			From("map").
			InnerJoin("images", dbx.NewExp("map.tile_id = images.tile_id")).
			Where(dbx.HashExp{"map.zoom_level": z}).
			AndWhere(dbx.Between("map.tile_column", xMin, xMax)).
			AndWhere(dbx.Between("map.tile_row", dbYMin, dbYMax)).
			WithContext(ctx).
			All(&rows)
	default:
		table := a.descriptor.TableName
		if table == "" {
			table = "tiles"
		}
		err = db.Select("tile_column", "tile_row", "tile_data").
			From(table).
			Where(dbx.HashExp{"zoom_level": z}).
			AndWhere(dbx.Between("tile_column", xMin, xMax)).
			AndWhere(dbx.Between("tile_row", dbYMin, dbYMax)).
			WithContext(ctx).
			All(&rows)
	}

	out := make([]XYZTile, 0, len(rows))
	for _, r := range rows {
		y := r.Y
		if a.descriptor.IsTMS {
			y = tmsInvert(z, r.Y)
		}
		out = append(out, XYZTile{X: r.X, Y: y, Data: r.Data})
	}

	if err != nil {
		return out, fmt.Errorf("archive: extract bbox at zoom %d: %w", z, err)
	}
	return out, nil
}

func tmsInvert(z, y int) int {
	return (1 << uint(z)) - 1 - y
}
