// Package server implements the tile-serving engine (C7): HTTP delivery
// of stored tiles, archive pass-through extraction, and the metadata
// query endpoints of §4.7. Routing follows the teacher's wildcard-path
// idiom (apiHandlers/mvt_handler.go, internal/handlers/mvt_handler.go),
// which reaches for one `{path...}`-style wildcard segment per resource
// because PocketBase's router — the same echo/v5 this package uses
// directly — has no multi-segment named parameters; caching and CORS
// headers mirror that same pair of files almost line for line, widened
// from one MVT layer to the full raster/vector tree.
package server

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v5"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/martinmeyer1/tilecellar/internal/archive"
	"github.com/martinmeyer1/tilecellar/internal/config"
	"github.com/martinmeyer1/tilecellar/internal/coord"
	"github.com/martinmeyer1/tilecellar/internal/fsys"
	"github.com/martinmeyer1/tilecellar/internal/metadata"
	"github.com/martinmeyer1/tilecellar/internal/source"
)

// extentsTTL and indexTTL match §4.7's per-endpoint cache defaults.
const (
	extentsTTL = 120 * time.Second
	indexTTL   = 120 * time.Second
)

// clientAbortSignatures lists the error substrings the teacher's server
// (and every HTTP server that serves large static files) must swallow
// rather than log as faults, per §4.7 "Failure tolerance".
var clientAbortSignatures = []string{"connection reset", "broken pipe", "aborted"}

// tileExtent is the per-zoom extent reported by /tile_extents.
type tileExtent struct {
	MinX, MaxX, MinY, MaxY int
	TileCount              int
}

// Server holds everything C7 needs to answer a request: the tile root,
// the metadata store, the source registry (for archive pass-through and
// /inspect_mbtiles), and the loaded configuration (for /api/config). None
// of it is mutated per-request, per §9 "explicit store passed into C8 and
// C7 at construction" — the caches below are the only mutable state and
// are internally synchronized.
type Server struct {
	Root     string
	Config   *config.Config
	Store    *metadata.Store
	Registry *source.Registry

	extentsCache *lru.LRU[string, map[int]tileExtent]
	indexCache   *lru.LRU[string, map[int][]int]
	echo         *echo.Echo
}

// New builds a Server and registers all routes from §4.7.
func New(root string, cfg *config.Config, store *metadata.Store, registry *source.Registry) *Server {
	s := &Server{
		Root:         root,
		Config:       cfg,
		Store:        store,
		Registry:     registry,
		extentsCache: lru.NewLRU[string, map[int]tileExtent](128, nil, extentsTTL),
		indexCache:   lru.NewLRU[string, map[int][]int](128, nil, indexTTL),
	}
	s.echo = echo.New()
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Use(s.corsMiddleware)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler PocketBase-style callers (or
// net/http.ListenAndServe) mount directly.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/", s.handleIndex)
	e.GET("/list_regions", s.handleListRegions)
	e.GET("/region_map_styles/:region", s.handleRegionMapStyles)
	e.GET("/tile_extents/:region/:type/:layer", s.handleTileExtents)
	e.GET("/tile_index/:region/:type/:layer/:z", s.handleTileIndex)
	e.GET("/inspect_mbtiles", s.handleInspectMBTiles)
	e.GET("/map_tiles/:region/:type/:layer/*", s.handleMapTile)
	e.GET("/api/config", s.handleConfig)
	e.GET("/src/config.json", s.handleConfig)
	e.GET("/favicon.ico", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.OPTIONS("/*", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

// corsMiddleware advertises the fixed CORS policy of §4.7 on every
// response, mirroring apiHandlers' setCORSHeaders on each handler but
// centralized as middleware instead of repeated per handler.
func (s *Server) corsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusOK)
		}
		return next(c)
	}
}

// handleError is installed as the echo error handler so no handler panic
// or unexpected error ever becomes a dropped connection; client aborts
// are swallowed entirely per §4.7/§7, everything else becomes a JSON
// error body carrying the echo.HTTPError's status code, or 500 for any
// other error.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	msg := err.Error()
	for _, sig := range clientAbortSignatures {
		if strings.Contains(strings.ToLower(msg), sig) {
			return
		}
	}
	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}
	log.Printf("server: request %s %s failed: %v", c.Request().Method, c.Request().URL.Path, err)
	_ = c.JSON(code, map[string]string{"error": msg})
}

func (s *Server) handleIndex(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.HTML(http.StatusOK, "<!doctype html><title>tilecellar</title><h1>tilecellar</h1>")
}

// handleListRegions answers GET /list_regions: every directory under
// Root that has a non-empty tile tree, sorted (§4.7).
func (s *Server) handleListRegions(c echo.Context) error {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			c.Response().Header().Set("Cache-Control", "no-cache")
			return c.JSON(http.StatusOK, []string{})
		}
		return err
	}
	var regions []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "metadata" {
			continue
		}
		if regionHasTiles(filepath.Join(s.Root, e.Name())) {
			regions = append(regions, e.Name())
		}
	}
	sort.Strings(regions)
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.JSON(http.StatusOK, regions)
}

func regionHasTiles(dir string) bool {
	found := false
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || found {
			return nil
		}
		if !info.IsDir() && info.Size() > 0 {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// layerStyle is one entry of the region_map_styles response.
type layerStyle struct {
	Name            string `json:"name"`
	TileCount       int    `json:"tile_count"`
	TotalSize       int64  `json:"total_size"`
	AvailableZooms  []int  `json:"available_zooms"`
}

type regionInfo struct {
	BBox   [4]float64 `json:"bbox"`
	Center [2]float64 `json:"center"`
}

// handleRegionMapStyles answers GET /region_map_styles/<region>: only
// layers physically present on disk are reported (§4.7 "filesystem is
// the single source of truth"); the metadata document, when present,
// enriches each with counts/sizes/zooms.
func (s *Server) handleRegionMapStyles(c echo.Context) error {
	requested := c.Param("region")
	dir, ok := s.resolveRegionDir(requested)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "region not found")
	}

	doc, _ := s.Store.Load(filepath.Base(dir))

	raster := map[string]layerStyle{}
	vector := map[string]layerStyle{}
	for _, typ := range []fsys.TileType{fsys.Raster, fsys.Vector} {
		typeDir := filepath.Join(dir, string(typ))
		layerEntries, err := os.ReadDir(typeDir)
		if err != nil {
			continue
		}
		for _, le := range layerEntries {
			if !le.IsDir() {
				continue
			}
			ls := layerStyle{Name: le.Name()}
			if doc != nil {
				if stats, ok := doc.Sources[le.Name()]; ok {
					ls.TileCount = stats.Count
					ls.TotalSize = stats.BytesTotal
					ls.AvailableZooms = stats.AvailableZooms
				}
			}
			if typ == fsys.Raster {
				raster[le.Name()] = ls
			} else {
				vector[le.Name()] = ls
			}
		}
	}

	var bbox [4]float64
	if doc != nil {
		bbox = doc.Bounds
	}
	center := [2]float64{(bbox[0] + bbox[2]) / 2, (bbox[1] + bbox[3]) / 2}

	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"raster":      raster,
		"vector":      vector,
		"region_info": regionInfo{BBox: bbox, Center: center},
	})
}

// handleTileExtents answers GET /tile_extents/<region>/<type>/<layer>:
// per-zoom {minX, maxX, minY, maxY, tile_count}, cached for extentsTTL.
func (s *Server) handleTileExtents(c echo.Context) error {
	region, typ, layer := c.Param("region"), c.Param("type"), c.Param("layer")
	dir, ok := s.resolveRegionDir(region)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "region not found")
	}
	key := dir + "/" + typ + "/" + layer
	if cached, ok := s.extentsCache.Get(key); ok {
		return c.JSON(http.StatusOK, cached)
	}

	layerDir := filepath.Join(dir, typ, layer)
	extents := map[int]tileExtent{}
	zoomEntries, _ := os.ReadDir(layerDir)
	for _, ze := range zoomEntries {
		z, err := strconv.Atoi(ze.Name())
		if err != nil || !ze.IsDir() {
			continue
		}
		ext := tileExtent{}
		first := true
		xEntries, _ := os.ReadDir(filepath.Join(layerDir, ze.Name()))
		for _, xe := range xEntries {
			x, err := strconv.Atoi(xe.Name())
			if err != nil || !xe.IsDir() {
				continue
			}
			yEntries, _ := os.ReadDir(filepath.Join(layerDir, ze.Name(), xe.Name()))
			for _, ye := range yEntries {
				y, ok := parseTileFilename(ye.Name())
				if !ok {
					continue
				}
				if first {
					ext.MinX, ext.MaxX, ext.MinY, ext.MaxY = x, x, y, y
					first = false
				}
				if x < ext.MinX {
					ext.MinX = x
				}
				if x > ext.MaxX {
					ext.MaxX = x
				}
				if y < ext.MinY {
					ext.MinY = y
				}
				if y > ext.MaxY {
					ext.MaxY = y
				}
				ext.TileCount++
			}
		}
		if ext.TileCount > 0 {
			extents[z] = ext
		}
	}
	s.extentsCache.Add(key, extents)
	c.Response().Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(extentsTTL.Seconds())))
	return c.JSON(http.StatusOK, extents)
}

// handleTileIndex answers GET /tile_index/<region>/<type>/<layer>/<z>:
// {x -> sorted list of y}, cached for indexTTL.
func (s *Server) handleTileIndex(c echo.Context) error {
	region, typ, layer, zStr := c.Param("region"), c.Param("type"), c.Param("layer"), c.Param("z")
	z, err := strconv.Atoi(zStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid zoom")
	}
	dir, ok := s.resolveRegionDir(region)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "region not found")
	}
	key := fmt.Sprintf("%s/%s/%s/%d", dir, typ, layer, z)
	if cached, ok := s.indexCache.Get(key); ok {
		return c.JSON(http.StatusOK, cached)
	}

	zoomDir := filepath.Join(dir, typ, layer, zStr)
	index := map[int][]int{}
	xEntries, _ := os.ReadDir(zoomDir)
	for _, xe := range xEntries {
		x, err := strconv.Atoi(xe.Name())
		if err != nil || !xe.IsDir() {
			continue
		}
		yEntries, _ := os.ReadDir(filepath.Join(zoomDir, xe.Name()))
		var ys []int
		for _, ye := range yEntries {
			if y, ok := parseTileFilename(ye.Name()); ok {
				ys = append(ys, y)
			}
		}
		if len(ys) == 0 {
			continue
		}
		sort.Ints(ys)
		index[x] = ys
	}
	s.indexCache.Add(key, index)
	c.Response().Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(indexTTL.Seconds())))
	return c.JSON(http.StatusOK, index)
}

func parseTileFilename(name string) (y int, ok bool) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0, false
	}
	return n, true
}

// handleInspectMBTiles answers GET /inspect_mbtiles?server=<name>: the
// parsed descriptor plus the raw metadata key/value table, per the
// SUPPLEMENTED FEATURES raw-passthrough behavior.
func (s *Server) handleInspectMBTiles(c echo.Context) error {
	name := c.QueryParam("server")
	h, ok := s.Registry.ByName(name)
	if !ok || h.Kind != source.KindLocal {
		return echo.NewHTTPError(http.StatusNotFound, "unknown local archive")
	}
	a, err := archive.Open(h.Path, h.DeclaredBounds, h.DeclaredMinZoom, h.DeclaredMaxZoom)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	desc := a.Descriptor()
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"schema":       desc.Schema.String(),
		"is_tms":       desc.IsTMS,
		"bounds":       desc.Bounds,
		"min_zoom":     desc.MinZoom,
		"max_zoom":     desc.MaxZoom,
		"raw_metadata": desc.RawMetadata,
	})
}

// handleConfig answers GET /api/config and /src/config.json: the raw
// configuration document, unknown keys preserved, per §4.9/§8's
// round-trip property.
func (s *Server) handleConfig(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.JSONBlob(http.StatusOK, s.Config.Raw())
}

// handleMapTile answers both static-tile routes of §4.7: a plain
// filesystem tile under /map_tiles/<region>/<type>/<layer>/<z>/<x>/<y>.<ext>
// and an on-the-fly archive extraction under
// /map_tiles/<region>/<type>/<server>/mbtiles_tile/<z>/<x>/<y>.<ext>, where
// the layer segment names the registered local archive.
func (s *Server) handleMapTile(c echo.Context) error {
	region, typ, layer := c.Param("region"), c.Param("type"), c.Param("layer")
	tail := c.Param("*")
	parts := strings.Split(strings.Trim(tail, "/"), "/")

	if len(parts) == 4 && parts[0] == "mbtiles_tile" {
		return s.serveArchiveTile(c, layer, parts[1], parts[2], parts[3])
	}
	if len(parts) != 3 {
		return echo.NewHTTPError(http.StatusBadRequest, "expected /z/x/y.ext")
	}
	return s.serveStaticTile(c, region, typ, layer, parts[0], parts[1], parts[2])
}

func (s *Server) serveStaticTile(c echo.Context, region, typ, layer, zStr, xStr, yExt string) error {
	dir, ok := s.resolveRegionDir(region)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "region not found")
	}
	region = filepath.Base(dir)

	ext := strings.TrimPrefix(filepath.Ext(yExt), ".")
	yStr := strings.TrimSuffix(yExt, "."+ext)
	z, zerr := strconv.Atoi(zStr)
	x, xerr := strconv.Atoi(xStr)
	y, yerr := strconv.Atoi(yStr)
	if zerr != nil || xerr != nil || yerr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed tile coordinates")
	}

	candidates := rasterExtCandidates(ext)
	if typ == string(fsys.Vector) {
		candidates = []string{ext}
	}

	path, data, found := s.lookupTileFile(region, typ, layer, z, x, y, candidates)
	if !found {
		// Coordinate-scheme fallback: some archives are materialized to
		// disk as TMS. Retry once with the inverted row (§4.7).
		tmsY := coord.ToTMS(z, y)
		path, data, found = s.lookupTileFile(region, typ, layer, z, x, tmsY, candidates)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "tile not found")
	}

	if !fsys.SafeUnderRoot(path, s.Root) {
		return echo.NewHTTPError(http.StatusForbidden, "path escapes root")
	}

	if typ == string(fsys.Vector) {
		return s.serveVectorTile(c, data)
	}
	return s.serveRasterTile(c, path, data, ext)
}

func (s *Server) lookupTileFile(region, typ, layer string, z, x, y int, extCandidates []string) (path string, data []byte, ok bool) {
	for _, ext := range extCandidates {
		p := fsys.TilePath(s.Root, region, fsys.TileType(typ), layer, z, x, y, ext)
		if fsys.FileExists(p) {
			data, err := os.ReadFile(p)
			if err == nil {
				return p, data, true
			}
		}
	}
	return "", nil, false
}

func rasterExtCandidates(preferred string) []string {
	all := []string{"png", "jpg", "jpeg"}
	out := []string{preferred}
	for _, e := range all {
		if e != preferred {
			out = append(out, e)
		}
	}
	return out
}

func (s *Server) serveArchiveTile(c echo.Context, serverName, zStr, xStr, yExt string) error {
	h, ok := s.Registry.ByName(serverName)
	if !ok || h.Kind != source.KindLocal {
		return echo.NewHTTPError(http.StatusNotFound, "unknown local archive")
	}
	ext := strings.TrimPrefix(filepath.Ext(yExt), ".")
	yStr := strings.TrimSuffix(yExt, "."+ext)
	z, zerr := strconv.Atoi(zStr)
	x, xerr := strconv.Atoi(xStr)
	y, yerr := strconv.Atoi(yStr)
	if zerr != nil || xerr != nil || yerr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed tile coordinates")
	}

	a, err := archive.Open(h.Path, h.DeclaredBounds, h.DeclaredMinZoom, h.DeclaredMaxZoom)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	data, err := a.Get(c.Request().Context(), z, x, y)
	if err != nil {
		return err
	}
	if data == nil {
		return echo.NewHTTPError(http.StatusNotFound, "tile not found in archive")
	}
	if h.TileType == source.Vector {
		return s.serveVectorTile(c, data)
	}
	return s.serveRasterTile(c, "", data, ext)
}

// serveVectorTile implements §4.7's vector normalization: detect the
// on-disk encoding by magic bytes, always emit gzip over the wire, and
// honor conditional GET against a weak MD5 ETag of the served bytes.
func (s *Server) serveVectorTile(c echo.Context, raw []byte) error {
	gzipped, detected, err := normalizeToGzip(raw)
	if err != nil {
		// §7 "invalid magic on vector tiles (logged; still served for
		// robustness)": fall back to gzipping the raw bytes as-is.
		log.Printf("server: vector tile format detection failed, gzipping raw bytes: %v", err)
		gzipped, err = gzipBytes(raw)
		if err != nil {
			return err
		}
		detected = "raw"
	}

	weak, strongEq := etagsFor(gzipped)
	if ifNoneMatchHits(c.Request().Header.Get("If-None-Match"), weak, strongEq) {
		s.setVectorCacheHeaders(c, weak)
		return c.NoContent(http.StatusNotModified)
	}

	s.setVectorCacheHeaders(c, weak)
	c.Response().Header().Set("Content-Encoding", "gzip")
	c.Response().Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	c.Response().Header().Set("X-Tile-Detected-Format", detected)
	return c.Blob(http.StatusOK, "application/vnd.mapbox-vector-tile", gzipped)
}

func (s *Server) setVectorCacheHeaders(c echo.Context, weakETag string) {
	h := c.Response().Header()
	h.Set("Cache-Control", "public, max-age=86400")
	h.Set("Vary", "Accept-Encoding")
	h.Set("ETag", weakETag)
}

// normalizeToGzip detects whether raw is already gzip, zlib, or a raw
// PBF stream and returns it re-encoded as gzip plus the detected format
// name reported in X-Tile-Detected-Format.
func normalizeToGzip(raw []byte) ([]byte, string, error) {
	switch {
	case len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b:
		return raw, "gzip", nil
	case len(raw) >= 2 && raw[0] == 0x78 && (raw[1] == 0x01 || raw[1] == 0x9c || raw[1] == 0xda):
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, "", fmt.Errorf("server: zlib header detected but stream invalid: %w", err)
		}
		defer zr.Close()
		inflated, err := io.ReadAll(zr)
		if err != nil {
			return nil, "", fmt.Errorf("server: inflating zlib tile: %w", err)
		}
		gz, err := gzipBytes(inflated)
		if err != nil {
			return nil, "", err
		}
		return gz, "zlib", nil
	default:
		gz, err := gzipBytes(raw)
		if err != nil {
			return nil, "", err
		}
		return gz, "raw", nil
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("server: gzip tile: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("server: close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// etagsFor computes the weak ETag (`W/"<md5>"`) served for body, and the
// matching strong form, so If-None-Match can be checked against either.
func etagsFor(body []byte) (weak string, strong string) {
	sum := md5.Sum(body)
	hexSum := fmt.Sprintf("%x", sum)
	return `W/"` + hexSum + `"`, `"` + hexSum + `"`
}

func ifNoneMatchHits(header, weak, strong string) bool {
	if header == "" {
		return false
	}
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "*" || tok == weak || tok == strong {
			return true
		}
	}
	return false
}

// serveRasterTile serves a raster tile with the static-asset caching
// policy and a content-type derived from ext, sniffing via mimetype when
// ext isn't in the static table.
func (s *Server) serveRasterTile(c echo.Context, path string, data []byte, ext string) error {
	ct := contentTypeFor(ext)
	if ct == "application/octet-stream" {
		ct = mimetype.Detect(data).String()
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=3600")
	return c.Blob(http.StatusOK, ct, data)
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case "pbf", "mvt":
		return "application/vnd.mapbox-vector-tile"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "json":
		return "application/json"
	case "html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

// resolveRegionDir implements §4.7's diacritics-insensitive region path
// resolution: apply the small Turkish-alphabet domain map, decompose the
// name, strip combining marks, lowercase, and compare against directory
// entries normalized the same way.
func (s *Server) resolveRegionDir(requested string) (string, bool) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return "", false
	}
	target := foldRegionName(requested)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if foldRegionName(e.Name()) == target {
			return filepath.Join(s.Root, e.Name()), true
		}
	}
	return "", false
}

// turkishFoldMap is the small domain map from §4.7. Of its entries only
// the dotless ı has no NFD decomposition to an ASCII base letter; the
// others would also fold through mark stripping and are listed
// explicitly.
var turkishFoldMap = map[rune]rune{
	'ı': 'i', 'İ': 'i',
	'ş': 's', 'Ş': 's',
	'ğ': 'g', 'Ğ': 'g',
	'ç': 'c', 'Ç': 'c',
	'ö': 'o', 'Ö': 'o',
	'ü': 'u', 'Ü': 'u',
}

func foldRegionName(name string) string {
	folded := make([]rune, 0, len(name))
	for _, r := range name {
		if mapped, ok := turkishFoldMap[r]; ok {
			folded = append(folded, mapped)
			continue
		}
		folded = append(folded, r)
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, string(folded))
	if err != nil {
		out = string(folded)
	}
	return strings.ToLower(out)
}
