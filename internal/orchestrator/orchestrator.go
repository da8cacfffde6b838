// Package orchestrator implements C8: the glue between a high-level user
// request (region name, bbox, or place) and the lower components —
// resolving the bbox, composing the source list through the registry's
// filter semantics, invoking the download pipeline, and triggering the
// metadata store's targeted post-download refresh. It mirrors the
// teacher's app_service.go role of wiring independently-testable
// packages together behind one call rather than letting the HTTP layer
// or the CLI reach into each package directly.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/martinmeyer1/tilecellar/internal/archive"
	"github.com/martinmeyer1/tilecellar/internal/config"
	"github.com/martinmeyer1/tilecellar/internal/coord"
	"github.com/martinmeyer1/tilecellar/internal/download"
	"github.com/martinmeyer1/tilecellar/internal/geocode"
	"github.com/martinmeyer1/tilecellar/internal/metadata"
	"github.com/martinmeyer1/tilecellar/internal/source"
)

// Request is a high-level acquisition request as described in §4.8:
// exactly one of Region, Place, or BBox should be set to select an area;
// RemoteFilter/LocalFilter compose per §4.3's union rule.
type Request struct {
	Region  string
	Place   string
	BBox    *coord.BBox
	MinZoom int
	MaxZoom int

	RemoteFilter []string
	LocalFilter  []string
}

// Outcome reports the download result plus the resolved bbox and
// participating source names, so callers (CLI, server) can print or log
// a summary without recomputing anything.
type Outcome struct {
	Region      string
	BBox        coord.BBox
	Sources     []string
	Provenance  metadata.BBoxProvenance
	download.Result
}

// Orchestrator wires together the registry, pipeline, metadata store, and
// geocode resolver built at process start. None of its fields are
// mutated after construction, per §9 "Global singletons ... replace with
// an explicit store passed into C8 and C7 at construction".
type Orchestrator struct {
	Config   *config.Config
	Registry *source.Registry
	Pipeline *download.Pipeline
	Store    *metadata.Store
	Geocode  geocode.Resolver
}

// Run resolves req to a concrete bbox and source list, runs the download
// pipeline, and refreshes the metadata document for the affected region.
// A zero Downloaded count with participating sources is reported back to
// the caller as a non-fatal Outcome, not an error, per §4.8.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	region := req.Region
	if region == "" {
		region = req.Place
	}
	if region == "" {
		region = "adhoc"
	}

	bbox, provenance, err := o.resolveBBox(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if !bbox.Valid() {
		return Outcome{}, fmt.Errorf("orchestrator: resolved bbox %+v is invalid", bbox)
	}
	if req.MinZoom > req.MaxZoom {
		return Outcome{}, fmt.Errorf("orchestrator: min_zoom %d > max_zoom %d", req.MinZoom, req.MaxZoom)
	}

	sources := o.Registry.Filter(req.RemoteFilter, req.LocalFilter)
	if len(sources) == 0 {
		return Outcome{}, fmt.Errorf("orchestrator: no sources selected")
	}

	tiles := toDownloadTiles(coord.Enumerate(bbox, req.MinZoom, req.MaxZoom))

	extractor := func(ctx context.Context, h source.Handle, z int) ([]download.ArchiveTile, error) {
		return o.extractArchive(ctx, h, bbox, z)
	}
	result := o.Pipeline.DownloadRegion(ctx, region, tiles, sources, extractor)

	names := make([]string, 0, len(sources))
	for _, h := range sources {
		names = append(names, h.Name)
	}

	if _, err := o.Store.UpdateAfterDownload(region, names, provenance, [4]float64{bbox.MinLon, bbox.MinLat, bbox.MaxLon, bbox.MaxLat}); err != nil {
		return Outcome{Region: region, BBox: bbox, Sources: names, Provenance: provenance, Result: result},
			fmt.Errorf("orchestrator: metadata refresh for %s: %w", region, err)
	}

	return Outcome{Region: region, BBox: bbox, Sources: names, Provenance: provenance, Result: result}, nil
}

// resolveBBox implements the bbox provenance order used across §4.6 and
// §4.8: an explicit bbox on the request wins, then a configured region,
// then a place lookup through the geocode resolver.
func (o *Orchestrator) resolveBBox(ctx context.Context, req Request) (coord.BBox, metadata.BBoxProvenance, error) {
	if req.BBox != nil {
		return *req.BBox, metadata.ProvenanceExplicit, nil
	}
	if req.Region != "" {
		if rc, ok := o.Config.Regions[req.Region]; ok {
			b := rc.BBox
			return coord.BBox{MinLon: b[0], MinLat: b[1], MaxLon: b[2], MaxLat: b[3]}, metadata.ProvenanceRegionCfg, nil
		}
		return coord.BBox{}, "", fmt.Errorf("orchestrator: unknown region %q", req.Region)
	}
	if req.Place != "" {
		b, err := o.Geocode.BBoxForPlace(ctx, req.Place)
		if err != nil {
			return coord.BBox{}, "", fmt.Errorf("orchestrator: resolving place %q: %w", req.Place, err)
		}
		return b, metadata.ProvenanceGeocoded, nil
	}
	return coord.BBox{}, "", fmt.Errorf("orchestrator: request names neither a region, a place, nor a bbox")
}

// extractArchive adapts internal/archive's bbox-typed Extract to the
// coordinate-range-typed hook download.DownloadRegion expects, so the
// download package need not import the archive package's bbox type
// directly — it only knows about source.Handle and a zoom integer. Per
// §4.4 step 4 ("invoke C2 extract(bbox, z)"), the requested region's bbox
// is what gets extracted, not the archive's own declared bounds; Extract
// itself rejects anything outside the archive's declared bounds.
func (o *Orchestrator) extractArchive(ctx context.Context, h source.Handle, bbox coord.BBox, z int) ([]download.ArchiveTile, error) {
	a, err := archive.Open(h.Path, h.DeclaredBounds, h.DeclaredMinZoom, h.DeclaredMaxZoom)
	if err != nil {
		return nil, err
	}
	toTileRange := func(minLon, minLat, maxLon, maxLat float64, z int) (xMin, xMax, yMin, yMax int) {
		return coord.BBoxToTileRange(coord.BBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}, z)
	}
	tiles, err := a.Extract(ctx, bbox.MinLon, bbox.MinLat, bbox.MaxLon, bbox.MaxLat, z, toTileRange)
	out := make([]download.ArchiveTile, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, download.ArchiveTile{X: t.X, Y: t.Y, Data: t.Data})
	}
	return out, err
}

func toDownloadTiles(tiles []coord.Tile) []download.Tile {
	out := make([]download.Tile, len(tiles))
	for i, t := range tiles {
		out[i] = download.Tile{Z: t.Z, X: t.X, Y: t.Y}
	}
	return out
}
