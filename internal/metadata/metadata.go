// Package metadata implements the per-region metadata store (C6): JSON
// documents describing what has actually been downloaded for a region,
// a filesystem scan that derives a document from what is actually on
// disk, a sync operation that reconciles stored documents against that
// scan, an audit pass producing typed findings, and a short-lived
// in-process cache over the hot documents.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/martinmeyer1/tilecellar/internal/fsys"
)

// BBoxProvenance records where a region's bounding box came from, in
// priority order (§4.6 "Provenance ordering").
type BBoxProvenance string

const (
	ProvenanceExplicit BBoxProvenance = "explicit"
	ProvenanceRegionCfg BBoxProvenance = "region_config"
	ProvenanceGeocoded BBoxProvenance = "geocoded"
	ProvenanceUnknown  BBoxProvenance = "unknown"
)

// SourceStats summarizes what is on disk for one source within a region,
// the LayerInfo of §3: a name-indexed entry carries tile_count,
// total_size, and the sorted set of zooms that actually have at least one
// tile present — not a synthesized contiguous span, since a layer can
// have gaps between its populated zooms.
type SourceStats struct {
	TileType       string `json:"tile_type"`
	Count          int    `json:"count"`
	BytesTotal     int64  `json:"bytes_total"`
	MinZoom        int    `json:"min_zoom_present"`
	MaxZoom        int    `json:"max_zoom_present"`
	AvailableZooms []int  `json:"available_zooms"`
}

// Document is the per-region metadata record persisted as one JSON file.
type Document struct {
	Region     string                 `json:"region"`
	Bounds     [4]float64             `json:"bounds"`
	Provenance BBoxProvenance         `json:"bbox_provenance"`
	Sources    map[string]SourceStats `json:"sources"`
	UpdatedAt  string                 `json:"updated_at"`
}

// FindingKind tags what an audit discovered, the typed taxonomy the
// original's validate_and_fix_metadata.py produces (SPEC_FULL.md
// "audit() detail"): a layer recorded in metadata but absent on disk, a
// layer on disk but unrecorded, a tile-count or zoom-set disagreement
// between the stored document and the filesystem, or a bbox disagreement.
type FindingKind string

const (
	FindingMissingLayer FindingKind = "missing_layer"
	FindingExtraLayer   FindingKind = "extra_layer"
	FindingCountMismatch FindingKind = "count_mismatch"
	FindingZoomMismatch FindingKind = "zoom_mismatch"
	FindingBBoxMismatch FindingKind = "bbox_mismatch"
)

// Finding is one audit result.
type Finding struct {
	Region string      `json:"region"`
	Kind   FindingKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Store owns the metadata directory and the document cache.
type Store struct {
	Root    string // tile root, for scanning
	MetaDir string // where <region>.json documents live
	cache   *lru.LRU[string, *Document]
}

// NewStore builds a Store whose document cache entries expire after ttl,
// matching the teacher's general preference for bounded, self-expiring
// in-process state over unbounded maps.
func NewStore(root, metaDir string, ttl time.Duration) *Store {
	return &Store{
		Root:    root,
		MetaDir: metaDir,
		cache:   lru.NewLRU[string, *Document](256, nil, ttl),
	}
}

func (s *Store) docPath(region string) string {
	return filepath.Join(s.MetaDir, region+".json")
}

// Load reads a region's document, preferring the cache.
func (s *Store) Load(region string) (*Document, error) {
	if doc, ok := s.cache.Get(region); ok {
		return doc, nil
	}
	data, err := os.ReadFile(s.docPath(region))
	if err != nil {
		return nil, fmt.Errorf("metadata: load %s: %w", region, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("metadata: parse %s: %w", region, err)
	}
	s.cache.Add(region, &doc)
	return &doc, nil
}

// Save persists doc atomically and refreshes the cache entry.
func (s *Store) Save(doc *Document) error {
	doc.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshal %s: %w", doc.Region, err)
	}
	if err := fsys.WriteAtomic(s.docPath(doc.Region), data, 0o644); err != nil {
		return fmt.Errorf("metadata: save %s: %w", doc.Region, err)
	}
	s.cache.Add(doc.Region, doc)
	return nil
}

// Scan walks the on-disk tile layout for a region and derives a fresh
// Document from what is actually present, ignoring any stored document.
// It special-cases a legacy layout, observed in some older archives,
// where raster tiles for a region sit directly under
// <root>/<region>/<z>/<x>/<y>.<ext> instead of under a
// raster/<source>/ subtree — those tiles are attributed to a synthetic
// source named "legacy".
func (s *Store) Scan(region string, provenance BBoxProvenance, bounds [4]float64) (*Document, error) {
	regionDir := filepath.Join(s.Root, region)
	doc := &Document{
		Region:     region,
		Bounds:     bounds,
		Provenance: provenance,
		Sources:    map[string]SourceStats{},
	}
	zoomSets := map[string]map[int]bool{}

	entries, err := os.ReadDir(regionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("metadata: scan %s: %w", region, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		switch name {
		case string(fsys.Raster), string(fsys.Vector):
			if err := s.scanTypedTree(doc, zoomSets, filepath.Join(regionDir, name), name); err != nil {
				return nil, err
			}
		default:
			if _, err := strconv.Atoi(name); err == nil {
				s.scanLegacyZoomDir(doc, zoomSets, filepath.Join(regionDir, name), name)
			}
		}
	}

	for sourceName, zooms := range zoomSets {
		stats := doc.Sources[sourceName]
		stats.AvailableZooms = sortedZooms(zooms)
		if len(stats.AvailableZooms) > 0 {
			stats.MinZoom = stats.AvailableZooms[0]
			stats.MaxZoom = stats.AvailableZooms[len(stats.AvailableZooms)-1]
		}
		doc.Sources[sourceName] = stats
	}

	return doc, nil
}

func sortedZooms(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for z := range set {
		out = append(out, z)
	}
	sort.Ints(out)
	return out
}

func (s *Store) scanTypedTree(doc *Document, zoomSets map[string]map[int]bool, typeDir, tileType string) error {
	sources, err := os.ReadDir(typeDir)
	if err != nil {
		return nil
	}
	for _, srcEntry := range sources {
		if !srcEntry.IsDir() {
			continue
		}
		sourceName := srcEntry.Name()
		stats, zooms := walkSourceTree(filepath.Join(typeDir, sourceName))
		stats.TileType = tileType
		doc.Sources[sourceName] = merge(doc.Sources[sourceName], stats)
		mergeZoomSet(zoomSets, sourceName, zooms)
	}
	return nil
}

func (s *Store) scanLegacyZoomDir(doc *Document, zoomSets map[string]map[int]bool, zoomDir, zoomName string) {
	z, err := strconv.Atoi(zoomName)
	if err != nil {
		return
	}
	stats := doc.Sources["legacy"]
	stats.TileType = string(fsys.Raster)

	count := 0
	var bytesTotal int64
	filepath.Walk(zoomDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		count++
		bytesTotal += info.Size()
		return nil
	})
	stats.Count += count
	stats.BytesTotal += bytesTotal
	doc.Sources["legacy"] = stats

	if count > 0 {
		mergeZoomSet(zoomSets, "legacy", map[int]bool{z: true})
	}
}

// walkSourceTree walks one source's directory tree, returning both the
// aggregate byte/count stats and the set of zooms that actually have at
// least one tile file present.
func walkSourceTree(root string) (SourceStats, map[int]bool) {
	var stats SourceStats
	zooms := map[int]bool{}
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		z, zerr := strconv.Atoi(parts[0])
		if zerr != nil {
			return nil
		}
		zooms[z] = true
		stats.Count++
		stats.BytesTotal += info.Size()
		return nil
	})
	return stats, zooms
}

func mergeZoomSet(zoomSets map[string]map[int]bool, sourceName string, zooms map[int]bool) {
	set, ok := zoomSets[sourceName]
	if !ok {
		set = map[int]bool{}
		zoomSets[sourceName] = set
	}
	for z := range zooms {
		set[z] = true
	}
}

func merge(a, b SourceStats) SourceStats {
	if a.Count == 0 {
		return b
	}
	out := a
	out.Count += b.Count
	out.BytesTotal += b.BytesTotal
	return out
}

// SyncAll discovers every region directory under Root, scans each and
// persists a fresh document only when Diff against the stored one is
// non-empty (§4.6 "rewrite only when the diff is non-empty"), and
// removes the stored documents of regions that no longer exist on disk
// (§4.6 "Regions present in metadata but absent on disk have their
// documents deleted"). Returns the fresh documents for regions that
// still exist on disk, in sorted order.
func (s *Store) SyncAll(provenanceOf func(region string) (BBoxProvenance, [4]float64)) ([]*Document, error) {
	onDisk, err := s.regionsOnDisk()
	if err != nil {
		return nil, err
	}
	stored, err := s.regionsWithDocuments()
	if err != nil {
		return nil, err
	}

	diskSet := make(map[string]bool, len(onDisk))
	for _, r := range onDisk {
		diskSet[r] = true
	}
	for _, region := range stored {
		if !diskSet[region] {
			if err := s.deleteDoc(region); err != nil {
				return nil, err
			}
		}
	}

	docs := make([]*Document, 0, len(onDisk))
	for _, region := range onDisk {
		provenance, bounds := provenanceOf(region)
		fresh, err := s.Scan(region, provenance, bounds)
		if err != nil {
			return docs, err
		}
		existing, loadErr := s.Load(region)
		if loadErr != nil || len(Diff(existing, fresh)) > 0 {
			if err := s.Save(fresh); err != nil {
				return docs, err
			}
		}
		docs = append(docs, fresh)
	}
	return docs, nil
}

// regionsOnDisk lists every region directory under Root, sorted, skipping
// the metadata directory itself.
func (s *Store) regionsOnDisk() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("metadata: list regions under %s: %w", s.Root, err)
	}
	var regions []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "metadata" {
			regions = append(regions, e.Name())
		}
	}
	sort.Strings(regions)
	return regions, nil
}

// regionsWithDocuments lists every region that currently has a stored
// document, sorted.
func (s *Store) regionsWithDocuments() ([]string, error) {
	entries, err := os.ReadDir(s.MetaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("metadata: list documents under %s: %w", s.MetaDir, err)
	}
	var regions []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			regions = append(regions, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(regions)
	return regions, nil
}

// deleteDoc removes a region's stored document and evicts it from the
// cache.
func (s *Store) deleteDoc(region string) error {
	if err := os.Remove(s.docPath(region)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("metadata: delete %s: %w", region, err)
	}
	s.cache.Remove(region)
	return nil
}

// Diff compares a stored document against a freshly scanned one and
// reports the typed findings of §4.6/SUPPLEMENTED FEATURES: layers
// recorded but absent on disk, layers on disk but unrecorded, and
// tile-count/zoom-set/bbox disagreements for layers present in both. A
// nil stored document (no prior document on disk) reports every scanned
// layer as extra and no bbox finding, matching "regions present on disk
// but absent from metadata get fresh documents".
func Diff(stored, fresh *Document) []Finding {
	var findings []Finding
	region := fresh.Region
	hadStored := stored != nil
	if stored == nil {
		stored = &Document{Sources: map[string]SourceStats{}}
	}

	if hadStored && stored.Bounds != fresh.Bounds {
		findings = append(findings, Finding{
			Region: region,
			Kind:   FindingBBoxMismatch,
			Detail: fmt.Sprintf("stored bbox %v does not match scanned bbox %v", stored.Bounds, fresh.Bounds),
		})
	}

	names := make(map[string]bool, len(stored.Sources)+len(fresh.Sources))
	for name := range stored.Sources {
		names[name] = true
	}
	for name := range fresh.Sources {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		sStats, sOk := stored.Sources[name]
		fStats, fOk := fresh.Sources[name]
		switch {
		case sOk && !fOk:
			findings = append(findings, Finding{
				Region: region,
				Kind:   FindingMissingLayer,
				Detail: fmt.Sprintf("layer %q is recorded in metadata but has no tiles on disk", name),
			})
		case !sOk && fOk:
			findings = append(findings, Finding{
				Region: region,
				Kind:   FindingExtraLayer,
				Detail: fmt.Sprintf("layer %q has tiles on disk but no metadata entry", name),
			})
		default:
			if sStats.Count != fStats.Count || sStats.BytesTotal != fStats.BytesTotal {
				findings = append(findings, Finding{
					Region: region,
					Kind:   FindingCountMismatch,
					Detail: fmt.Sprintf("layer %q: metadata has %d tiles/%d bytes, disk has %d tiles/%d bytes", name, sStats.Count, sStats.BytesTotal, fStats.Count, fStats.BytesTotal),
				})
			}
			if !equalZooms(sStats.AvailableZooms, fStats.AvailableZooms) {
				findings = append(findings, Finding{
					Region: region,
					Kind:   FindingZoomMismatch,
					Detail: fmt.Sprintf("layer %q: metadata zooms %v do not match disk zooms %v", name, sStats.AvailableZooms, fStats.AvailableZooms),
				})
			}
		}
	}

	return findings
}

func equalZooms(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Audit reports the §4.6 structured inconsistency report for region
// without mutating any stored state: it scans the filesystem and diffs
// the result against whatever document (if any) is currently stored,
// without writing the fresh scan back (that is SyncAll's job).
func (s *Store) Audit(region string, provenance BBoxProvenance, bounds [4]float64) ([]Finding, error) {
	fresh, err := s.Scan(region, provenance, bounds)
	if err != nil {
		return nil, err
	}
	stored, _ := s.Load(region)
	return Diff(stored, fresh), nil
}

// ScanSources rescans only the named sources within region, leaving every
// other source's stats in the existing stored document untouched (§4.6
// "update_after_download(region, bbox, sources): ... rescans only the
// affected layers"). A source with no tile directory left on disk is
// dropped from the document; a source whose directory exists under
// either the raster or vector tree is replaced with a fresh count/size/
// zoom scan of that one subtree. Starting from the stored document (when
// one exists) rather than an empty one is what keeps unrelated, possibly
// concurrently-downloading sources out of this narrower rescan's blast
// radius.
func (s *Store) ScanSources(region string, sourceNames []string, provenance BBoxProvenance, bounds [4]float64) (*Document, error) {
	doc := &Document{Region: region, Bounds: bounds, Provenance: provenance, Sources: map[string]SourceStats{}}
	if existing, err := s.Load(region); err == nil {
		for name, stats := range existing.Sources {
			doc.Sources[name] = stats
		}
	}

	regionDir := filepath.Join(s.Root, region)
	for _, name := range sourceNames {
		stats, ok := scanOneSource(regionDir, name)
		if !ok || stats.Count == 0 {
			delete(doc.Sources, name)
			continue
		}
		doc.Sources[name] = stats
	}
	return doc, nil
}

// scanOneSource walks the raster or vector subtree for one named source
// under regionDir, whichever exists, and returns its fresh stats.
func scanOneSource(regionDir, name string) (SourceStats, bool) {
	for _, typ := range []fsys.TileType{fsys.Raster, fsys.Vector} {
		sourceDir := filepath.Join(regionDir, string(typ), name)
		info, err := os.Stat(sourceDir)
		if err != nil || !info.IsDir() {
			continue
		}
		stats, zooms := walkSourceTree(sourceDir)
		stats.TileType = string(typ)
		stats.AvailableZooms = sortedZooms(zooms)
		if len(stats.AvailableZooms) > 0 {
			stats.MinZoom = stats.AvailableZooms[0]
			stats.MaxZoom = stats.AvailableZooms[len(stats.AvailableZooms)-1]
		}
		return stats, true
	}
	return SourceStats{}, false
}

// UpdateAfterDownload scopes a rescan to the sources that just
// participated in a download and persists the result, the common path
// after a download pipeline run completes for that region (§4.6
// "Targeted refresh").
func (s *Store) UpdateAfterDownload(region string, sourceNames []string, provenance BBoxProvenance, bounds [4]float64) (*Document, error) {
	doc, err := s.ScanSources(region, sourceNames, provenance, bounds)
	if err != nil {
		return nil, err
	}
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
