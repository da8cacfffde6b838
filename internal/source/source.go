// Package source implements the source registry (C3): a process-lifetime
// mapping from source name to source handle, and the ITileSource tagged
// variant described in spec §9 — one concrete type carrying a Kind tag
// instead of an interface hierarchy, mirroring how the teacher's
// interfaces.MVTStorage/MVTCache split stays a single small interface
// rather than a class tree (interfaces/mvt.go).
package source

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/martinmeyer1/tilecellar/internal/config"
)

// Kind tags a Handle as either a remote HTTP source or a local archive.
type Kind int

const (
	KindHTTP Kind = iota
	KindLocal
)

// TileType distinguishes raster from vector sources.
type TileType string

const (
	Raster TileType = "raster"
	Vector TileType = "vector"
)

// Handle is the tagged variant over remote HTTP sources and local archives
// described in §3 "Source handle".
type Handle struct {
	Kind     Kind
	Name     string
	TileType TileType

	// HTTP fields.
	URLTemplate string
	Headers     map[string]string

	// Local archive fields.
	Path            string
	DeclaredBounds  [4]float64
	DeclaredMinZoom int
	DeclaredMaxZoom int
}

// URL renders the HTTP url template for a tile coordinate.
func (h Handle) URL(z, x, y int) string {
	return renderTemplate(h.URLTemplate, z, x, y)
}

func renderTemplate(tmpl string, z, x, y int) string {
	out := make([]byte, 0, len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		switch {
		case i+2 < len(tmpl) && tmpl[i] == '{' && tmpl[i+2] == '}':
			switch tmpl[i+1] {
			case 'z':
				out = appendInt(out, z)
				i += 2
				continue
			case 'x':
				out = appendInt(out, x)
				i += 2
				continue
			case 'y':
				out = appendInt(out, y)
				i += 2
				continue
			}
			out = append(out, tmpl[i])
		default:
			out = append(out, tmpl[i])
		}
	}
	return string(out)
}

func appendInt(b []byte, v int) []byte {
	return append(b, []byte(fmt.Sprintf("%d", v))...)
}

// Availability performs a cheap reachability probe: an HTTP HEAD for
// remote sources, a stat for local archives. It never fetches tile data.
func (h Handle) Availability(ctx context.Context, client *http.Client) bool {
	switch h.Kind {
	case KindLocal:
		_, err := os.Stat(h.Path)
		return err == nil
	default:
		url := h.URL(0, 0, 0)
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode < 500
	}
}

// Registry is a process-lifetime, read-mostly mapping from source name to
// Handle, populated once from configuration at startup.
type Registry struct {
	byName map[string]Handle
	order  []string
}

// NewRegistry builds a Registry from the parsed configuration.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{byName: make(map[string]Handle)}
	for _, hs := range cfg.HTTPSources {
		h := Handle{
			Kind:        KindHTTP,
			Name:        hs.Name,
			TileType:    TileType(hs.TileType),
			URLTemplate: hs.URL,
			Headers:     hs.Headers,
		}
		r.add(h)
	}
	for _, ls := range cfg.LocalSources {
		h := Handle{
			Kind:            KindLocal,
			Name:            ls.Name,
			TileType:        TileType(ls.TileType),
			Path:            ls.Path,
			DeclaredBounds:  ls.Bounds,
			DeclaredMinZoom: ls.MinZoom,
			DeclaredMaxZoom: ls.MaxZoom,
		}
		r.add(h)
	}
	return r
}

func (r *Registry) add(h Handle) {
	if _, exists := r.byName[h.Name]; !exists {
		r.order = append(r.order, h.Name)
	}
	r.byName[h.Name] = h
}

// AllSources returns every registered handle, ordered by registration.
func (r *Registry) AllSources() []Handle {
	out := make([]Handle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ByName looks up a single source by name.
func (r *Registry) ByName(name string) (Handle, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Filter implements the union semantics of §4.3: if both
// remoteFilter and localFilter are non-empty their union participates; if
// only one is non-empty only it participates; if neither is given every
// enabled source participates. Input order within each filter list is
// preserved in the output.
func (r *Registry) Filter(remoteFilter, localFilter []string) []Handle {
	if len(remoteFilter) == 0 && len(localFilter) == 0 {
		return r.AllSources()
	}

	seen := make(map[string]bool)
	var out []Handle
	add := func(names []string) {
		for _, name := range names {
			h, ok := r.byName[name]
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, h)
		}
	}
	add(remoteFilter)
	add(localFilter)
	return out
}

// Names returns the sorted list of registered source names, for
// --list-sources.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultHTTPClient is the client used for Availability probes; a short
// timeout keeps --list-sources responsive even against dead servers.
var DefaultHTTPClient = &http.Client{Timeout: 5 * time.Second}
