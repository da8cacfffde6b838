// Package geocode defines the narrow contract tilecellar uses to consult
// the geocoordinate lookup service described in spec §1/§4.9/§9 as an
// external collaborator: the service itself (polygon intersection,
// search indexing, lazy loading) stays outside this module's scope,
// mirroring how the teacher keeps engagement/auth concerns behind small
// interfaces (interfaces/engagement.go, internal/interfaces/mvt.go)
// rather than importing another subsystem's internals.
package geocode

import (
	"context"
	"errors"

	"github.com/martinmeyer1/tilecellar/internal/coord"
)

// ErrPlaceNotFound is returned when a place name resolves to nothing.
var ErrPlaceNotFound = errors.New("geocode: place not found")

// Suggestion is one entry of an autocomplete result.
type Suggestion struct {
	Name string
	BBox coord.BBox
}

// Resolver is the place -> bbox/polygon/suggestions contract C8 consumes.
// Its three operations mirror §4.9 exactly: bbox_for_place,
// polygon_for_place, suggest.
type Resolver interface {
	// BBoxForPlace resolves a place name to a bbox, or ErrPlaceNotFound.
	BBoxForPlace(ctx context.Context, name string) (coord.BBox, error)
	// PolygonForPlace resolves a place name to a GeoJSON polygon
	// document, or ErrPlaceNotFound. The polygon is opaque to this
	// module: it is handed to the external map viewer collaborator, not
	// interpreted here.
	PolygonForPlace(ctx context.Context, name string) ([]byte, error)
	// Suggest returns up to limit place-name completions for partial.
	Suggest(ctx context.Context, partial string, limit int) ([]Suggestion, error)
}

// Unavailable is a Resolver that always reports ErrPlaceNotFound. It lets
// the orchestrator and CLI run in full when no geocoordinate lookup
// service is wired in, per §1 "treated as an opaque function
// place->bbox/polygon" — tilecellar depends on the contract, not a
// concrete implementation, and a deployment without the external service
// degrades to bbox-only and region-only requests instead of failing to
// start.
type Unavailable struct{}

func (Unavailable) BBoxForPlace(context.Context, string) (coord.BBox, error) {
	return coord.BBox{}, ErrPlaceNotFound
}

func (Unavailable) PolygonForPlace(context.Context, string) ([]byte, error) {
	return nil, ErrPlaceNotFound
}

func (Unavailable) Suggest(context.Context, string, int) ([]Suggestion, error) {
	return nil, nil
}
