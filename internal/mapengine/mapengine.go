// Package mapengine defines the map rendering capability the views drive. The
// engine owns marker objects; callers hold them only as opaque handles and must
// give every handle back through RemoveMarker.
package mapengine

import "errors"

// ErrDestroyed is returned by engines that have already been destroyed.
var ErrDestroyed = errors.New("mapengine: engine destroyed")

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Style selects the visual treatment of a marker.
type Style string

const (
	StyleArtisan   Style = "artisan"
	StylePlace     Style = "place"
	StyleEditing   Style = "editing"
	StylePlacement Style = "placement"
)

type MarkerOptions struct {
	Position LatLng
	Style    Style
	Title    string
	// Popup is HTML shown when the marker is opened. Empty means no popup.
	Popup   string
	OnClick func()
}

// Marker is an engine-owned handle.
type Marker interface {
	ID() string
}

type Engine interface {
	AddMarker(opts MarkerOptions) (Marker, error)
	RemoveMarker(m Marker)
	MoveMarker(m Marker, pos LatLng)
	OnClick(fn func(LatLng))
	FlyTo(pos LatLng, zoom int)
	// Invalidate recomputes layout after the container changed size.
	Invalidate()
	Destroy()
}

// Factory creates an engine once the container has a layout.
type Factory func(center LatLng, zoom int) (Engine, error)
