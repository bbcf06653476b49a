package selection

import (
	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/mapengine"
)

const (
	// DefaultZoom frames the whole region.
	DefaultZoom = 8
	// FocusZoom is used when flying to a single item.
	FocusZoom = 14
)

// DefaultCenter is the Huasteca Hidalguense overview.
var DefaultCenter = mapengine.LatLng{Lat: 20.14, Lng: -98.67}

// Camera is the part of the map engine selection drives.
type Camera interface {
	FlyTo(pos mapengine.LatLng, zoom int)
}

// Machine tracks the focused catalog entry. It is either empty or focused on a
// key that is present in the current filtered view.
type Machine struct {
	camera  Camera
	focused domain.Key
	active  bool
}

// New returns an empty machine. camera may be nil until the engine exists.
func New(camera Camera) *Machine {
	return &Machine{camera: camera}
}

// SetCamera attaches the engine once it has been created.
func (m *Machine) SetCamera(c Camera) {
	m.camera = c
}

// Focus moves to focused(entry) and flies the camera there. Focusing the key that
// is already focused is not a transition and does not move the camera.
func (m *Machine) Focus(entry domain.Entry) bool {
	key := entry.Key()
	if m.active && m.focused == key {
		return false
	}
	m.focused = key
	m.active = true
	if m.camera != nil && entry.HasCoordinates() {
		m.camera.FlyTo(mapengine.LatLng{Lat: entry.Latitude, Lng: entry.Longitude}, FocusZoom)
	}
	return true
}

// Sync must run after every catalog or filter update. It drops the focus when
// the focused key left the view and reports whether that happened.
func (m *Machine) Sync(view []domain.Entry) bool {
	if !m.active {
		return false
	}
	for _, e := range view {
		if e.Key() == m.focused {
			return false
		}
	}
	m.Clear()
	return true
}

func (m *Machine) Clear() {
	m.focused = domain.Key{}
	m.active = false
}

func (m *Machine) Focused() (domain.Key, bool) {
	return m.focused, m.active
}
