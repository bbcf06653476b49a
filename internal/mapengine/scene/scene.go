// Package scene is a retained-mode mapengine.Engine. It keeps the marker set,
// camera and layout state in memory so the browser can mirror it onto a tile map,
// and routes browser clicks back to the registered callbacks.
package scene

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vbonduro/placemap/internal/mapengine"
)

type marker struct {
	id   string
	opts mapengine.MarkerOptions
}

func (m *marker) ID() string { return m.id }

// MarkerView is the serialisable form of one marker.
type MarkerView struct {
	ID       string           `json:"id"`
	Position mapengine.LatLng `json:"position"`
	Style    mapengine.Style  `json:"style"`
	Title    string           `json:"title"`
	Popup    string           `json:"popup,omitempty"`
}

// Snapshot is the full surface state.
type Snapshot struct {
	Center    mapengine.LatLng `json:"center"`
	Zoom      int              `json:"zoom"`
	Markers   []MarkerView     `json:"markers"`
	Layouts   int              `json:"layouts"`
	Destroyed bool             `json:"destroyed"`
}

// Counters exposes lifecycle totals so callers can verify handle ownership.
type Counters struct {
	Added      int
	Removed    int
	Moved      int
	FlyTos     int
	BadRemoves int
}

type Engine struct {
	mu        sync.Mutex
	seq       int
	markers   map[string]*marker
	center    mapengine.LatLng
	zoom      int
	layouts   int
	destroyed bool
	onClick   []func(mapengine.LatLng)
	counters  Counters
}

// New creates an engine centred on center.
func New(center mapengine.LatLng, zoom int) *Engine {
	return &Engine{
		markers: make(map[string]*marker),
		center:  center,
		zoom:    zoom,
	}
}

// NewFactory adapts New to mapengine.Factory. Each created engine is also passed
// to observe, when non-nil, so the owner can reach scene-specific methods.
func NewFactory(observe func(*Engine)) mapengine.Factory {
	return func(center mapengine.LatLng, zoom int) (mapengine.Engine, error) {
		e := New(center, zoom)
		if observe != nil {
			observe(e)
		}
		return e, nil
	}
}

func (e *Engine) AddMarker(opts mapengine.MarkerOptions) (mapengine.Marker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, mapengine.ErrDestroyed
	}
	e.seq++
	m := &marker{id: fmt.Sprintf("m%d", e.seq), opts: opts}
	e.markers[m.id] = m
	e.counters.Added++
	return m, nil
}

func (e *Engine) RemoveMarker(h mapengine.Marker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		e.counters.BadRemoves++
		return
	}
	if _, ok := e.markers[h.ID()]; !ok {
		e.counters.BadRemoves++
		return
	}
	delete(e.markers, h.ID())
	e.counters.Removed++
}

func (e *Engine) MoveMarker(h mapengine.Marker, pos mapengine.LatLng) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		return
	}
	if m, ok := e.markers[h.ID()]; ok {
		m.opts.Position = pos
		e.counters.Moved++
	}
}

func (e *Engine) OnClick(fn func(mapengine.LatLng)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClick = append(e.onClick, fn)
}

func (e *Engine) FlyTo(pos mapengine.LatLng, zoom int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.center = pos
	e.zoom = zoom
	e.counters.FlyTos++
}

func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layouts++
}

func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
	e.onClick = nil
}

// Click delivers a map click to every registered listener. Listeners run without
// the engine lock held.
func (e *Engine) Click(pos mapengine.LatLng) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	listeners := append([]func(mapengine.LatLng){}, e.onClick...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(pos)
	}
}

// ClickMarker runs the click callback of marker id. It reports false when the
// marker does not exist.
func (e *Engine) ClickMarker(id string) bool {
	e.mu.Lock()
	m, ok := e.markers[id]
	if !ok || e.destroyed {
		e.mu.Unlock()
		return false
	}
	fn := m.opts.OnClick
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]MarkerView, 0, len(e.markers))
	for _, m := range e.markers {
		views = append(views, MarkerView{
			ID:       m.id,
			Position: m.opts.Position,
			Style:    m.opts.Style,
			Title:    m.opts.Title,
			Popup:    m.opts.Popup,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	return Snapshot{
		Center:    e.center,
		Zoom:      e.zoom,
		Markers:   views,
		Layouts:   e.layouts,
		Destroyed: e.destroyed,
	}
}

func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// Len is the number of live markers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.markers)
}
