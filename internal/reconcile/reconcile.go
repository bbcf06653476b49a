// Package reconcile keeps a map engine's marker set equal to a logical set of
// catalog entries. The Reconciler is the only owner of the handles it creates and
// removes each of them exactly once.
package reconcile

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/mapengine"
)

var errNilHandle = errors.New("engine returned a nil marker")

// Stats counts the engine operations issued by one pass.
type Stats struct {
	Added    int
	Removed  int
	Replaced int
	Skipped  int
	Failed   int
}

// Changed reports whether the pass touched the engine.
func (s Stats) Changed() bool {
	return s.Added+s.Removed+s.Replaced > 0
}

// signature is everything that affects how a marker is drawn. A marker is only
// rebuilt when its signature changes.
type signature struct {
	pos   mapengine.LatLng
	style mapengine.Style
	title string
	popup string
}

type tracked struct {
	handle mapengine.Marker
	sig    signature
}

type Reconciler struct {
	engine    mapengine.Engine
	onSelect  func(domain.Key)
	logger    *slog.Logger
	markers   map[domain.Key]*tracked
	placement mapengine.Marker
	closed    bool
}

// New creates a Reconciler drawing onto engine. onSelect runs when a catalog
// marker is clicked.
func New(engine mapengine.Engine, onSelect func(domain.Key), logger *slog.Logger) *Reconciler {
	return &Reconciler{
		engine:   engine,
		onSelect: onSelect,
		logger:   logger,
		markers:  make(map[domain.Key]*tracked),
	}
}

// Reconcile makes the engine show exactly the entries with finite coordinates.
// editing, when non-nil, is drawn with the editing style.
func (r *Reconciler) Reconcile(entries []domain.Entry, editing *domain.Key) Stats {
	var stats Stats
	if r.closed {
		return stats
	}

	desired := make(map[domain.Key]domain.Entry, len(entries))
	order := make([]domain.Key, 0, len(entries))
	for _, e := range entries {
		key := e.Key()
		if _, dup := desired[key]; dup {
			continue
		}
		if !e.HasCoordinates() {
			stats.Skipped++
			continue
		}
		desired[key] = e
		order = append(order, key)
	}

	for key, t := range r.markers {
		if _, keep := desired[key]; keep {
			continue
		}
		r.engine.RemoveMarker(t.handle)
		delete(r.markers, key)
		stats.Removed++
	}

	for _, key := range order {
		e := desired[key]
		isEditing := editing != nil && *editing == key
		sig, err := r.signatureFor(e, isEditing)
		if err != nil {
			r.logger.Error("failed to render popup", "key", key.String(), "error", err)
			stats.Failed++
			continue
		}

		if t, ok := r.markers[key]; ok {
			if t.sig == sig {
				continue
			}
			r.engine.RemoveMarker(t.handle)
			delete(r.markers, key)
			if r.add(key, sig) {
				stats.Replaced++
			} else {
				stats.Removed++
				stats.Failed++
			}
			continue
		}

		if r.add(key, sig) {
			stats.Added++
		} else {
			stats.Failed++
		}
	}

	if stats.Changed() || stats.Failed > 0 {
		r.logger.Debug("markers reconciled",
			"added", stats.Added,
			"removed", stats.Removed,
			"replaced", stats.Replaced,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
			"total", len(r.markers),
		)
	}
	return stats
}

func (r *Reconciler) signatureFor(e domain.Entry, editing bool) (signature, error) {
	popup, err := renderPopup(e)
	if err != nil {
		return signature{}, err
	}
	style := mapengine.StyleArtisan
	if e.Kind == domain.KindPlace {
		style = mapengine.StylePlace
	}
	if editing {
		style = mapengine.StyleEditing
	}
	return signature{
		pos:   mapengine.LatLng{Lat: e.Latitude, Lng: e.Longitude},
		style: style,
		title: e.Name,
		popup: popup,
	}, nil
}

func (r *Reconciler) add(key domain.Key, sig signature) bool {
	handle, err := r.engine.AddMarker(mapengine.MarkerOptions{
		Position: sig.pos,
		Style:    sig.style,
		Title:    sig.title,
		Popup:    sig.popup,
		OnClick:  func() { r.selected(key) },
	})
	if err == nil && handle == nil {
		err = errNilHandle
	}
	if err != nil {
		r.logger.Warn("marker creation skipped", "key", key.String(), "error", err)
		return false
	}
	r.markers[key] = &tracked{handle: handle, sig: sig}
	return true
}

func (r *Reconciler) selected(key domain.Key) {
	if r.closed || r.onSelect == nil {
		return
	}
	if _, ok := r.markers[key]; !ok {
		return
	}
	r.onSelect(key)
}

// SetPlacement shows the draft position marker. It is created on the first
// coordinate pair, moved on later ones and removed when either coordinate is nil.
func (r *Reconciler) SetPlacement(lat, lng *float64) {
	if r.closed {
		return
	}
	if lat == nil || lng == nil {
		r.ClearPlacement()
		return
	}
	pos := mapengine.LatLng{Lat: *lat, Lng: *lng}
	if r.placement != nil {
		r.engine.MoveMarker(r.placement, pos)
		return
	}
	handle, err := r.engine.AddMarker(mapengine.MarkerOptions{
		Position: pos,
		Style:    mapengine.StylePlacement,
		Title:    "Nueva ubicación",
	})
	if err == nil && handle == nil {
		err = errNilHandle
	}
	if err != nil {
		r.logger.Warn("placement marker skipped", "error", err)
		return
	}
	r.placement = handle
}

func (r *Reconciler) ClearPlacement() {
	if r.placement == nil {
		return
	}
	r.engine.RemoveMarker(r.placement)
	r.placement = nil
}

// HasPlacement reports whether the placement marker is on the map.
func (r *Reconciler) HasPlacement() bool {
	return r.placement != nil
}

// Keys returns the reconciled keys in a stable order.
func (r *Reconciler) Keys() []domain.Key {
	keys := make([]domain.Key, 0, len(r.markers))
	for k := range r.markers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

// Close removes every handle still owned by the Reconciler. It is safe to call
// more than once.
func (r *Reconciler) Close() {
	if r.closed {
		return
	}
	for key, t := range r.markers {
		r.engine.RemoveMarker(t.handle)
		delete(r.markers, key)
	}
	r.ClearPlacement()
	r.closed = true
}
