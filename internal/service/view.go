package service

import (
	"errors"

	"github.com/vbonduro/placemap/internal/mapengine"
	"github.com/vbonduro/placemap/internal/mapengine/scene"
	"github.com/vbonduro/placemap/internal/reconcile"
)

var (
	// ErrClosed is returned when a view was torn down before an operation finished.
	ErrClosed = errors.New("service: view closed")
	// ErrStale is returned when a load finished for a session that has since ended.
	ErrStale = errors.New("service: result belongs to an older session")
	// ErrNotInView is returned when focusing a key the filtered view does not contain.
	ErrNotInView = errors.New("service: entry not in current view")
	// ErrNoMap is returned by map interactions before the first layout.
	ErrNoMap = errors.New("service: map not created yet")
)

// interactive engines accept clicks from outside, e.g. forwarded by the browser.
type interactive interface {
	Click(pos mapengine.LatLng)
	ClickMarker(id string) bool
}

// snapshotter engines can describe their full surface.
type snapshotter interface {
	Snapshot() scene.Snapshot
}

// surface is the lazily created engine of one view plus the reconciler drawing on it.
// Every method must be called with the owning view's lock held; engine callbacks
// therefore also run with that lock held.
type surface struct {
	newEngine  mapengine.Factory
	engine     mapengine.Engine
	reconciler *reconcile.Reconciler
	width      int
	height     int
}

// layout creates the engine on the first usable size and re-lays it out when the
// size changes. It reports whether the engine was created by this call.
func (s *surface) layout(width, height int, build func(mapengine.Engine) *reconcile.Reconciler, center mapengine.LatLng, zoom int) (bool, error) {
	if width <= 0 || height <= 0 {
		return false, nil
	}
	if s.engine == nil {
		engine, err := s.newEngine(center, zoom)
		if err != nil {
			return false, err
		}
		if engine == nil {
			return false, errors.New("map factory returned no engine")
		}
		s.engine = engine
		s.reconciler = build(engine)
		s.width, s.height = width, height
		return true, nil
	}
	if width == s.width && height == s.height {
		return false, nil
	}
	s.width, s.height = width, height
	s.engine.Invalidate()
	return false, nil
}

func (s *surface) click(pos mapengine.LatLng) error {
	c, ok := s.engine.(interactive)
	if !ok {
		return ErrNoMap
	}
	c.Click(pos)
	return nil
}

func (s *surface) clickMarker(id string) (bool, error) {
	c, ok := s.engine.(interactive)
	if !ok {
		return false, ErrNoMap
	}
	return c.ClickMarker(id), nil
}

func (s *surface) snapshot() (scene.Snapshot, bool) {
	sn, ok := s.engine.(snapshotter)
	if !ok {
		return scene.Snapshot{}, false
	}
	return sn.Snapshot(), true
}

// destroy removes every marker and disposes of the engine. Safe to repeat.
func (s *surface) destroy() {
	if s.reconciler != nil {
		s.reconciler.Close()
	}
	if s.engine != nil {
		s.engine.Destroy()
	}
}
