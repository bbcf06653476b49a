package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vbonduro/placemap/internal/catalog"
	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/mapengine"
	"github.com/vbonduro/placemap/internal/mapengine/scene"
	"github.com/vbonduro/placemap/internal/metrics"
	"github.com/vbonduro/placemap/internal/reconcile"
	"github.com/vbonduro/placemap/internal/selection"
)

// FallbackWarning is shown when the catalog service could not be reached.
const FallbackWarning = "The catalog service is unavailable; showing sample data."

// catalogSource is the subset of gateway.Client that ExplorerService requires.
type catalogSource interface {
	ListArtisans(ctx context.Context) (json.RawMessage, error)
	ListPlaces(ctx context.Context, token string) (json.RawMessage, error)
}

// ExplorerSnapshot is what the public page renders.
type ExplorerSnapshot struct {
	Query   string
	Results []domain.Entry
	Total   int
	Focused *domain.Entry
	Warning string
	Loaded  bool
}

// ExplorerService is the public view: the whole catalog, a search box and a map
// that follows the search results.
type ExplorerService struct {
	catalog catalogSource
	logger  *slog.Logger

	mu        sync.Mutex
	closed    bool
	loaded    bool
	entries   []domain.Entry
	query     string
	view      []domain.Entry
	warning   string
	selection *selection.Machine
	surface   surface
}

func NewExplorerService(source catalogSource, newEngine mapengine.Factory, logger *slog.Logger) *ExplorerService {
	return &ExplorerService{
		catalog:   source,
		logger:    logger,
		selection: selection.New(nil),
		surface:   surface{newEngine: newEngine},
	}
}

// Load fetches artisans and places concurrently. If either call fails, or either
// body is not a JSON array, the sample catalog is shown with a warning. Results
// that arrive after Close are dropped.
func (s *ExplorerService) Load(ctx context.Context) error {
	var (
		wg                  sync.WaitGroup
		artisans, places    json.RawMessage
		artisanErr, placErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		artisans, artisanErr = s.catalog.ListArtisans(ctx)
	}()
	go func() {
		defer wg.Done()
		places, placErr = s.catalog.ListPlaces(ctx, "")
	}()
	wg.Wait()

	var (
		entries []domain.Entry
		warning string
		source  = "service"
	)
	err := errors.Join(artisanErr, placErr)
	if err == nil {
		// a body that is not an array is a malformed response, same as a transport error
		entries, err = catalog.AggregateRaw(artisans, places, s.logger)
	}
	if err != nil {
		s.logger.Warn("catalog load failed, using sample data", "error", err)
		entries = catalog.Fallback()
		warning = FallbackWarning
		source = "fallback"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("catalog load discarded, view closed")
		return ErrClosed
	}
	s.entries = entries
	s.warning = warning
	s.loaded = true
	s.refreshLocked()
	metrics.RecordCatalogLoad("public", source)
	s.logger.Info("catalog loaded", "source", source, "entries", len(entries))
	return nil
}

// NeedsLoad reports whether the catalog was never loaded or is still the sample
// data from a failed load.
func (s *ExplorerService) NeedsLoad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && (!s.loaded || s.warning != "")
}

// Search filters the catalog. Focus is dropped if the focused entry is filtered out.
func (s *ExplorerService) Search(query string) ExplorerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.query = query
		s.refreshLocked()
	}
	return s.snapshotLocked()
}

// Focus selects an entry of the current results and flies the map to it.
func (s *ExplorerService) Focus(key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.focusLocked(key)
}

func (s *ExplorerService) focusLocked(key domain.Key) error {
	for _, e := range s.view {
		if e.Key() == key {
			s.selection.Focus(e)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotInView, key)
}

// Layout reports the map container size. The map is created on the first call with
// a usable size; later calls re-lay it out only when the size actually changed.
func (s *ExplorerService) Layout(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	created, err := s.surface.layout(width, height, s.buildReconciler, selection.DefaultCenter, selection.DefaultZoom)
	if err != nil {
		return fmt.Errorf("failed to create map: %w", err)
	}
	if created {
		s.selection.SetCamera(s.surface.engine)
		s.reconcileLocked()
		s.logger.Info("map created", "width", width, "height", height)
	}
	return nil
}

func (s *ExplorerService) buildReconciler(engine mapengine.Engine) *reconcile.Reconciler {
	return reconcile.New(engine, func(key domain.Key) {
		// runs from ClickMarker, with s.mu held
		if err := s.focusLocked(key); err != nil {
			s.logger.Debug("marker click ignored", "key", key.String(), "error", err)
		}
	}, s.logger)
}

// ClickMarker forwards a marker click from the browser.
func (s *ExplorerService) ClickMarker(markerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.surface.clickMarker(markerID)
}

// ClickMap forwards a click on the map background. The public view ignores it
// beyond delivering it to the engine.
func (s *ExplorerService) ClickMap(pos mapengine.LatLng) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.surface.click(pos)
}

// Scene returns the map surface, or false before the first layout.
func (s *ExplorerService) Scene() (scene.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.snapshot()
}

func (s *ExplorerService) Snapshot() ExplorerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ExplorerService) snapshotLocked() ExplorerSnapshot {
	snap := ExplorerSnapshot{
		Query:   s.query,
		Results: append([]domain.Entry(nil), s.view...),
		Total:   len(s.entries),
		Warning: s.warning,
		Loaded:  s.loaded,
	}
	if key, ok := s.selection.Focused(); ok {
		for _, e := range s.view {
			if e.Key() == key {
				snap.Focused = &e
				break
			}
		}
	}
	return snap
}

// Close removes every marker and destroys the map. Later loads are discarded.
func (s *ExplorerService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.surface.destroy()
	s.selection.Clear()
	s.logger.Debug("explorer view closed")
}

func (s *ExplorerService) refreshLocked() {
	s.view = catalog.Filter(s.entries, s.query)
	if s.selection.Sync(s.view) {
		s.logger.Debug("focus cleared, entry filtered out")
	}
	s.reconcileLocked()
}

func (s *ExplorerService) reconcileLocked() {
	if s.surface.reconciler == nil {
		return
	}
	stats := s.surface.reconciler.Reconcile(s.view, nil)
	metrics.RecordMarkers(stats.Added, stats.Removed, stats.Replaced, stats.Failed)
}
