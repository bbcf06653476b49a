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
	"github.com/vbonduro/placemap/internal/mutation"
	"github.com/vbonduro/placemap/internal/reconcile"
	"github.com/vbonduro/placemap/internal/selection"
	"github.com/vbonduro/placemap/internal/session"
)

// PlacesFallbackWarning is shown when the admin place list could not be loaded.
const PlacesFallbackWarning = "The place service is unavailable; showing sample places. Changes are kept locally."

// adminGateway is the subset of gateway.Client that AdminService requires.
type adminGateway interface {
	session.Authenticator
	mutation.PlaceGateway
	ListPlaces(ctx context.Context, token string) (json.RawMessage, error)
}

// DraftForm is the raw admin form input. Coordinates are free text.
type DraftForm struct {
	Name        string
	Description string
	Type        string
	PhotoURL    string
	Latitude    string
	Longitude   string
}

// AdminSnapshot is what the admin page renders.
type AdminSnapshot struct {
	State       session.State
	Demo        bool
	Loading     bool
	Places      []domain.Item
	Draft       domain.PlaceDraft
	Editing     *domain.Item
	Focused     *domain.Key
	FieldErrors domain.FieldErrors
	Warning     string
	Message     string
	Degraded    bool
}

// AdminService is the operator view: login, the place list, a draft form fed by
// map clicks and the create/update/delete pipeline.
type AdminService struct {
	gw       adminGateway
	session  *session.Machine
	pipeline *mutation.Pipeline
	logger   *slog.Logger
	loads    sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	loading   bool
	draft     domain.PlaceDraft
	editing   *int64
	fieldErrs domain.FieldErrors
	warning   string
	message   string
	degraded  bool
	selection *selection.Machine
	surface   surface
}

// NewAdminService builds a view with its own session. journal may be nil.
func NewAdminService(
	gw adminGateway,
	demo session.Credentials,
	journal mutation.Journal,
	newEngine mapengine.Factory,
	logger *slog.Logger,
) *AdminService {
	s := &AdminService{
		gw:        gw,
		logger:    logger,
		selection: selection.New(nil),
		surface:   surface{newEngine: newEngine},
	}
	s.session = session.New(gw, demo, logger)
	s.pipeline = mutation.New(gw, s.session, journal, logger)
	s.session.OnChange(s.sessionChanged)
	return s
}

// Login authenticates the operator. Success starts loading the place list in the
// background.
func (s *AdminService) Login(ctx context.Context, email, password string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.session.Login(ctx, email, password)
}

// Logout ends the session and drops everything that depended on it.
func (s *AdminService) Logout() {
	s.session.Logout()
}

func (s *AdminService) sessionChanged(state session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch state {
	case session.StateAuthenticated:
		s.loading = true
		gen := s.session.Generation()
		s.loads.Add(1)
		go func() {
			defer s.loads.Done()
			if err := s.load(context.Background(), gen); err != nil {
				s.logger.Debug("background place load dropped", "error", err)
			}
		}()
	case session.StateAnonymous:
		s.resetLocked()
	}
}

// Wait blocks until background loads started by Login have finished.
func (s *AdminService) Wait() {
	s.loads.Wait()
}

// Load fetches the place list with the session token. A failure keeps the session
// and shows sample places with a warning.
func (s *AdminService) Load(ctx context.Context) error {
	return s.load(ctx, s.session.Generation())
}

func (s *AdminService) load(ctx context.Context, gen uint64) error {
	token, ok := s.session.Token()
	if !ok {
		return mutation.ErrNoSession
	}

	var (
		items   []domain.Item
		warning string
		source  = "service"
	)
	raw, err := s.gw.ListPlaces(ctx, token)
	if err == nil {
		var skipped int
		items, skipped, err = catalog.ParseItems(raw)
		if skipped > 0 {
			s.logger.Warn("malformed places dropped", "skipped", skipped)
		}
	}
	if err != nil {
		s.logger.Warn("place load failed, using sample data", "error", err)
		items = catalog.FallbackPlaces()
		warning = PlacesFallbackWarning
		source = "fallback"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.session.Generation() != gen {
		return ErrStale
	}
	s.pipeline.Reset(items)
	s.loading = false
	s.warning = warning
	if s.editing != nil {
		if _, ok := s.pipeline.Find(*s.editing); !ok {
			s.editing = nil
		}
	}
	s.reconcileLocked()
	metrics.RecordCatalogLoad("admin", source)
	s.logger.Info("places loaded", "source", source, "places", len(items))
	return nil
}

// SetDraft stores the form input. Text fields are always kept; a coordinate that
// does not parse keeps its previous value and is reported in the returned
// domain.FieldErrors.
func (s *AdminService) SetDraft(form DraftForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.draft.Name = form.Name
	s.draft.Description = form.Description
	s.draft.Type = form.Type
	s.draft.PhotoURL = form.PhotoURL

	var errs domain.FieldErrors
	if lat, fe := domain.ParseCoordinate("latitude", form.Latitude); fe != nil {
		errs = append(errs, *fe)
	} else {
		s.draft.Latitude = lat
	}
	if lng, fe := domain.ParseCoordinate("longitude", form.Longitude); fe != nil {
		errs = append(errs, *fe)
	} else {
		s.draft.Longitude = lng
	}
	s.fieldErrs = errs
	s.placementLocked()
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// MapClick puts the draft at pos, as a click on the map background does.
func (s *AdminService) MapClick(pos mapengine.LatLng) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.placeLocked(pos)
	return nil
}

func (s *AdminService) placeLocked(pos mapengine.LatLng) {
	if s.session.State() != session.StateAuthenticated {
		return
	}
	s.draft.SetCoordinates(pos.Lat, pos.Lng)
	s.fieldErrs = nil
	s.placementLocked()
}

// Edit loads place id into the draft and highlights its marker.
func (s *AdminService) Edit(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	item, ok := s.pipeline.Find(id)
	if !ok {
		return fmt.Errorf("%w: %d", mutation.ErrUnknownPlace, id)
	}
	s.editing = &id
	s.draft = domain.DraftFromItem(item)
	s.fieldErrs = nil
	s.message = ""
	s.placementLocked()
	s.reconcileLocked()
	return nil
}

// CancelEdit discards the draft and leaves edit mode.
func (s *AdminService) CancelEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.clearDraftLocked()
	s.reconcileLocked()
}

// Submit creates the draft, or updates the place being edited. Validation
// failures keep the draft and are returned as domain.FieldErrors; gateway
// failures are not errors but degraded results.
func (s *AdminService) Submit(ctx context.Context) (mutation.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return mutation.Result{}, ErrClosed
	}
	draft := s.draft
	var editing *int64
	if s.editing != nil {
		id := *s.editing
		editing = &id
	}
	gen := s.session.Generation()
	s.mu.Unlock()

	var (
		res mutation.Result
		err error
	)
	if editing != nil {
		res, err = s.pipeline.Update(ctx, *editing, draft)
	} else {
		res, err = s.pipeline.Create(ctx, draft)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, ErrClosed
	}
	if err != nil {
		var fe domain.FieldErrors
		if errors.As(err, &fe) {
			s.fieldErrs = fe
		}
		return res, err
	}
	if s.session.Generation() != gen {
		return res, ErrStale
	}
	s.message = res.Message
	s.degraded = res.Degraded()
	s.clearDraftLocked()
	s.reconcileLocked()
	return res, nil
}

// Delete removes place id after confirm approves it.
func (s *AdminService) Delete(ctx context.Context, id int64, confirm mutation.ConfirmFunc) (mutation.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return mutation.Result{}, ErrClosed
	}
	gen := s.session.Generation()
	s.mu.Unlock()

	res, err := s.pipeline.Delete(ctx, id, confirm)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, ErrClosed
	}
	if err != nil {
		return res, err
	}
	if s.session.Generation() != gen {
		return res, ErrStale
	}
	if s.editing != nil && *s.editing == id {
		s.clearDraftLocked()
	}
	s.message = res.Message
	s.degraded = res.Degraded()
	s.reconcileLocked()
	return res, nil
}

// Layout reports the map container size; see ExplorerService.Layout.
func (s *AdminService) Layout(width, height int) error {
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
		// engine callbacks run from ClickMap and ClickMarker, with s.mu held
		s.surface.engine.OnClick(s.placeLocked)
		s.selection.SetCamera(s.surface.engine)
		s.reconcileLocked()
		s.placementLocked()
		s.logger.Info("admin map created", "width", width, "height", height)
	}
	return nil
}

func (s *AdminService) buildReconciler(engine mapengine.Engine) *reconcile.Reconciler {
	return reconcile.New(engine, func(key domain.Key) {
		for _, e := range s.entriesLocked() {
			if e.Key() == key {
				s.selection.Focus(e)
				return
			}
		}
	}, s.logger)
}

func (s *AdminService) ClickMap(pos mapengine.LatLng) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.surface.click(pos)
}

func (s *AdminService) ClickMarker(markerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.surface.clickMarker(markerID)
}

// Scene returns the map surface, or false before the first layout.
func (s *AdminService) Scene() (scene.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.snapshot()
}

func (s *AdminService) Snapshot() AdminSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := AdminSnapshot{
		State:       s.session.State(),
		Demo:        s.session.IsDemo(),
		Loading:     s.loading,
		Places:      s.pipeline.Places(),
		Draft:       s.draft,
		FieldErrors: s.fieldErrs,
		Warning:     s.warning,
		Message:     s.message,
		Degraded:    s.degraded,
	}
	if s.editing != nil {
		if item, ok := s.pipeline.Find(*s.editing); ok {
			snap.Editing = &item
		}
	}
	if key, ok := s.selection.Focused(); ok {
		snap.Focused = &key
	}
	return snap
}

// Close removes every marker, including the placement marker, and destroys the map.
// Loads and mutations still in flight finish without touching the view.
func (s *AdminService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.surface.destroy()
	s.selection.Clear()
	s.logger.Debug("admin view closed")
}

func (s *AdminService) resetLocked() {
	s.pipeline.Reset(nil)
	s.clearDraftLocked()
	s.loading = false
	s.warning = ""
	s.message = ""
	s.degraded = false
	s.reconcileLocked()
}

func (s *AdminService) clearDraftLocked() {
	s.draft = domain.PlaceDraft{}
	s.editing = nil
	s.fieldErrs = nil
	if s.surface.reconciler != nil {
		s.surface.reconciler.ClearPlacement()
	}
}

func (s *AdminService) placementLocked() {
	if s.surface.reconciler != nil {
		s.surface.reconciler.SetPlacement(s.draft.Latitude, s.draft.Longitude)
	}
}

func (s *AdminService) entriesLocked() []domain.Entry {
	places := s.pipeline.Places()
	entries := make([]domain.Entry, 0, len(places))
	for _, p := range places {
		entries = append(entries, domain.Entry{Kind: domain.KindPlace, Item: p})
	}
	return entries
}

func (s *AdminService) reconcileLocked() {
	entries := s.entriesLocked()
	s.selection.Sync(entries)
	if s.surface.reconciler == nil {
		return
	}
	var editing *domain.Key
	if s.editing != nil {
		editing = &domain.Key{Kind: domain.KindPlace, ID: *s.editing}
	}
	stats := s.surface.reconciler.Reconcile(entries, editing)
	metrics.RecordMarkers(stats.Added, stats.Removed, stats.Replaced, stats.Failed)
}
