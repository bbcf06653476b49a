package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vbonduro/placemap/internal/mapengine"
	"github.com/vbonduro/placemap/internal/mapengine/scene"
	"github.com/vbonduro/placemap/internal/route"
	"github.com/vbonduro/placemap/internal/service"
)

const maxMapBody = 4 << 10

// mapView is the map surface both views expose to the browser.
type mapView interface {
	Layout(width, height int) error
	ClickMap(pos mapengine.LatLng) error
	ClickMarker(markerID string) (bool, error)
	Scene() (scene.Snapshot, bool)
}

type sceneResponse struct {
	Route string          `json:"route"`
	Ready bool            `json:"ready"`
	Scene *scene.Snapshot `json:"scene,omitempty"`
}

type layoutRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) activeMap(w http.ResponseWriter) (mapView, bool) {
	v, ok := s.routes.Active().(mapView)
	if !ok {
		http.Error(w, "no active view", http.StatusServiceUnavailable)
	}
	return v, ok
}

func (s *Server) writeScene(w http.ResponseWriter, view mapView) {
	resp := sceneResponse{Route: s.routes.Current().String()}
	if sc, ok := view.Scene(); ok {
		resp.Ready = true
		resp.Scene = &sc
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	view, ok := s.activeMap(w)
	if !ok {
		return
	}
	s.writeScene(w, view)
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req layoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, ok := s.activeMap(w)
	if !ok {
		return
	}
	if err := view.Layout(req.Width, req.Height); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeScene(w, view)
}

func (s *Server) handleMapClick(w http.ResponseWriter, r *http.Request) {
	var pos mapengine.LatLng
	if !decodeJSON(w, r, &pos) {
		return
	}
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lng < -180 || pos.Lng > 180 {
		http.Error(w, "position out of range", http.StatusBadRequest)
		return
	}
	view, ok := s.activeMap(w)
	if !ok {
		return
	}
	if err := view.ClickMap(pos); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeScene(w, view)
}

func (s *Server) handleMarkerClick(w http.ResponseWriter, r *http.Request) {
	view, ok := s.activeMap(w)
	if !ok {
		return
	}
	found, err := view.ClickMarker(r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	s.writeScene(w, view)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	target := route.Parse(r.FormValue("route"))
	s.routes.Navigate(target)

	location := "/explore"
	if target == route.RouteAdmin {
		location = "/admin"
	}
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func (s *Server) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNoMap):
		http.Error(w, "map not laid out yet", http.StatusConflict)
	case errors.Is(err, service.ErrClosed):
		http.Error(w, "view changed, retry", http.StatusConflict)
	default:
		http.Error(w, "map error", http.StatusInternalServerError)
		s.logger.Error("map error", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMapBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
