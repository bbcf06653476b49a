package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/route"
	"github.com/vbonduro/placemap/internal/service"
)

// explorerView switches to the public route and returns its view. It fails only
// when a concurrent navigation replaced the view in between.
func (s *Server) explorerView(w http.ResponseWriter) (*service.ExplorerService, bool) {
	s.routes.Navigate(route.RoutePublic)
	v, ok := s.routes.Active().(*service.ExplorerService)
	if !ok {
		http.Error(w, "view changed, retry", http.StatusConflict)
	}
	return v, ok
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	view, ok := s.explorerView(w)
	if !ok {
		return
	}
	// a page load retries the service while sample data is shown
	if view.NeedsLoad() {
		if err := view.Load(r.Context()); err != nil {
			s.logger.Warn("explorer load dropped", "error", err)
		}
	}

	if err := s.renderPage(w, http.StatusOK,
		map[string]any{"Snap": view.Snapshot(), "ActiveNav": "explore"},
		"base.html", "pages/explore.html", "partials/results.html",
	); err != nil {
		s.logger.Error("render page error", "error", err)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	view, ok := s.explorerView(w)
	if !ok {
		return
	}
	if !view.Snapshot().Loaded {
		if err := view.Load(r.Context()); err != nil {
			s.logger.Warn("explorer load dropped", "error", err)
		}
	}
	snap := view.Search(r.URL.Query().Get("q"))

	// HTMX partial update: return only results fragment.
	if isHTMX(r) {
		if err := s.renderPartial(w, http.StatusOK, "partials/results.html", snap); err != nil {
			s.logger.Error("render partial error", "error", err)
		}
		return
	}

	if err := s.renderPage(w, http.StatusOK,
		map[string]any{"Snap": snap, "ActiveNav": "explore"},
		"base.html", "pages/explore.html", "partials/results.html",
	); err != nil {
		s.logger.Error("render page error", "error", err)
	}
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(r.PathValue("kind"))
	if err != nil {
		http.Error(w, "invalid kind", http.StatusBadRequest)
		return
	}
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	view, ok := s.explorerView(w)
	if !ok {
		return
	}

	if err := view.Focus(domain.Key{Kind: kind, ID: id}); err != nil {
		if errors.Is(err, service.ErrNotInView) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "focus failed", http.StatusInternalServerError)
		s.logger.Error("focus error", "error", err)
		return
	}

	if err := s.renderPartial(w, http.StatusOK, "partials/results.html", view.Snapshot()); err != nil {
		s.logger.Error("render partial error", "error", err)
	}
}

// parseID extracts the {id} path variable and returns it as int64.
func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
