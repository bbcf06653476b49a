package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/mutation"
	"github.com/vbonduro/placemap/internal/route"
	"github.com/vbonduro/placemap/internal/service"
	"github.com/vbonduro/placemap/internal/session"
)

const maxJournalRows = 200

func (s *Server) adminView(w http.ResponseWriter) (*service.AdminService, bool) {
	s.routes.Navigate(route.RouteAdmin)
	v, ok := s.routes.Active().(*service.AdminService)
	if !ok {
		http.Error(w, "view changed, retry", http.StatusConflict)
	}
	return v, ok
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	view, ok := s.adminView(w)
	if !ok {
		return
	}
	if err := s.renderPage(w, http.StatusOK,
		map[string]any{"Snap": view.Snapshot(), "ActiveNav": "admin"},
		"base.html", "pages/admin.html", "partials/admin_panel.html",
	); err != nil {
		s.logger.Error("render page error", "error", err)
	}
}

// renderPanel answers an admin action with the refreshed panel.
func (s *Server) renderPanel(w http.ResponseWriter, status int, view *service.AdminService, loginError string) {
	data := map[string]any{"Snap": view.Snapshot(), "LoginError": loginError}
	if err := s.renderPartial(w, status, "partials/admin_panel.html", data); err != nil {
		s.logger.Error("render partial error", "error", err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	view, ok := s.adminView(w)
	if !ok {
		return
	}

	err := view.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	switch {
	case err == nil:
		s.renderPanel(w, http.StatusOK, view, "")
	case errors.Is(err, session.ErrInvalidCredentials):
		s.renderPanel(w, http.StatusUnauthorized, view, "Invalid email or password.")
	case errors.Is(err, session.ErrMissingCredentials):
		s.renderPanel(w, http.StatusBadRequest, view, "Email and password are required.")
	case errors.Is(err, session.ErrAlreadyAuthenticated), errors.Is(err, session.ErrLoginInProgress):
		s.renderPanel(w, http.StatusConflict, view, "")
	default:
		s.logger.Warn("login failed", "error", err)
		s.renderPanel(w, http.StatusBadGateway, view, "The login service is unavailable.")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	view, ok := s.adminView(w)
	if !ok {
		return
	}
	view.Logout()
	s.renderPanel(w, http.StatusOK, view, "")
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	view, ok := s.adminView(w)
	if !ok {
		return
	}
	if !requireSession(w, view) {
		return
	}

	err := view.SetDraft(draftForm(r))
	status := http.StatusOK
	var fe domain.FieldErrors
	if errors.As(err, &fe) {
		status = http.StatusUnprocessableEntity
	}
	s.renderPanel(w, status, view, "")
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	view, ok := s.adminView(w)
	if !ok {
		return
	}
	if !requireSession(w, view) {
		return
	}
	if err := view.Edit(id); err != nil {
		if errors.Is(err, mutation.ErrUnknownPlace) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "edit failed", http.StatusInternalServerError)
		s.logger.Error("edit error", "place_id", id, "error", err)
		return
	}
	s.renderPanel(w, http.StatusOK, view, "")
}

func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	view, ok := s.adminView(w)
	if !ok {
		return
	}
	view.CancelEdit()
	s.renderPanel(w, http.StatusOK, view, "")
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	view, ok := s.adminView(w)
	if !ok {
		return
	}
	if !requireSession(w, view) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if len(r.PostForm) > 0 {
		// fields submitted with the button win over the stored draft
		if err := view.SetDraft(draftForm(r)); err != nil {
			s.renderPanel(w, http.StatusUnprocessableEntity, view, "")
			return
		}
	}

	_, err := view.Submit(r.Context())
	var fe domain.FieldErrors
	switch {
	case err == nil:
		s.renderPanel(w, http.StatusOK, view, "")
	case errors.As(err, &fe):
		s.renderPanel(w, http.StatusUnprocessableEntity, view, "")
	case errors.Is(err, mutation.ErrNoSession):
		s.renderPanel(w, http.StatusUnauthorized, view, "")
	case errors.Is(err, mutation.ErrUnknownPlace):
		s.renderPanel(w, http.StatusNotFound, view, "")
	default:
		s.logger.Warn("submit dropped", "error", err)
		s.renderPanel(w, http.StatusConflict, view, "")
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	view, ok := s.adminView(w)
	if !ok {
		return
	}
	if !requireSession(w, view) {
		return
	}

	confirmed := r.URL.Query().Get("confirm") == "yes" || r.FormValue("confirm") == "yes"
	_, err = view.Delete(r.Context(), id, func(domain.Item) bool { return confirmed })
	switch {
	case err == nil:
		s.renderPanel(w, http.StatusOK, view, "")
	case errors.Is(err, mutation.ErrNotConfirmed):
		http.Error(w, "deletion must be confirmed", http.StatusBadRequest)
	case errors.Is(err, mutation.ErrUnknownPlace):
		http.NotFound(w, r)
	default:
		s.logger.Warn("delete dropped", "place_id", id, "error", err)
		s.renderPanel(w, http.StatusConflict, view, "")
	}
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	view, ok := s.routes.Active().(*service.AdminService)
	if !ok || view.Snapshot().State != session.StateAuthenticated {
		http.Error(w, "admin session required", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxJournalRows)
	}

	entries, err := s.journal.List(r.Context(), r.URL.Query().Get("outcome"), limit)
	if err != nil {
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		s.logger.Error("journal error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func requireSession(w http.ResponseWriter, view *service.AdminService) bool {
	if view.Snapshot().State != session.StateAuthenticated {
		http.Error(w, "admin session required", http.StatusUnauthorized)
		return false
	}
	return true
}

func draftForm(r *http.Request) service.DraftForm {
	return service.DraftForm{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Type:        r.FormValue("type"),
		PhotoURL:    r.FormValue("photo_url"),
		Latitude:    r.FormValue("latitude"),
		Longitude:   r.FormValue("longitude"),
	}
}
