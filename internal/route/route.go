// Package route decides which view is active. Only one view exists at a time:
// switching routes tears the old one down before the new one is built.
package route

import (
	"log/slog"
	"strings"
	"sync"
)

type Route int

const (
	RoutePublic Route = iota
	RouteAdmin
)

const adminPath = "super-admin"

func (r Route) String() string {
	if r == RouteAdmin {
		return "admin"
	}
	return "public"
}

// Fragment is the canonical location fragment for r.
func (r Route) Fragment() string {
	if r == RouteAdmin {
		return "#/" + adminPath
	}
	return "#/"
}

// Parse maps a location fragment or path to a route. "#/super-admin",
// "#super-admin" and "/super-admin" select the admin view; anything else is public.
func Parse(fragment string) Route {
	f := strings.TrimSpace(fragment)
	f = strings.TrimPrefix(f, "#")
	f = strings.TrimPrefix(f, "/")
	f = strings.TrimSuffix(f, "/")
	if f == adminPath {
		return RouteAdmin
	}
	return RoutePublic
}

// View is anything that owns resources for the lifetime of a route.
type View interface {
	Close()
}

// Factory builds the view for a route.
type Factory func(Route) View

type Selector struct {
	mu        sync.Mutex
	factory   Factory
	logger    *slog.Logger
	current   Route
	active    View
	listeners map[int]func(Route)
	nextID    int
	closed    bool
}

// NewSelector builds the view for initial immediately.
func NewSelector(initial Route, factory Factory, logger *slog.Logger) *Selector {
	return &Selector{
		factory:   factory,
		logger:    logger,
		current:   initial,
		active:    factory(initial),
		listeners: make(map[int]func(Route)),
	}
}

// Navigate switches to r. It returns false when r is already current, in which
// case the active view and its state are left untouched.
func (s *Selector) Navigate(r Route) bool {
	s.mu.Lock()
	if s.closed || r == s.current {
		s.mu.Unlock()
		return false
	}
	prev := s.current
	if s.active != nil {
		s.active.Close()
	}
	s.current = r
	s.active = s.factory(r)
	listeners := make([]func(Route), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	s.logger.Info("route changed", "from", prev.String(), "to", r.String())
	for _, fn := range listeners {
		fn(r)
	}
	return true
}

// Subscribe registers fn for route changes and returns a function that removes it.
func (s *Selector) Subscribe(fn func(Route)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Selector) Current() Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Active returns the live view, or nil after Close.
func (s *Selector) Active() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close tears down the active view. Later navigation is ignored.
func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.active != nil {
		s.active.Close()
		s.active = nil
	}
	s.listeners = map[int]func(Route){}
}
