package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/mapengine"
	"github.com/vbonduro/placemap/internal/mapengine/scene"
)

var errOffline = errors.New("dial tcp: connection refused")

const (
	artisansJSON = `[
		{"id":1,"name":"Taller de Barro Negro","category":"alfarería","latitude":20.21,"longitude":-98.74},
		{"id":2,"name":"Cestería Xochicoatlán","category":"fibras","latitude":20.77,"longitude":-98.68}
	]`
	placesJSON = `[
		{"id":7,"name":"Cascada El Salto","type":"natural","latitude":21.1,"longitude":-99.2},
		{"id":9,"name":"Mirador de Barro","type":"mirador","latitude":"20.5","longitude":"-98.9"}
	]`
)

// stubGateway serves canned documents. Every field may be changed between calls.
type stubGateway struct {
	mu          sync.Mutex
	artisans    json.RawMessage
	places      json.RawMessage
	listErr     error
	artisanHold chan struct{}
	placesHold  chan struct{}
	token       string
	loginErr    error
	mutateErr   error
	nextID      int64
	placeCalls  int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		artisans: json.RawMessage(artisansJSON),
		places:   json.RawMessage(placesJSON),
		token:    "tok-1",
		nextID:   500,
	}
}

func (g *stubGateway) ListArtisans(context.Context) (json.RawMessage, error) {
	g.mu.Lock()
	artisans, err, hold := g.artisans, g.listErr, g.artisanHold
	g.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}
	return artisans, nil
}

func (g *stubGateway) ListPlaces(context.Context, string) (json.RawMessage, error) {
	g.mu.Lock()
	g.placeCalls++
	places, err, hold := g.places, g.listErr, g.placesHold
	g.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}
	return places, nil
}

func (g *stubGateway) Login(context.Context, string, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token, g.loginErr
}

func (g *stubGateway) echo(item domain.Item) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"id": item.ID, "name": item.Name, "type": item.Category,
		"latitude": item.Latitude, "longitude": item.Longitude,
	})
}

func (g *stubGateway) CreatePlace(_ context.Context, _, _ string, item domain.Item) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mutateErr != nil {
		return nil, g.mutateErr
	}
	g.nextID++
	item.ID = g.nextID
	return g.echo(item)
}

func (g *stubGateway) UpdatePlace(_ context.Context, _, _ string, id int64, item domain.Item) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mutateErr != nil {
		return nil, g.mutateErr
	}
	item.ID = id
	return g.echo(item)
}

func (g *stubGateway) DeletePlace(context.Context, string, string, int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mutateErr
}

func (g *stubGateway) set(fn func(g *stubGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

// engines records every engine a factory creates.
type engines struct {
	mu    sync.Mutex
	built []*scene.Engine
}

func (e *engines) factory() mapengine.Factory {
	return scene.NewFactory(func(en *scene.Engine) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.built = append(e.built, en)
	})
}

func (e *engines) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.built)
}

func (e *engines) last() *scene.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.built) == 0 {
		return nil
	}
	return e.built[len(e.built)-1]
}

func markerID(t *testing.T, en *scene.Engine, title string) string {
	for _, m := range en.Snapshot().Markers {
		if m.Title == title {
			return m.ID
		}
	}
	t.Helper()
	t.Fatalf("no marker titled %q", title)
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
