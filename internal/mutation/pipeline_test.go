package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/placemap/internal/db"
	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/store"
)

var errOffline = errors.New("connection refused")

type call struct {
	op   string
	id   int64
	key  string
	item domain.Item
}

// stubGateway answers with echo (or err) and records every call.
type stubGateway struct {
	mu    sync.Mutex
	calls []call
	echo  func(item domain.Item) json.RawMessage
	err   error
	// hold, when set for an update id, blocks that update until closed.
	hold map[int64]chan struct{}
}

func (g *stubGateway) record(c call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *stubGateway) Calls() []call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]call(nil), g.calls...)
}

func (g *stubGateway) reply(item domain.Item) json.RawMessage {
	if g.echo == nil {
		b, _ := json.Marshal(map[string]any{
			"id": item.ID, "name": item.Name, "description": item.Description,
			"type": item.Category, "latitude": item.Latitude, "longitude": item.Longitude,
		})
		return b
	}
	return g.echo(item)
}

func (g *stubGateway) CreatePlace(_ context.Context, _, key string, item domain.Item) (json.RawMessage, error) {
	g.record(call{op: OpCreate, key: key, item: item})
	if g.err != nil {
		return nil, g.err
	}
	item.ID = 100
	return g.reply(item), nil
}

func (g *stubGateway) UpdatePlace(_ context.Context, _, key string, id int64, item domain.Item) (json.RawMessage, error) {
	g.record(call{op: OpUpdate, id: id, key: key, item: item})
	g.mu.Lock()
	ch, ok := g.hold[id]
	g.mu.Unlock()
	if ok {
		<-ch
	}
	if g.err != nil {
		return nil, g.err
	}
	item.ID = id
	return g.reply(item), nil
}

func (g *stubGateway) DeletePlace(_ context.Context, _, key string, id int64) error {
	g.record(call{op: OpDelete, id: id, key: key})
	return g.err
}

type staticToken string

func (s staticToken) Token() (string, bool) { return string(s), s != "" }

func newTestPipeline(t *testing.T, gw *stubGateway, token string) (*Pipeline, *store.JournalStore) {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	journal := store.NewJournalStore(d)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(gw, staticToken(token), journal, logger), journal
}

func draft(name string, lat, lng float64) domain.PlaceDraft {
	d := domain.PlaceDraft{Name: name, Type: "mirador"}
	d.SetCoordinates(lat, lng)
	return d
}

func seed() []domain.Item {
	return []domain.Item{
		{ID: 7, Name: "Cascada El Salto", Category: "natural", Latitude: 21.1, Longitude: -99.2},
		{ID: 9, Name: "Sótano de las Golondrinas", Category: "natural", Latitude: 21.6, Longitude: -99.1},
	}
}

func TestCreateConfirmed(t *testing.T) {
	gw := &stubGateway{}
	p, journal := newTestPipeline(t, gw, "tok")

	res, err := p.Create(context.Background(), draft("  Mirador  ", 21.0, -98.5))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(100), res.Item.ID)
	assert.Equal(t, "Mirador", res.Item.Name)

	places := p.Places()
	require.Len(t, places, 1)
	assert.Equal(t, int64(100), places[0].ID)

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].key)

	entry, err := journal.GetByID(context.Background(), calls[0].key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.OutcomeConfirmed, entry.Outcome)
	assert.Equal(t, int64(100), entry.PlaceID)
}

func TestCreateOfflineAppliesLocally(t *testing.T) {
	gw := &stubGateway{err: errOffline}
	p, journal := newTestPipeline(t, gw, "tok")

	res, err := p.Create(context.Background(), draft("Mirador", 21.0, -98.5))
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.True(t, res.Applied)
	assert.Equal(t, int64(-1), res.Item.ID)
	assert.Contains(t, res.Message, "Mirador")

	res2, err := p.Create(context.Background(), draft("Otro Mirador", 21.2, -98.6))
	require.NoError(t, err)
	assert.Equal(t, int64(-2), res2.Item.ID)

	places := p.Places()
	require.Len(t, places, 2)
	assert.Equal(t, "Mirador", places[0].Name)
	assert.InDelta(t, 21.0, places[0].Latitude, 1e-9)

	entries, err := journal.List(context.Background(), domain.OutcomeDegraded, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "connection refused", entries[0].Error)
}

func TestCreateMalformedEchoKeepsSubmittedValues(t *testing.T) {
	gw := &stubGateway{echo: func(domain.Item) json.RawMessage { return json.RawMessage(`"ok"`) }}
	p, _ := newTestPipeline(t, gw, "tok")

	res, err := p.Create(context.Background(), draft("Mirador", 21.0, -98.5))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "Mirador", res.Item.Name)
	assert.Less(t, res.Item.ID, int64(0))
}

func TestCreateEchoWithTakenIDKeepsKeysUnique(t *testing.T) {
	gw := &stubGateway{}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	first, err := p.Create(context.Background(), draft("Mirador", 21.0, -98.5))
	require.NoError(t, err)
	assert.Equal(t, int64(100), first.Item.ID)

	second, err := p.Create(context.Background(), draft("Otro Mirador", 21.2, -98.6))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, second.Outcome)
	assert.Equal(t, int64(-1), second.Item.ID)
	assert.Contains(t, second.Message, "reload")

	seen := map[int64]bool{}
	for _, it := range p.Places() {
		assert.False(t, seen[it.ID], "duplicate id %d", it.ID)
		seen[it.ID] = true
	}
	assert.Len(t, seen, 4)
}

func TestCreateEchoWithoutIDCannotBeAddressedLater(t *testing.T) {
	gw := &stubGateway{echo: func(it domain.Item) json.RawMessage {
		b, _ := json.Marshal(map[string]any{"name": it.Name, "latitude": it.Latitude, "longitude": it.Longitude})
		return b
	}}
	p, journal := newTestPipeline(t, gw, "tok")

	created, err := p.Create(context.Background(), draft("Mirador", 21.0, -98.5))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, created.Outcome)
	id := created.Item.ID
	require.Less(t, id, int64(0))

	updated, err := p.Update(context.Background(), id, draft("Mirador Norte", 21.0, -98.5))
	require.NoError(t, err)
	assert.True(t, updated.Degraded())
	assert.True(t, updated.Applied)

	deleted, err := p.Delete(context.Background(), id, func(domain.Item) bool { return true })
	require.NoError(t, err)
	assert.True(t, deleted.Degraded(), "the service still holds the place")
	assert.Empty(t, p.Places())

	calls := gw.Calls()
	require.Len(t, calls, 1, "neither update nor delete may reach the service")
	assert.Equal(t, OpCreate, calls[0].op)

	entries, err := journal.List(context.Background(), domain.OutcomeDegraded, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Error, "not known to the service")
}

func TestUpdateOfLocalPlaceWithoutEchoIDStaysUnresolved(t *testing.T) {
	gw := &stubGateway{err: errOffline}
	p, _ := newTestPipeline(t, gw, "tok")
	_, err := p.Create(context.Background(), draft("Mirador", 21, -98))
	require.NoError(t, err)

	gw.err = nil
	gw.echo = func(domain.Item) json.RawMessage { return json.RawMessage(`{}`) }
	res, err := p.Update(context.Background(), -1, draft("Mirador Norte", 21, -98))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, int64(-1), res.Item.ID)

	again, err := p.Update(context.Background(), -1, draft("Mirador Sur", 21, -98))
	require.NoError(t, err)
	assert.True(t, again.Degraded())
	assert.Len(t, gw.Calls(), 2, "a second create would duplicate the place")
}

func TestCreateEchoWithoutCoordinates(t *testing.T) {
	gw := &stubGateway{echo: func(it domain.Item) json.RawMessage {
		b, _ := json.Marshal(map[string]any{"id": it.ID, "name": it.Name})
		return b
	}}
	p, _ := newTestPipeline(t, gw, "tok")

	res, err := p.Create(context.Background(), draft("Mirador", 21.0, -98.5))
	require.NoError(t, err)
	assert.True(t, res.Item.HasCoordinates())
	assert.InDelta(t, -98.5, res.Item.Longitude, 1e-9)
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	gw := &stubGateway{}
	p, _ := newTestPipeline(t, gw, "tok")

	_, err := p.Create(context.Background(), domain.PlaceDraft{Name: " "})
	var fe domain.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Has("name"))
	assert.True(t, fe.Has("latitude"))
	assert.Empty(t, gw.Calls())
	assert.Empty(t, p.Places())
}

func TestMutationsRequireSession(t *testing.T) {
	gw := &stubGateway{}
	p, _ := newTestPipeline(t, gw, "")
	p.Reset(seed())

	_, err := p.Create(context.Background(), draft("Mirador", 21, -98))
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = p.Update(context.Background(), 7, draft("X", 21, -98))
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = p.Delete(context.Background(), 7, func(domain.Item) bool { return true })
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, gw.Calls())
	assert.Len(t, p.Places(), 2)
}

func TestUpdateUnknownPlace(t *testing.T) {
	gw := &stubGateway{}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	_, err := p.Update(context.Background(), 99, draft("X", 21, -98))
	assert.ErrorIs(t, err, ErrUnknownPlace)
	assert.Empty(t, gw.Calls())
}

func TestUpdateConfirmedReplacesInPlace(t *testing.T) {
	gw := &stubGateway{}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	res, err := p.Update(context.Background(), 7, draft("Cascada Renovada", 21.15, -99.25))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.True(t, res.Applied)

	places := p.Places()
	require.Len(t, places, 2)
	assert.Equal(t, int64(7), places[0].ID)
	assert.Equal(t, "Cascada Renovada", places[0].Name)
	assert.InDelta(t, 21.15, places[0].Latitude, 1e-9)
}

func TestUpdateOfflineKeepsLocalChange(t *testing.T) {
	gw := &stubGateway{err: errOffline}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	res, err := p.Update(context.Background(), 9, draft("Sótano", 21.6, -99.1))
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	got, ok := p.Find(9)
	require.True(t, ok)
	assert.Equal(t, "Sótano", got.Name)
}

func TestUpdateOfLocalPlaceSubmitsCreate(t *testing.T) {
	gw := &stubGateway{err: errOffline}
	p, _ := newTestPipeline(t, gw, "tok")

	created, err := p.Create(context.Background(), draft("Mirador", 21, -98))
	require.NoError(t, err)
	require.Equal(t, int64(-1), created.Item.ID)

	gw.err = nil
	res, err := p.Update(context.Background(), -1, draft("Mirador Norte", 21, -98))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, int64(100), res.Item.ID)

	calls := gw.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, OpCreate, calls[1].op)

	_, ok := p.Find(-1)
	assert.False(t, ok)
	got, ok := p.Find(100)
	require.True(t, ok)
	assert.Equal(t, "Mirador Norte", got.Name)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	gw := &stubGateway{}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	var asked domain.Item
	_, err := p.Delete(context.Background(), 7, func(it domain.Item) bool {
		asked = it
		return false
	})
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Equal(t, "Cascada El Salto", asked.Name)
	assert.Empty(t, gw.Calls())
	assert.Len(t, p.Places(), 2)

	_, err = p.Delete(context.Background(), 7, nil)
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestDeleteOfflineRemovesLocally(t *testing.T) {
	gw := &stubGateway{err: errOffline}
	p, journal := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	res, err := p.Delete(context.Background(), 7, func(domain.Item) bool { return true })
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.True(t, res.Applied)
	_, ok := p.Find(7)
	assert.False(t, ok)
	assert.Len(t, p.Places(), 1)

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(7), calls[0].id)

	entry, err := journal.GetByID(context.Background(), calls[0].key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, OpDelete, entry.Op)
	assert.Equal(t, domain.OutcomeDegraded, entry.Outcome)
}

func TestDeleteLocalPlaceSkipsGateway(t *testing.T) {
	gw := &stubGateway{err: errOffline}
	p, _ := newTestPipeline(t, gw, "tok")
	_, err := p.Create(context.Background(), draft("Mirador", 21, -98))
	require.NoError(t, err)

	res, err := p.Delete(context.Background(), -1, func(domain.Item) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	assert.Empty(t, p.Places())
	assert.Len(t, gw.Calls(), 1, "only the original create reached the gateway")
}

func TestIdempotencyKeysAreUnique(t *testing.T) {
	gw := &stubGateway{}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	for i := 0; i < 5; i++ {
		_, err := p.Update(context.Background(), 7, draft("Cascada", 21, -99))
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for _, c := range gw.Calls() {
		assert.False(t, seen[c.key], "duplicate key %s", c.key)
		seen[c.key] = true
	}
}

func TestLaterWriteWins(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{hold: map[int64]chan struct{}{}}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	gw.hold[7] = release
	first := make(chan Result, 1)
	go func() {
		res, err := p.Update(context.Background(), 7, draft("Primera", 21, -99))
		assert.NoError(t, err)
		first <- res
	}()

	require.Eventually(t, func() bool { return len(gw.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	gw.mu.Lock()
	delete(gw.hold, 7)
	gw.mu.Unlock()

	second, err := p.Update(context.Background(), 7, draft("Segunda", 21, -99))
	require.NoError(t, err)
	assert.True(t, second.Applied)

	close(release)
	res := <-first
	assert.False(t, res.Applied)
	assert.Equal(t, domain.OutcomeConfirmed, res.Outcome)

	got, ok := p.Find(7)
	require.True(t, ok)
	assert.Equal(t, "Segunda", got.Name)
}

func TestResetDiscardsInFlightMutation(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{hold: map[int64]chan struct{}{7: release}}
	p, _ := newTestPipeline(t, gw, "tok")
	p.Reset(seed())

	done := make(chan Result, 1)
	go func() {
		res, err := p.Update(context.Background(), 7, draft("Fantasma", 21, -99))
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, func() bool { return len(gw.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	p.Reset(seed())
	close(release)
	res := <-done
	assert.False(t, res.Applied)

	got, _ := p.Find(7)
	assert.Equal(t, "Cascada El Salto", got.Name)
}
