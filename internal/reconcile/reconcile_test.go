package reconcile

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/placemap/internal/catalog"
	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/mapengine"
	"github.com/vbonduro/placemap/internal/mapengine/scene"
)

// flakyEngine wraps a scene engine and fails marker creation for chosen titles.
type flakyEngine struct {
	*scene.Engine
	nilFor map[string]bool
	errFor map[string]bool
}

func (f *flakyEngine) AddMarker(opts mapengine.MarkerOptions) (mapengine.Marker, error) {
	if f.nilFor[opts.Title] {
		return nil, nil
	}
	if f.errFor[opts.Title] {
		return nil, errors.New("engine exploded")
	}
	return f.Engine.AddMarker(opts)
}

func newEngine() *scene.Engine {
	return scene.New(mapengine.LatLng{Lat: 20.14, Lng: -98.67}, 8)
}

func sample() []domain.Entry {
	return catalog.Aggregate(
		[]domain.Item{
			{ID: 1, Name: "Barro Negro", Category: "cerámica", Latitude: 20.1, Longitude: -98.2},
			{ID: 2, Name: "Telar", Latitude: 20.3, Longitude: -98.4},
		},
		[]domain.Item{
			{ID: 1, Name: "Tamul", Latitude: 21.7, Longitude: -99.1},
			{ID: 2, Name: "Sin coordenadas", Latitude: math.NaN(), Longitude: -99},
			{ID: 3, Name: "Infinito", Latitude: math.Inf(1), Longitude: -99},
		},
	)
}

func TestReconcileMatchesCatalog(t *testing.T) {
	eng := newEngine()
	r := New(eng, nil, slog.Default())

	stats := r.Reconcile(sample(), nil)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 3, eng.Len())
	assert.Equal(t, []domain.Key{
		{Kind: domain.KindArtisan, ID: 1},
		{Kind: domain.KindArtisan, ID: 2},
		{Kind: domain.KindPlace, ID: 1},
	}, r.Keys())

	styles := map[mapengine.Style]int{}
	for _, m := range eng.Snapshot().Markers {
		styles[m.Style]++
		assert.NotEmpty(t, m.Popup)
	}
	assert.Equal(t, 2, styles[mapengine.StyleArtisan])
	assert.Equal(t, 1, styles[mapengine.StylePlace])
}

func TestReconcileIsIdempotent(t *testing.T) {
	eng := newEngine()
	r := New(eng, nil, slog.Default())
	r.Reconcile(sample(), nil)

	stats := r.Reconcile(sample(), nil)
	assert.False(t, stats.Changed())
	assert.Equal(t, 3, eng.Counters().Added)
	assert.Zero(t, eng.Counters().Removed)
}

func TestReconcileRemovesAndAdds(t *testing.T) {
	eng := newEngine()
	r := New(eng, nil, slog.Default())
	r.Reconcile(sample(), nil)

	next := catalog.Filter(sample(), "barro")
	next = append(next, domain.Entry{Kind: domain.KindPlace, Item: domain.Item{ID: 9, Name: "Nuevo", Latitude: 21, Longitude: -99}})
	stats := r.Reconcile(next, nil)

	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 2, stats.Removed)
	assert.Equal(t, 2, eng.Len())
	assert.Zero(t, eng.Counters().BadRemoves)
}

func TestReconcileReplacesOnlyEditedMarker(t *testing.T) {
	eng := newEngine()
	r := New(eng, nil, slog.Default())
	r.Reconcile(sample(), nil)

	editing := domain.Key{Kind: domain.KindPlace, ID: 1}
	stats := r.Reconcile(sample(), &editing)
	assert.Equal(t, 1, stats.Replaced)
	assert.Zero(t, stats.Added)
	assert.Equal(t, 3, eng.Len())

	var editingCount int
	for _, m := range eng.Snapshot().Markers {
		if m.Style == mapengine.StyleEditing {
			editingCount++
			assert.Equal(t, "Tamul", m.Title)
		}
	}
	assert.Equal(t, 1, editingCount)

	stats = r.Reconcile(sample(), nil)
	assert.Equal(t, 1, stats.Replaced)
	c := eng.Counters()
	assert.Equal(t, c.Added-c.Removed, eng.Len())
}

func TestReconcileReplacesMovedMarker(t *testing.T) {
	eng := newEngine()
	r := New(eng, nil, slog.Default())
	entries := sample()
	r.Reconcile(entries, nil)

	entries[0].Latitude = 20.9
	stats := r.Reconcile(entries, nil)
	assert.Equal(t, 1, stats.Replaced)
}

func TestReconcileSkipsBrokenHandles(t *testing.T) {
	eng := &flakyEngine{
		Engine: newEngine(),
		nilFor: map[string]bool{"Telar": true},
		errFor: map[string]bool{"Tamul": true},
	}
	r := New(eng, nil, slog.Default())

	stats := r.Reconcile(sample(), nil)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, []domain.Key{{Kind: domain.KindArtisan, ID: 1}}, r.Keys())

	// once the engine recovers the next pass fills the gaps
	eng.nilFor = nil
	eng.errFor = nil
	stats = r.Reconcile(sample(), nil)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 3, eng.Len())
}

func TestMarkerClickSelects(t *testing.T) {
	eng := newEngine()
	var selected []domain.Key
	r := New(eng, func(k domain.Key) { selected = append(selected, k) }, slog.Default())
	r.Reconcile(sample(), nil)

	for _, m := range eng.Snapshot().Markers {
		if m.Title == "Tamul" {
			require.True(t, eng.ClickMarker(m.ID))
		}
	}
	assert.Equal(t, []domain.Key{{Kind: domain.KindPlace, ID: 1}}, selected)
}

func TestPlacementMarker(t *testing.T) {
	eng := newEngine()
	r := New(eng, nil, slog.Default())
	lat, lng := 20.06, -99.34

	r.SetPlacement(&lat, nil)
	assert.False(t, r.HasPlacement())

	r.SetPlacement(&lat, &lng)
	require.True(t, r.HasPlacement())
	lat2 := 20.5
	r.SetPlacement(&lat2, &lng)

	c := eng.Counters()
	assert.Equal(t, 1, c.Added, "placement is moved, not recreated")
	assert.Equal(t, 1, c.Moved)
	snap := eng.Snapshot()
	require.Len(t, snap.Markers, 1)
	assert.Equal(t, mapengine.StylePlacement, snap.Markers[0].Style)
	assert.Equal(t, 20.5, snap.Markers[0].Position.Lat)

	r.SetPlacement(nil, nil)
	assert.False(t, r.HasPlacement())
	assert.Equal(t, 0, eng.Len())
}

func TestCloseRemovesEverything(t *testing.T) {
	eng := newEngine()
	r := New(eng, nil, slog.Default())
	r.Reconcile(sample(), nil)
	lat, lng := 20.0, -99.0
	r.SetPlacement(&lat, &lng)

	r.Close()
	r.Close()
	assert.Equal(t, 0, eng.Len())
	c := eng.Counters()
	assert.Equal(t, c.Added, c.Removed)
	assert.Zero(t, c.BadRemoves)

	assert.False(t, r.Reconcile(sample(), nil).Changed())
	r.SetPlacement(&lat, &lng)
	assert.Equal(t, 0, eng.Len())
}

// Across arbitrary snapshot sequences the engine must always hold exactly the
// reconciled keys and never see a double removal.
func TestReconcileRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	eng := newEngine()
	r := New(eng, nil, slog.Default())

	for step := 0; step < 300; step++ {
		var artisans, places []domain.Item
		for id := int64(0); id < 8; id++ {
			if rng.Intn(2) == 0 {
				artisans = append(artisans, domain.Item{ID: id, Name: "a", Latitude: float64(rng.Intn(3)), Longitude: 1})
			}
			if rng.Intn(2) == 0 {
				places = append(places, domain.Item{ID: id, Name: "p", Latitude: 2, Longitude: 2})
			}
		}
		entries := catalog.Aggregate(artisans, places)
		var editing *domain.Key
		if len(entries) > 0 && rng.Intn(3) == 0 {
			k := entries[rng.Intn(len(entries))].Key()
			editing = &k
		}
		r.Reconcile(entries, editing)

		require.Equal(t, len(entries), eng.Len(), "step %d", step)
		require.Len(t, r.Keys(), len(entries))
	}
	r.Close()
	c := eng.Counters()
	assert.Equal(t, c.Added, c.Removed)
	assert.Zero(t, c.BadRemoves)
}

func TestPopupEscapesContent(t *testing.T) {
	html, err := renderPopup(domain.Entry{Kind: domain.KindArtisan, Item: domain.Item{Name: "<script>x</script>"}})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "Artesano")
}
