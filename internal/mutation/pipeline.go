// Package mutation applies place create/update/delete operations against the
// catalog API with local-first fallback: when the API fails, the change is still
// applied locally and reported as degraded. Nothing is ever rolled back.
package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vbonduro/placemap/internal/catalog"
	"github.com/vbonduro/placemap/internal/domain"
	"github.com/vbonduro/placemap/internal/metrics"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

var (
	ErrNoSession    = errors.New("mutation: no active session")
	ErrNotConfirmed = errors.New("mutation: deletion not confirmed")
	ErrUnknownPlace = errors.New("mutation: unknown place")
	// ErrUnresolved means the service accepted a create without reporting a usable
	// id, so the place cannot be addressed there until the list is reloaded.
	ErrUnresolved = errors.New("mutation: place id not known to the service")
)

// PlaceGateway is the subset of gateway.Client the pipeline requires.
type PlaceGateway interface {
	CreatePlace(ctx context.Context, token, idempotencyKey string, item domain.Item) (json.RawMessage, error)
	UpdatePlace(ctx context.Context, token, idempotencyKey string, id int64, item domain.Item) (json.RawMessage, error)
	DeletePlace(ctx context.Context, token, idempotencyKey string, id int64) error
}

// TokenSource yields the bearer token of the current session.
type TokenSource interface {
	Token() (string, bool)
}

// Journal is the subset of store.JournalStore the pipeline requires.
type Journal interface {
	Record(ctx context.Context, e *domain.JournalEntry) error
}

// ConfirmFunc is the destructive-action guard consulted before a delete.
type ConfirmFunc func(domain.Item) bool

// Result describes what a mutation did to local state.
type Result struct {
	Op      string
	Outcome string
	Item    domain.Item
	Message string
	// Applied is false when a newer local write or a reset superseded this one.
	Applied bool
}

// Degraded reports whether the change exists only locally.
func (r Result) Degraded() bool {
	return r.Outcome == domain.OutcomeDegraded
}

type Pipeline struct {
	gw      PlaceGateway
	tokens  TokenSource
	journal Journal
	logger  *slog.Logger

	mu        sync.Mutex
	places    []domain.Item
	revisions map[int64]uint64
	epoch     uint64
	nextLocal int64

	// placeholder ids of places the service holds under an id it never reported
	unresolved map[int64]struct{}
}

// New creates a pipeline. journal may be nil.
func New(gw PlaceGateway, tokens TokenSource, journal Journal, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		gw:         gw,
		tokens:     tokens,
		journal:    journal,
		logger:     logger,
		revisions:  make(map[int64]uint64),
		nextLocal:  -1,
		unresolved: make(map[int64]struct{}),
	}
}

// Reset replaces the local place list, e.g. after a load or a logout. Mutations
// still in flight from before the reset will not touch the new list.
func (p *Pipeline) Reset(places []domain.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.places = append([]domain.Item(nil), places...)
	p.revisions = make(map[int64]uint64)
	p.unresolved = make(map[int64]struct{})
	p.epoch++
}

// Places returns a copy of the local place list.
func (p *Pipeline) Places() []domain.Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Item(nil), p.places...)
}

// Find looks a place up by id.
func (p *Pipeline) Find(id int64) (domain.Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexOf(id)
	if i < 0 {
		return domain.Item{}, false
	}
	return p.places[i], true
}

func (p *Pipeline) Create(ctx context.Context, draft domain.PlaceDraft) (Result, error) {
	item, token, err := p.prepare(OpCreate, draft)
	if err != nil {
		return Result{}, err
	}
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()

	key := uuid.NewString()
	raw, gwErr := p.gw.CreatePlace(ctx, token, key, item)

	res := Result{Op: OpCreate, Item: item}
	if gwErr == nil {
		res.Outcome = domain.OutcomeConfirmed
		res.Message = fmt.Sprintf("Place %q created.", item.Name)
	} else {
		res.Outcome = domain.OutcomeDegraded
		res.Message = fmt.Sprintf("Service unavailable: place %q saved locally only.", item.Name)
	}

	p.mu.Lock()
	var (
		saved  domain.Item
		usable bool
	)
	if gwErr == nil {
		saved, usable = p.usableEchoLocked(raw)
	}
	if usable {
		res.Item = fillCoordinates(saved, item)
	} else {
		res.Item.ID = p.nextLocalLocked()
	}
	if p.epoch == epoch {
		p.places = append(p.places, res.Item)
		res.Applied = true
		if gwErr == nil && !usable {
			p.unresolved[res.Item.ID] = struct{}{}
			res.Message = fmt.Sprintf("Place %q created; reload to edit it.", item.Name)
		}
	}
	p.mu.Unlock()

	p.finish(ctx, key, res, gwErr)
	return res, nil
}

func (p *Pipeline) Update(ctx context.Context, id int64, draft domain.PlaceDraft) (Result, error) {
	item, token, err := p.prepare(OpUpdate, draft)
	if err != nil {
		return Result{}, err
	}
	item.ID = id

	p.mu.Lock()
	if p.indexOf(id) < 0 {
		p.mu.Unlock()
		metrics.RecordMutation(OpUpdate, "rejected")
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownPlace, id)
	}
	_, unresolved := p.unresolved[id]
	epoch := p.epoch
	p.revisions[id]++
	rev := p.revisions[id]
	p.mu.Unlock()

	key := uuid.NewString()
	var (
		raw   json.RawMessage
		gwErr error
	)
	switch {
	case unresolved:
		gwErr = fmt.Errorf("%w: %d", ErrUnresolved, id)
	case id < 0:
		// The service never saw this place; submit it as new.
		raw, gwErr = p.gw.CreatePlace(ctx, token, key, item)
	default:
		raw, gwErr = p.gw.UpdatePlace(ctx, token, key, id, item)
	}

	res := Result{Op: OpUpdate, Item: item}
	switch {
	case gwErr == nil:
		res.Outcome = domain.OutcomeConfirmed
		res.Message = fmt.Sprintf("Place %q updated.", item.Name)
	case unresolved:
		res.Outcome = domain.OutcomeDegraded
		res.Message = fmt.Sprintf("Changes to %q kept locally only; reload to edit it on the service.", item.Name)
	default:
		res.Outcome = domain.OutcomeDegraded
		res.Message = fmt.Sprintf("Service unavailable: changes to %q kept locally only.", item.Name)
	}

	p.mu.Lock()
	switch {
	case gwErr == nil && id < 0:
		if saved, ok := p.usableEchoLocked(raw); ok {
			res.Item = fillCoordinates(saved, item)
		} else if p.epoch == epoch {
			// created on the service, still without an id we can address
			p.unresolved[id] = struct{}{}
		}
	case gwErr == nil:
		if saved, perr := catalog.ParseItem(raw); perr == nil {
			saved.ID = id
			res.Item = fillCoordinates(saved, item)
		} else {
			p.logger.Warn("update echo unusable, keeping submitted values", "place_id", id, "error", perr)
		}
	}
	if p.epoch == epoch && p.revisions[id] == rev {
		if i := p.indexOf(id); i >= 0 {
			p.places[i] = res.Item
			res.Applied = true
		}
		if res.Item.ID != id {
			p.revisions[res.Item.ID] = p.revisions[id]
			delete(p.revisions, id)
		}
	}
	p.mu.Unlock()

	p.finish(ctx, key, res, gwErr)
	return res, nil
}

func (p *Pipeline) Delete(ctx context.Context, id int64, confirm ConfirmFunc) (Result, error) {
	token, ok := p.tokens.Token()
	if !ok {
		metrics.RecordMutation(OpDelete, "rejected")
		return Result{}, ErrNoSession
	}

	p.mu.Lock()
	i := p.indexOf(id)
	if i < 0 {
		p.mu.Unlock()
		metrics.RecordMutation(OpDelete, "rejected")
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownPlace, id)
	}
	item := p.places[i]
	p.mu.Unlock()

	if confirm == nil || !confirm(item) {
		metrics.RecordMutation(OpDelete, "rejected")
		return Result{}, ErrNotConfirmed
	}

	p.mu.Lock()
	_, unresolved := p.unresolved[id]
	epoch := p.epoch
	p.revisions[id]++
	rev := p.revisions[id]
	p.mu.Unlock()

	key := uuid.NewString()
	var gwErr error
	switch {
	case unresolved:
		gwErr = fmt.Errorf("%w: %d", ErrUnresolved, id)
	case id >= 0:
		gwErr = p.gw.DeletePlace(ctx, token, key, id)
	}

	res := Result{Op: OpDelete, Item: item}
	switch {
	case gwErr == nil:
		res.Outcome = domain.OutcomeConfirmed
		res.Message = fmt.Sprintf("Place %q deleted.", item.Name)
	case unresolved:
		res.Outcome = domain.OutcomeDegraded
		res.Message = fmt.Sprintf("%q removed locally only; it stays on the service until deleted after a reload.", item.Name)
	default:
		res.Outcome = domain.OutcomeDegraded
		res.Message = fmt.Sprintf("Service unavailable: %q removed locally only.", item.Name)
	}

	p.mu.Lock()
	if p.epoch == epoch && p.revisions[id] == rev {
		if i := p.indexOf(id); i >= 0 {
			p.places = append(p.places[:i], p.places[i+1:]...)
			res.Applied = true
		}
		delete(p.unresolved, id)
	}
	p.mu.Unlock()

	p.finish(ctx, key, res, gwErr)
	return res, nil
}

// usableEchoLocked decodes a create echo. The echo is unusable when it does not
// parse or its id is missing, not positive, or already taken by another place.
func (p *Pipeline) usableEchoLocked(raw json.RawMessage) (domain.Item, bool) {
	saved, err := catalog.ParseItem(raw)
	switch {
	case err != nil:
		p.logger.Warn("create echo unusable, keeping submitted values", "error", err)
	case saved.ID <= 0 || p.indexOf(saved.ID) >= 0:
		p.logger.Warn("create echo id unusable, keeping submitted values", "echo_id", saved.ID)
	default:
		return saved, true
	}
	return domain.Item{}, false
}

// prepare runs the local preconditions shared by create and update.
func (p *Pipeline) prepare(op string, draft domain.PlaceDraft) (domain.Item, string, error) {
	item, err := draft.Validate()
	if err != nil {
		metrics.RecordMutation(op, "rejected")
		return domain.Item{}, "", err
	}
	token, ok := p.tokens.Token()
	if !ok {
		metrics.RecordMutation(op, "rejected")
		return domain.Item{}, "", ErrNoSession
	}
	return item, token, nil
}

func (p *Pipeline) finish(ctx context.Context, key string, res Result, gwErr error) {
	metrics.RecordMutation(res.Op, res.Outcome)

	attrs := []any{"op", res.Op, "place_id", res.Item.ID, "outcome", res.Outcome, "applied", res.Applied}
	if gwErr != nil {
		p.logger.Warn("place mutation degraded", append(attrs, "error", gwErr)...)
	} else {
		p.logger.Info("place mutation confirmed", attrs...)
	}

	if p.journal == nil {
		return
	}
	entry := &domain.JournalEntry{
		ID:        key,
		Op:        res.Op,
		PlaceID:   res.Item.ID,
		PlaceName: res.Item.Name,
		Outcome:   res.Outcome,
	}
	if gwErr != nil {
		entry.Error = gwErr.Error()
	}
	// the request context may already be done; the journal write should not be
	if err := p.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.Error("failed to journal mutation", "op", res.Op, "place_id", res.Item.ID, "error", err)
	}
}

// fillCoordinates keeps the submitted position when the echo omitted it.
func fillCoordinates(echo, submitted domain.Item) domain.Item {
	if !echo.HasCoordinates() {
		echo.Latitude, echo.Longitude = submitted.Latitude, submitted.Longitude
	}
	return echo
}

func (p *Pipeline) nextLocalLocked() int64 {
	id := p.nextLocal
	p.nextLocal--
	return id
}

func (p *Pipeline) indexOf(id int64) int {
	for i, it := range p.places {
		if it.ID == id {
			return i
		}
	}
	return -1
}
