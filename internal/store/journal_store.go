package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vbonduro/placemap/internal/domain"
)

type journalRow struct {
	ID        string    `db:"id"`
	Op        string    `db:"op"`
	PlaceID   int64     `db:"place_id"`
	PlaceName string    `db:"place_name"`
	Outcome   string    `db:"outcome"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
}

func (r journalRow) toDomain() *domain.JournalEntry {
	return &domain.JournalEntry{
		ID:        r.ID,
		Op:        r.Op,
		PlaceID:   r.PlaceID,
		PlaceName: r.PlaceName,
		Outcome:   r.Outcome,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
	}
}

// JournalStore persists the outcome of every place mutation, so operators can see
// which changes only exist locally.
type JournalStore struct {
	db *sqlx.DB
}

func NewJournalStore(db *sql.DB) *JournalStore {
	return &JournalStore{db: sqlx.NewDb(db, "sqlite")}
}

func (s *JournalStore) Record(ctx context.Context, e *domain.JournalEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO mutation_journal (id, op, place_id, place_name, outcome, error, created_at)
		VALUES (:id, :op, :place_id, :place_name, :outcome, :error, :created_at)
	`, journalRow{
		ID:        e.ID,
		Op:        e.Op,
		PlaceID:   e.PlaceID,
		PlaceName: e.PlaceName,
		Outcome:   e.Outcome,
		Error:     e.Error,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to record mutation: %w", err)
	}
	return nil
}

func (s *JournalStore) GetByID(ctx context.Context, id string) (*domain.JournalEntry, error) {
	var row journalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, op, place_id, place_name, outcome, error, created_at
		FROM mutation_journal WHERE id = ?
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return row.toDomain(), nil
}

// List returns the newest entries first. outcome filters when non-empty.
func (s *JournalStore) List(ctx context.Context, outcome string, limit int) ([]*domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, op, place_id, place_name, outcome, error, created_at FROM mutation_journal`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	var rows []journalRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}

	entries := make([]*domain.JournalEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}
