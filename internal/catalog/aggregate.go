package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vbonduro/placemap/internal/domain"
)

// Aggregate merges both collections into one catalog: artisans first, then places,
// each tagged with its kind.
func Aggregate(artisans, places []domain.Item) []domain.Entry {
	entries := make([]domain.Entry, 0, len(artisans)+len(places))
	for _, item := range artisans {
		entries = append(entries, domain.Entry{Kind: domain.KindArtisan, Item: item})
	}
	for _, item := range places {
		entries = append(entries, domain.Entry{Kind: domain.KindPlace, Item: item})
	}
	return entries
}

// AggregateRaw is Aggregate over untrusted documents. A document that is not an array
// contributes nothing instead of failing the whole catalog; the returned error names
// every document that was discarded so callers can decide whether the result is
// trustworthy.
func AggregateRaw(artisans, places json.RawMessage, logger *slog.Logger) ([]domain.Entry, error) {
	a, aErr := parseOrEmpty(artisans, domain.KindArtisan, logger)
	p, pErr := parseOrEmpty(places, domain.KindPlace, logger)
	return Aggregate(a, p), errors.Join(aErr, pErr)
}

func parseOrEmpty(raw json.RawMessage, kind domain.Kind, logger *slog.Logger) ([]domain.Item, error) {
	items, skipped, err := ParseItems(raw)
	if err != nil {
		logger.Warn("collection discarded", "kind", kind.String(), "error", err)
		return nil, fmt.Errorf("%s collection: %w", kind, err)
	}
	if skipped > 0 {
		logger.Warn("malformed items dropped", "kind", kind.String(), "skipped", skipped)
	}
	return items, nil
}
