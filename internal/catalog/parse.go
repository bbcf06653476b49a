package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vbonduro/placemap/internal/domain"
)

// ErrNotArray is returned when a collection document is not a JSON array.
var ErrNotArray = errors.New("catalog: document is not an array")

// ParseItems decodes an untrusted collection document. A document that is not an
// array is rejected as a whole; individual malformed elements are dropped and
// reported in the returned skip count so one bad record cannot hide the rest.
func ParseItems(raw json.RawMessage) ([]domain.Item, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, 0, ErrNotArray
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNotArray, err)
	}

	items := make([]domain.Item, 0, len(elems))
	seen := make(map[int64]struct{}, len(elems))
	skipped := 0
	for _, elem := range elems {
		item, err := ParseItem(elem)
		if err != nil {
			skipped++
			continue
		}
		if _, dup := seen[item.ID]; dup {
			skipped++
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}
	return items, skipped, nil
}

// ParseItem decodes one untrusted item object. Both the artisan ("category") and the
// place ("type") spellings are accepted, as are the short coordinate names.
// Missing coordinates decode as NaN.
func ParseItem(raw json.RawMessage) (domain.Item, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return domain.Item{}, fmt.Errorf("item is not an object: %w", err)
	}
	if obj == nil {
		return domain.Item{}, errors.New("item is null")
	}

	id, ok := intField(obj["id"])
	if !ok {
		return domain.Item{}, errors.New("item has no integer id")
	}
	name, _ := obj["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Item{}, fmt.Errorf("item %d has no name", id)
	}

	lat, err := coordField(obj, "latitude", "lat")
	if err != nil {
		return domain.Item{}, fmt.Errorf("item %d: %w", id, err)
	}
	lng, err := coordField(obj, "longitude", "lng", "lon")
	if err != nil {
		return domain.Item{}, fmt.Errorf("item %d: %w", id, err)
	}

	return domain.Item{
		ID:          id,
		Name:        name,
		Description: stringField(obj, "description"),
		Category:    stringField(obj, "category", "type"),
		Latitude:    lat,
		Longitude:   lng,
		PhotoURL:    stringField(obj, "photo_url", "photo", "photoUrl"),
	}, nil
}

func intField(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func coordField(obj map[string]any, names ...string) (float64, error) {
	for _, name := range names {
		v, ok := obj[name]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			return n.Float64()
		case string:
			if strings.TrimSpace(n) == "" {
				return math.NaN(), nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return 0, fmt.Errorf("%s is not numeric", name)
			}
			return f, nil
		default:
			return 0, fmt.Errorf("%s has type %T", name, v)
		}
	}
	return math.NaN(), nil
}

func stringField(obj map[string]any, names ...string) string {
	for _, name := range names {
		if s, ok := obj[name].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
