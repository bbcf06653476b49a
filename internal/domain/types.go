package domain

import (
	"fmt"
	"math"
)

// Kind distinguishes the two catalog collections. Ids are only unique within a Kind.
type Kind int

const (
	KindArtisan Kind = iota + 1
	KindPlace
)

func (k Kind) String() string {
	switch k {
	case KindArtisan:
		return "artisan"
	case KindPlace:
		return "place"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "artisan":
		return KindArtisan, nil
	case "place":
		return KindPlace, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", s)
	}
}

// Key is the composite identity of a catalog entry.
type Key struct {
	Kind Kind
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Item is a point of interest as served by the remote API. For places Category
// carries the place type.
type Item struct {
	ID          int64
	Name        string
	Description string
	Category    string
	Latitude    float64
	Longitude   float64
	PhotoURL    string
}

// HasCoordinates reports whether both coordinates are finite numbers.
func (i Item) HasCoordinates() bool {
	return isFinite(i.Latitude) && isFinite(i.Longitude)
}

// Entry is an Item tagged with its Kind.
type Entry struct {
	Kind Kind
	Item
}

func (e Entry) Key() Key {
	return Key{Kind: e.Kind, ID: e.ID}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
