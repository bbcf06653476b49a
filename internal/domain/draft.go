package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PlaceDraft is the staging record behind the admin create/edit form. It can hold
// states that are not yet a valid Item: coordinates stay nil until the operator
// picks a point on the map or types them in.
type PlaceDraft struct {
	Name        string
	Description string
	Type        string
	PhotoURL    string
	Latitude    *float64
	Longitude   *float64
}

// DraftFromItem seeds a draft for editing an existing place.
func DraftFromItem(item Item) PlaceDraft {
	d := PlaceDraft{
		Name:        item.Name,
		Description: item.Description,
		Type:        item.Category,
		PhotoURL:    item.PhotoURL,
	}
	if item.HasCoordinates() {
		lat, lng := item.Latitude, item.Longitude
		d.Latitude = &lat
		d.Longitude = &lng
	}
	return d
}

// HasCoordinates reports whether both coordinate fields are present.
func (d PlaceDraft) HasCoordinates() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// SetCoordinates stores copies of lat and lng.
func (d *PlaceDraft) SetCoordinates(lat, lng float64) {
	d.Latitude = &lat
	d.Longitude = &lng
}

// FieldError describes one invalid draft field.
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors is returned by Validate when the draft cannot become an Item.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "invalid place: " + strings.Join(parts, "; ")
}

// Has reports whether field has an error.
func (fe FieldErrors) Has(field string) bool {
	for _, e := range fe {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validate turns the draft into an Item (with id 0) or returns every problem found.
func (d PlaceDraft) Validate() (Item, error) {
	var errs FieldErrors

	name := strings.TrimSpace(d.Name)
	if name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}

	switch {
	case d.Latitude == nil:
		errs = append(errs, FieldError{Field: "latitude", Message: "latitude is required"})
	case !isFinite(*d.Latitude) || *d.Latitude < -90 || *d.Latitude > 90:
		errs = append(errs, FieldError{Field: "latitude", Message: "latitude must be between -90 and 90"})
	}
	switch {
	case d.Longitude == nil:
		errs = append(errs, FieldError{Field: "longitude", Message: "longitude is required"})
	case !isFinite(*d.Longitude) || *d.Longitude < -180 || *d.Longitude > 180:
		errs = append(errs, FieldError{Field: "longitude", Message: "longitude must be between -180 and 180"})
	}

	photo := strings.TrimSpace(d.PhotoURL)
	if photo != "" {
		u, err := url.Parse(photo)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{Field: "photo_url", Message: "photo must be an http(s) URL"})
		}
	}

	if len(errs) > 0 {
		return Item{}, errs
	}
	return Item{
		Name:        name,
		Description: strings.TrimSpace(d.Description),
		Category:    strings.TrimSpace(d.Type),
		Latitude:    *d.Latitude,
		Longitude:   *d.Longitude,
		PhotoURL:    photo,
	}, nil
}

// ParseCoordinate converts free-text form input into an optional coordinate.
// Blank input means "not set" and is not an error.
func ParseCoordinate(field, raw string) (*float64, *FieldError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil || !isFinite(v) {
		return nil, &FieldError{Field: field, Message: fmt.Sprintf("%s must be a number", field)}
	}
	return &v, nil
}
