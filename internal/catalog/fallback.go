package catalog

import "github.com/vbonduro/placemap/internal/domain"

// FallbackArtisans and FallbackPlaces are served when the remote catalog cannot be
// loaded, so the map is never empty.
func FallbackArtisans() []domain.Item {
	return []domain.Item{{
		ID:          1,
		Name:        "Taller de Tenangos Doña Rosa",
		Description: "Bordado otomí a mano en manta y servilletas.",
		Category:    "textiles",
		Latitude:    20.3351,
		Longitude:   -98.2269,
	}}
}

func FallbackPlaces() []domain.Item {
	return []domain.Item{{
		ID:          1,
		Name:        "Prismas Basálticos",
		Description: "Columnas de basalto con cascadas en Santa María Regla.",
		Category:    "natural",
		Latitude:    20.2397,
		Longitude:   -98.5569,
	}}
}

// Fallback is the aggregated sample catalog.
func Fallback() []domain.Entry {
	return Aggregate(FallbackArtisans(), FallbackPlaces())
}
