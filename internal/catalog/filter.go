package catalog

import (
	"strings"

	"github.com/vbonduro/placemap/internal/domain"
)

// Filter returns the entries whose name, description or category/type contains query,
// ignoring case. Order is preserved. A blank query returns entries itself.
func Filter(entries []domain.Entry, query string) []domain.Entry {
	if strings.TrimSpace(query) == "" {
		return entries
	}
	q := strings.ToLower(query)

	out := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		if matches(e, q) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e domain.Entry, q string) bool {
	return strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Description), q) ||
		strings.Contains(strings.ToLower(e.Category), q)
}
