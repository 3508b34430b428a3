package fusion

import "github.com/google/uuid"

// Solution is a read-only mapping from variable identity to solved numeric
// values, as returned by the external optimizer.
type Solution map[uuid.UUID][]float64

// Lookup returns the solved values for the given variable identity.
func (s Solution) Lookup(id uuid.UUID) ([]float64, bool) {
	vals, ok := s[id]
	return vals, ok
}

// Contains reports whether every given identity is present in the solution.
func (s Solution) Contains(ids ...uuid.UUID) bool {
	for _, id := range ids {
		if _, ok := s[id]; !ok {
			return false
		}
	}
	return true
}
