package gorm

// MaxPaginationLimit is the maximum allowed limit for pagination queries.
// This protects against resource exhaustion from excessively large requests.
const MaxPaginationLimit = 1000

// DefaultListLimit is used when a listing is requested without a limit.
const DefaultListLimit = 100

// clampLimit maps a requested limit onto (0, MaxPaginationLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxPaginationLimit)
}
