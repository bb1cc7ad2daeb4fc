package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
	Returned   int `json:"returned"`
	Page       int `json:"page"`
	TotalPages int `json:"total_pages,omitempty"`
}

// NewPagination computes pagination metadata from an offset window. total may be
// negative when the listing does not count rows.
func NewPagination(limit, offset, returned, total int) Pagination {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	p := Pagination{Limit: limit, Offset: offset, Returned: returned, Page: offset/limit + 1}
	if total >= 0 {
		p.TotalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return p
}
