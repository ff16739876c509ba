package utils

import (
	"net/url"
	"strconv"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Pagination holds a clamped offset/limit window parsed from query
// parameters.
type Pagination struct {
	Offset int
	Limit  int
}

// ParsePagination reads "offset" and "limit" from query parameters,
// falling back to defaults and clamping out-of-range values.
func ParsePagination(query url.Values) Pagination {
	p := Pagination{Offset: 0, Limit: defaultLimit}

	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset > 0 {
			p.Offset = offset
		}
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			p.Limit = limit
		}
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}
