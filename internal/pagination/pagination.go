// Package pagination reads page and limit query parameters and describes
// the resulting page in list responses.
package pagination

import (
	"net/url"
	"strconv"
)

// Params is a validated page request.
type Params struct {
	Page   int // 1-based
	Limit  int
	Offset int
}

const (
	MaxLimit     = 100
	DefaultPage  = 1
	DefaultLimit = 25
)

func calculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// Option adjusts the defaults before the query is applied.
type Option func(*Params)

// WithDefaultLimit sets the limit used when the request has none.
func WithDefaultLimit(limit int) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// FromQuery extracts page and limit from q. Invalid values fall back to
// the defaults and the limit is capped at MaxLimit.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{Page: DefaultPage, Limit: DefaultLimit}
	for _, opt := range opts {
		opt(&params)
	}

	if pageStr := q.Get("page"); pageStr != "" {
		if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
			params.Page = val
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 {
			params.Limit = val
		}
	}

	// enforce max limit
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	params.Offset = calculateOffset(params.Page, params.Limit)
	return params
}

// Page is the pagination block of a list response.
type Page struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
}

func (p Params) Describe(total int) Page {
	return Page{
		Page:    p.Page,
		Limit:   p.Limit,
		Total:   total,
		HasNext: p.Offset+p.Limit < total,
	}
}
