package pagination

import (
	"net/http"
	"strconv"
)

// MaxPerPage caps page size for list endpoints.
const MaxPerPage = 100

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page    int
	PerPage int
}

// DefaultParams returns page 1 of 20.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: 20}
}

// Offset is the number of rows to skip.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// FromRequest reads ?page and ?per_page, ignoring invalid values.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()
	q := r.URL.Query()

	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 {
		p.PerPage = min(v, MaxPerPage)
	}
	return p
}
