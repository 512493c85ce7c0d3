package product

import (
	"math"
	"strings"

	"go.einride.tech/aip/ordering"
)

// SortField is a single ordering key.
type SortField struct {
	Field string
	Desc  bool
}

// Sort is an ordered list of sort keys. The zero value sorts by the
// repository default.
type Sort []SortField

// ParseSort parses an order_by expression such as "price desc, name".
// Field names are not checked here; repositories reject unknown ones with
// a QueryError.
func ParseSort(s string) (Sort, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ob ordering.OrderBy
	if err := ob.UnmarshalString(s); err != nil {
		return nil, &QueryError{Field: s, Err: err}
	}
	out := make(Sort, 0, len(ob.Fields))
	for _, f := range ob.Fields {
		out = append(out, SortField{Field: f.Path, Desc: f.Desc})
	}
	return out, nil
}

// SortBy returns an ascending sort over the given fields.
func SortBy(fields ...string) Sort {
	out := make(Sort, len(fields))
	for i, f := range fields {
		out[i] = SortField{Field: f}
	}
	return out
}

// String renders the sort back into order_by syntax.
func (s Sort) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = f.Field
		if f.Desc {
			parts[i] += " desc"
		}
	}
	return strings.Join(parts, ", ")
}

// PageRequest selects a contiguous slice of an ordered result set.
// Index is zero-based.
type PageRequest struct {
	Index int
	Size  int
}

// Offset returns the number of rows preceding the page. It saturates at
// math.MaxInt64, so an index far past the last page still selects an empty
// page rather than wrapping negative.
func (p PageRequest) Offset() int64 {
	if p.Index <= 0 || p.Size <= 0 {
		return 0
	}
	if int64(p.Index) > math.MaxInt64/int64(p.Size) {
		return math.MaxInt64
	}
	return int64(p.Index) * int64(p.Size)
}

// Validate reports malformed page parameters.
func (p PageRequest) Validate() error {
	var v ValidationError
	if p.Index < 0 {
		v.Add("page", "must be greater than or equal to 0")
	}
	if p.Size < 1 {
		v.Add("size", "must be greater than or equal to 1")
	}
	return v.OrNil()
}

// Page is one page of results plus the total count of matching records.
type Page[T any] struct {
	Items []T
	Index int
	Size  int
	Total int64
}

// TotalPages returns the number of pages needed to hold Total records.
func (p *Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Size) - 1) / int64(p.Size))
}
