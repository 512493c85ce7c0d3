package handler

import (
	"net/http"
	"strconv"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

// pathID parses the {id} wildcard.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		var v product.ValidationError
		v.Add("id", "must be a positive integer")
		return 0, v.OrNil()
	}
	return id, nil
}

// listParams parses sort, page and size. page is nil for an unpaged read.
func (h *Handler) listParams(r *http.Request) (product.Sort, *product.PageRequest, error) {
	q := r.URL.Query()

	sort, err := product.ParseSort(q.Get("sort"))
	if err != nil {
		return nil, nil, err
	}

	rawPage, rawSize := q.Get("page"), q.Get("size")
	if rawPage == "" && rawSize == "" {
		return sort, nil, nil
	}

	var v product.ValidationError
	if rawPage == "" || rawSize == "" {
		v.Add("page", "page and size must be given together")
		return nil, nil, v.OrNil()
	}
	index, err := strconv.Atoi(rawPage)
	if err != nil {
		v.Add("page", "must be an integer")
	}
	size, err := strconv.Atoi(rawSize)
	if err != nil {
		v.Add("size", "must be an integer")
	} else if size > h.maxPageSize {
		v.Add("size", "must be at most "+strconv.Itoa(h.maxPageSize))
	}
	if err := v.OrNil(); err != nil {
		return nil, nil, err
	}

	page := product.PageRequest{Index: index, Size: size}
	if err := page.Validate(); err != nil {
		return nil, nil, err
	}
	return sort, &page, nil
}
