package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// PageRequest selects one page of a list endpoint.
type PageRequest struct {
	Page int    `json:"page" validate:"min=0"`
	Size int    `json:"size" validate:"min=1,max=200"`
	Sort string `json:"sort" validate:"max=64"`
}

// DefaultPage is the first page with 20 items.
var DefaultPage = PageRequest{Page: 0, Size: 20}

// Values encodes the request as page, size and sort query parameters.
func (p PageRequest) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("size", strconv.Itoa(p.Size))

	if p.Sort != "" {
		v.Set("sort", p.Sort)
	}

	return v
}

// Page is the normalized shape of every list response.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

// DecodePage accepts either a paged object or a bare JSON array. A bare array
// is treated as a single page holding everything.
func DecodePage[T any](raw []byte) (Page[T], error) {
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Page[T]{Content: []T{}}, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page[T]{}, fmt.Errorf("decode list: %w", err)
		}

		page := Page[T]{Content: items, TotalElements: int64(len(items))}
		if len(items) > 0 {
			page.TotalPages = 1
		}

		return page, nil
	}

	var page Page[T]
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return Page[T]{}, fmt.Errorf("decode page: %w", err)
	}

	if page.Content == nil {
		page.Content = []T{}
	}

	return page, nil
}

// GetPage fetches and normalizes one page. The page request is validated
// before any network call; filters are added to the query string.
func GetPage[T any](ctx context.Context, c *Client, path string, req PageRequest, filters url.Values) (Page[T], error) {
	if err := c.Validate(req); err != nil {
		return Page[T]{}, err
	}

	query := req.Values()
	for k, vals := range filters {
		for _, v := range vals {
			if v != "" {
				query.Add(k, v)
			}
		}
	}

	raw, err := c.Raw(ctx, http.MethodGet, path, query)
	if err != nil {
		return Page[T]{}, err
	}

	return DecodePage[T](raw)
}
