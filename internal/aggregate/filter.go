package aggregate

import (
	"strings"

	"github.com/xenking/orderwatch/internal/domain/order"
)

// StatusAll disables the status filter.
const StatusAll = "all"

// DefaultListSize is the page size used when a query does not set one.
const DefaultListSize = 10

// Query selects a page of orders.
type Query struct {
	// Status is "all", empty or a canonical status token.
	Status string
	// Search matches code, title and id, case-insensitively.
	Search string
	Page   int
	Size   int
}

// Listing is one filtered page.
type Listing struct {
	Items []*order.Order
	// Counts holds per-status totals over the search result, before the
	// status filter. The "all" key holds the total.
	Counts     map[string]int
	Total      int
	Page       int
	Size       int
	TotalPages int
}

// Filter applies q to orders, which must already be in display order.
func Filter(orders []*order.Order, q Query) Listing {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = DefaultListSize
	}
	status := strings.ToLower(strings.TrimSpace(q.Status))
	if status == "" {
		status = StatusAll
	}
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	counts := make(map[string]int, len(order.Statuses)+1)
	counts[StatusAll] = 0
	for _, s := range order.Statuses {
		counts[s.String()] = 0
	}

	var matched []*order.Order
	for _, o := range orders {
		if needle != "" && !matches(o, needle) {
			continue
		}
		counts[StatusAll]++
		if o.Status.IsValid() {
			counts[o.Status.String()]++
		}
		if status != StatusAll && o.Status.String() != status {
			continue
		}
		matched = append(matched, o)
	}

	l := Listing{
		Counts:     counts,
		Total:      len(matched),
		Page:       q.Page,
		Size:       q.Size,
		TotalPages: (len(matched) + q.Size - 1) / q.Size,
	}
	start := (q.Page - 1) * q.Size
	if start >= len(matched) {
		l.Items = []*order.Order{}
		return l
	}
	end := min(start+q.Size, len(matched))
	l.Items = matched[start:end]
	return l
}

func matches(o *order.Order, needle string) bool {
	return strings.Contains(strings.ToLower(o.Code), needle) ||
		strings.Contains(strings.ToLower(o.Title), needle) ||
		strings.Contains(strings.ToLower(o.ID), needle)
}
