package klaviyo

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/metrics"
)

// Query selects the records of a collection. Filter and Sort only apply to the
// first request; later pages are addressed by cursor alone.
type Query struct {
	Filter string
	Sort   string
	// PageSize of 0 uses the client default; a negative value omits page[size]
	// for collections that do not accept it.
	PageSize int
}

func (q Query) values(pageSize int, cursor string) url.Values {
	v := url.Values{}
	if pageSize > 0 {
		v.Set("page[size]", strconv.Itoa(pageSize))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if cursor != "" {
		v.Set("page[cursor]", cursor)
		return v
	}
	if q.Filter != "" {
		v.Set("filter", q.Filter)
	}
	return v
}

// FetchPage requests a single page of a collection. An empty cursor requests the first page.
func FetchPage[A any](ctx context.Context, c *Client, path string, q Query, cursor string) (*Page[A], error) {
	size := q.PageSize
	switch {
	case size == 0:
		size = c.cfg.PageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	var page Page[A]
	if err := c.do(ctx, http.MethodGet, path, q.values(size, cursor), nil, &page); err != nil {
		return nil, err
	}
	metrics.PagesFetchedTotal.WithLabelValues(resourceLabel(path)).Inc()
	return &page, nil
}

// Paginate walks every page of a collection in the remote's order. Each range
// over the returned sequence re-issues all requests. Iteration stops when no
// next cursor remains, when a cursor repeats, or with ErrPageLimit once
// MaxPages pages have been read and another is still advertised.
func Paginate[A any](ctx context.Context, c *Client, path string, q Query) iter.Seq2[Resource[A], error] {
	return func(yield func(Resource[A], error) bool) {
		var zero Resource[A]
		seen := make(map[string]struct{})
		cursor := ""

		for pages := 1; ; pages++ {
			page, err := FetchPage[A](ctx, c, path, q, cursor)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, item := range page.Data {
				if !yield(item, nil) {
					return
				}
			}

			next := CursorFrom(page.Links.Next)
			if next == "" {
				return
			}
			if _, dup := seen[next]; dup || next == cursor {
				metrics.PaginationStopsTotal.WithLabelValues("repeated_cursor").Inc()
				c.logger.WarnContext(ctx, "pagination cursor repeated, stopping",
					logging.Cursor(next),
					logging.Path(path),
					logging.Count(int64(pages)),
				)
				return
			}
			if c.cfg.MaxPages > 0 && pages >= c.cfg.MaxPages {
				metrics.PaginationStopsTotal.WithLabelValues("page_limit").Inc()
				yield(zero, fmt.Errorf("%w: %s still paginating after %d pages", ErrPageLimit, path, pages))
				return
			}
			seen[next] = struct{}{}
			cursor = next
		}
	}
}

// CollectAll drains seq into a slice, stopping at the first error.
func CollectAll[A any](seq iter.Seq2[Resource[A], error]) ([]Resource[A], error) {
	var out []Resource[A]
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// CursorFrom extracts page[cursor] from a next link. It returns "" when the
// link is empty, unparsable or carries no cursor.
func CursorFrom(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return u.Query().Get("page[cursor]")
}
