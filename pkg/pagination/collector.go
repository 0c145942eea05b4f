package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrTooManyPages is returned when a collection exceeds Config.MaxPages.
	ErrTooManyPages = errors.New("page limit exceeded")

	// ErrLinkCycle is returned when a next link points back to a visited page.
	ErrLinkCycle = errors.New("next link cycle")
)

// Config holds collector configuration
type Config struct {
	// MaxPages caps the pages fetched per collection (0 = unlimited)
	MaxPages int
	// Timeout per page fetch (0 = none beyond the caller's context)
	Timeout time.Duration
}

// DefaultConfig returns the default collector configuration
func DefaultConfig() Config {
	return Config{
		MaxPages: 1000,
		Timeout:  60 * time.Second,
	}
}

// Page is one page of a collection.
type Page struct {
	Items    []json.RawMessage
	NextLink string
}

// PageFetcher fetches a single page. path is either the initial query or a
// next link returned by the previous page.
type PageFetcher interface {
	FetchPage(ctx context.Context, path string) (*Page, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, path string) (*Page, error)

// FetchPage implements PageFetcher.
func (f PageFetcherFunc) FetchPage(ctx context.Context, path string) (*Page, error) {
	return f(ctx, path)
}

// Collector follows next links until a collection is exhausted.
type Collector struct {
	fetcher PageFetcher
	config  Config
}

// NewCollector creates a new collector
func NewCollector(fetcher PageFetcher, config Config) *Collector {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	return &Collector{
		fetcher: fetcher,
		config:  config,
	}
}

// Each calls fn for every page in order. It stops at the first error from
// the fetcher or fn.
func (c *Collector) Each(ctx context.Context, path string, fn func(pageNum int, page *Page) error) error {
	start := time.Now()
	visited := make(map[string]struct{})

	pageNum := 0
	for next := path; next != ""; {
		if _, seen := visited[next]; seen {
			return fmt.Errorf("%w: %s", ErrLinkCycle, next)
		}
		visited[next] = struct{}{}

		if c.config.MaxPages > 0 && pageNum >= c.config.MaxPages {
			return fmt.Errorf("%w (%d pages)", ErrTooManyPages, c.config.MaxPages)
		}
		pageNum++

		page, err := c.fetch(ctx, next)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", pageNum, err)
		}
		if err := fn(pageNum, page); err != nil {
			return err
		}

		log.Debug().
			Str("path", next).
			Int("page", pageNum).
			Int("items", len(page.Items)).
			Msg("Fetched page")

		next = page.NextLink
	}

	log.Debug().
		Str("path", path).
		Int("pages", pageNum).
		Dur("duration", time.Since(start)).
		Msg("Collection complete")
	return nil
}

// Collect returns all items of the collection at path. On failure the items
// gathered before the failing page are returned along with the error.
func (c *Collector) Collect(ctx context.Context, path string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := c.Each(ctx, path, func(_ int, page *Page) error {
		items = append(items, page.Items...)
		return nil
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("path", path).
			Int("items", len(items)).
			Msg("Collection incomplete - returning partial results")
	}
	return items, err
}

func (c *Collector) fetch(ctx context.Context, path string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	page, err := c.fetcher.FetchPage(ctx, path)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return &Page{}, nil
	}
	return page, nil
}
