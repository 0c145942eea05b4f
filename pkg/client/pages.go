package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/servicelayer-client/pkg/pagination"
)

// Pages returns a PageFetcher that issues GET calls with call's settings.
func (c *Client) Pages(call CallConfig) pagination.PageFetcher {
	return pagination.PageFetcherFunc(func(ctx context.Context, path string) (*pagination.Page, error) {
		result, err := c.Get(ctx, path, call)
		if err != nil {
			return nil, err
		}
		page := &pagination.Page{NextLink: result.NextLink}
		if len(result.Data) == 0 {
			return page, nil
		}
		if result.Data[0] != '[' {
			page.Items = []json.RawMessage{result.Data}
			return page, nil
		}
		if err := json.Unmarshal(result.Data, &page.Items); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
		return page, nil
	})
}

// GetAll fetches every page of the collection at path.
func (c *Client) GetAll(ctx context.Context, path string, call CallConfig) ([]json.RawMessage, error) {
	collector := pagination.NewCollector(c.Pages(call), pagination.Config{
		MaxPages: c.config.MaxPages,
	})
	return collector.Collect(ctx, path)
}
