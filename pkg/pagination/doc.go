// Package pagination collects paged Service Layer collections.
//
// The Service Layer pages a collection query and links each page to the
// next one through "odata.nextLink" (or "@odata.nextLink" on the v2
// endpoint). Pages form a chain, so they are fetched one after another
// until a page carries no link.
//
// Example usage:
//
//	collector := pagination.NewCollector(fetcher, pagination.DefaultConfig())
//	items, err := collector.Collect(ctx, "Items?$select=ItemCode")
//
// The collector:
//   - Stops at the first page without a next link
//   - Detects link cycles
//   - Caps the number of pages (Config.MaxPages)
//   - Returns the items collected so far together with any error
package pagination
