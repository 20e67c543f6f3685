package search

import "context"

// Searcher returns an ordered list of result URLs for a query. A failed
// search yields an empty list, never an error the caller must branch on;
// implementations log the cause. The orchestrator caps the list before
// fan-out.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}
