package search

import (
	"context"
	"fmt"

	"readback/api/internal/content"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search over the text items of the
// document.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
	Name() string
}

// ItemRecord is the data we index for one text item.
type ItemRecord struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

const defaultLimit = 20

func itemID(position int) string {
	return fmt.Sprintf("item-%d", position)
}

// Records converts the text items of list into index records keyed by
// their position in the list.
func Records(list content.List) []ItemRecord {
	records := make([]ItemRecord, 0, len(list))
	for i, item := range list {
		if item.Kind != content.KindText {
			continue
		}
		records = append(records, ItemRecord{ID: itemID(i), Position: i, Text: item.Value})
	}
	return records
}

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}
