package search

import (
	"context"
	"html"
	"strings"
	"sync"
)

// Memory searches the most recently indexed records with a case-insensitive
// substring match. It is always available.
type Memory struct {
	mu      sync.RWMutex
	records []ItemRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Replace(records []ItemRecord) {
	next := make([]ItemRecord, len(records))
	copy(next, records)
	m.mu.Lock()
	m.records = next
	m.mu.Unlock()
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Search(_ context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := limitOf(q)
	var results []Result
	total := 0
	for _, r := range m.records {
		at := strings.Index(strings.ToLower(r.Text), needle)
		if at < 0 {
			continue
		}
		total++
		if len(results) >= limit {
			continue
		}
		results = append(results, Result{
			ID:       r.ID,
			Position: r.Position,
			Text:     r.Text,
			Snippet:  highlight(r.Text, at, len(needle)),
		})
	}
	return results, total, nil
}

// highlight wraps the match in <mark> and escapes the rest. Offsets come
// from the lowercased text, so they are clamped to the original.
func highlight(text string, at, n int) string {
	if at > len(text) {
		return html.EscapeString(text)
	}
	end := at + n
	if end > len(text) {
		end = len(text)
	}
	return html.EscapeString(text[:at]) + "<mark>" + html.EscapeString(text[at:end]) + "</mark>" + html.EscapeString(text[end:])
}
