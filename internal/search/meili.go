package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const itemsIndex = "readback_items"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	indexed map[string]struct{}
}

// NewMeili creates a Meilisearch client and configures the items index. An
// unreachable server is not an error: the client reports itself unhealthy
// and a background loop keeps probing.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:  client,
		logger:  logger,
		done:    make(chan struct{}),
		indexed: make(map[string]struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        itemsIndex,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", itemsIndex), zap.Error(err))
	}

	index := m.client.Index(itemsIndex)
	filterable := []interface{}{"position"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", itemsIndex), zap.Error(err))
	}
	searchable := []string{"text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", itemsIndex), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	m.once.Do(func() { close(m.done) })
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Name() string {
	return "meilisearch"
}

// Search queries the items index with highlighting.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              itemsIndex,
			Query:                 q.Text,
			Limit:                 int64(limitOf(q)),
			AttributesToHighlight: []string{"text"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:   decodeString(hit, "id"),
		Text: decodeString(hit, "text"),
	}
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "text"), r.Text)
	if raw, ok := hit["position"]; ok {
		var position int
		if err := json.Unmarshal(raw, &position); err == nil {
			r.Position = position
		}
	} else if n, err := strconv.Atoi(strings.TrimPrefix(r.ID, "item-")); err == nil {
		r.Position = n
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Replace makes the index mirror records: every record is upserted and ids
// left over from a previous, longer document are deleted.
func (m *Meili) Replace(records []ItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.client.Index(itemsIndex)
	next := make(map[string]struct{}, len(records))
	for _, r := range records {
		next[r.ID] = struct{}{}
	}
	if len(records) > 0 {
		if _, err := index.AddDocuments(records, nil); err != nil {
			return fmt.Errorf("index items: %w", err)
		}
	}
	for id := range m.indexed {
		if _, keep := next[id]; keep {
			continue
		}
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete item %s: %w", id, err)
		}
	}
	m.indexed = next
	return nil
}
