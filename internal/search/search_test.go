package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readback/api/internal/content"
)

func TestRecordsKeepsTextPositions(t *testing.T) {
	records := Records(content.List{
		content.Text("alpha"),
		content.Image("u1"),
		content.Text("beta"),
	})
	assert.Equal(t, []ItemRecord{
		{ID: "item-0", Position: 0, Text: "alpha"},
		{ID: "item-2", Position: 2, Text: "beta"},
	}, records)
}

func TestMemorySearch(t *testing.T) {
	m := NewMemory()
	m.Replace(Records(content.List{
		content.Text("The quick <fox>"),
		content.Text("lazy dog"),
		content.Text("Fox again"),
	}))

	results, total, err := m.Search(context.Background(), Query{Text: "fox", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Position)
	assert.Equal(t, "The quick &lt;<mark>fox</mark>&gt;", results[0].Snippet)

	results, _, err = m.Search(context.Background(), Query{Text: "  "})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestServiceFallsBackToMemory(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.Index(content.List{content.Text("hello world"), content.Image("u1")})

	resp := svc.Search(context.Background(), Query{Text: "world"})
	assert.Equal(t, "memory", resp.Engine)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "hello world", resp.Results[0].Text)

	resp = svc.Search(context.Background(), Query{Text: "absent"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestPgFTSSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM items`).
		WithArgs("default", "quick fox").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ts_headline`).
		WithArgs("default", "quick fox", 20).
		WillReturnRows(sqlmock.NewRows([]string{"position", "text", "headline"}).
			AddRow(3, "the quick fox", "the <mark>quick</mark> <mark>fox</mark>"))

	p := NewPgFTS(db, "default")
	results, total, err := p.Search(context.Background(), Query{Text: "quick fox"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []Result{{
		ID:       "item-3",
		Position: 3,
		Text:     "the quick fox",
		Snippet:  "the <mark>quick</mark> <mark>fox</mark>",
	}}, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceFallsBackWhenPostgresFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errors.New("connection reset"))

	svc := NewService(nil, NewPgFTS(db, "default"), nil)
	svc.Index(content.List{content.Text("offline copy")})
	assert.Equal(t, "postgres", svc.Engine())

	resp := svc.Search(context.Background(), Query{Text: "offline"})
	assert.Equal(t, "memory", resp.Engine)
	assert.Equal(t, 1, resp.Total)
}

// fakeMeili answers the handful of endpoints the client touches.
type fakeMeili struct {
	mu       sync.Mutex
	healthy  bool
	requests []string
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	healthy := f.healthy
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"down","code":"unavailable","type":"system","link":""}`))
		return
	}
	switch {
	case r.URL.Path == "/health":
		_, _ = w.Write([]byte(`{"status":"available"}`))
	case r.URL.Path == "/multi-search":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"indexUid": itemsIndex,
				"hits": []map[string]any{{
					"id":       "item-4",
					"position": 4,
					"text":     "remote fox",
					"_formatted": map[string]any{
						"id":       "item-4",
						"position": "4",
						"text":     "remote <mark>fox</mark>",
					},
				}},
				"estimatedTotalHits": 1,
				"query":              "fox",
			}},
		})
	default:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"taskUid":1,"indexUid":"readback_items","status":"enqueued","type":"documentAdditionOrUpdate","enqueuedAt":"2024-01-01T00:00:00Z"}`))
	}
}

func (f *fakeMeili) saw(request string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == request {
			return true
		}
	}
	return false
}

func TestMeiliSearchAndReplace(t *testing.T) {
	fake := &fakeMeili{healthy: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(srv.URL, "", nil)
	defer m.Close()
	require.True(t, m.Healthy())

	results, total, err := m.Search(context.Background(), Query{Text: "fox"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, Result{ID: "item-4", Position: 4, Text: "remote fox", Snippet: "remote <mark>fox</mark>"}, results[0])

	require.NoError(t, m.Replace(Records(content.List{content.Text("a"), content.Text("b")})))
	require.NoError(t, m.Replace(Records(content.List{content.Text("a")})))
	assert.True(t, fake.saw("DELETE /indexes/readback_items/documents/item-1"))
	assert.False(t, fake.saw("DELETE /indexes/readback_items/documents/item-0"))
}

func TestServiceSkipsUnhealthyMeili(t *testing.T) {
	fake := &fakeMeili{healthy: false}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(srv.URL, "", nil)
	svc := NewService(m, nil, nil)
	defer svc.Close()
	assert.False(t, m.Healthy())

	svc.Index(content.List{content.Text("local only")})
	resp := svc.Search(context.Background(), Query{Text: "local"})
	assert.Equal(t, "memory", resp.Engine)
	assert.Equal(t, 1, resp.Total)

	time.Sleep(10 * time.Millisecond)
	assert.False(t, fake.saw("POST /indexes/readback_items/documents"))
}
