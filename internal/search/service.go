package search

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"readback/api/internal/content"
)

// Service is the facade that tries Meilisearch first, then PostgreSQL
// full-text search, then the in-memory index.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	memory *Memory
	logger *zap.Logger

	indexMu  sync.Mutex
	indexGen atomic.Uint64
}

// NewService creates a search service. meili and pgfts may be nil when the
// backend is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, memory: NewMemory(), logger: logger}
}

// Engine names the backend a search would use right now.
func (s *Service) Engine() string {
	for _, searcher := range s.chain() {
		if searcher.Healthy() {
			return searcher.Name()
		}
	}
	return s.memory.Name()
}

func (s *Service) chain() []Searcher {
	out := make([]Searcher, 0, 3)
	if s.meili != nil {
		out = append(out, s.meili)
	}
	if s.pgfts != nil {
		out = append(out, s.pgfts)
	}
	return append(out, s.memory)
}

// Search runs q on the first healthy backend, falling back on errors. It
// never fails: the worst case is an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	for _, searcher := range s.chain() {
		if !searcher.Healthy() {
			continue
		}
		results, total, err := searcher.Search(ctx, q)
		if err != nil {
			s.logger.Warn("search backend failed, falling back",
				zap.String("engine", searcher.Name()), zap.Error(err))
			continue
		}
		return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: searcher.Name()}
	}
	return Response{Results: []Result{}, Query: q.Text, Engine: s.memory.Name()}
}

// Index refreshes the in-memory index synchronously and Meilisearch in the
// background.
func (s *Service) Index(list content.List) {
	records := Records(list)
	s.memory.Replace(records)

	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	gen := s.indexGen.Add(1)
	go func() {
		s.indexMu.Lock()
		defer s.indexMu.Unlock()
		if s.indexGen.Load() != gen {
			return
		}
		if err := s.meili.Replace(records); err != nil {
			s.logger.Warn("meilisearch reindex failed", zap.Error(err))
		}
	}()
}

// Close stops background work.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
