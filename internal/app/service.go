package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"readback/api/internal/content"
	"readback/api/internal/history"
	"readback/api/internal/notify"
	"readback/api/internal/search"
	"readback/api/internal/telemetry"
)

const defaultAuthor = "editor"

// Store persists the single document.
type Store interface {
	Load(ctx context.Context) (content.List, error)
	Save(ctx context.Context, list content.List) error
	Kind() string
	Ping(ctx context.Context) error
}

type revisionLog interface {
	Commit(list content.List, author, message string) (history.Commit, error)
	Log(limit int) ([]history.Commit, error)
	ContentAt(hash string) (content.List, history.Commit, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(list content.List)
	Engine() string
}

// Options wires the optional collaborators of a Service. Nil fields disable
// the matching feature.
type Options struct {
	History revisionLog
	Broker  notify.Broker
	Search  searchIndex
	Metrics *telemetry.Server
	Logger  *zap.Logger
}

// Service owns the stored document. Saves are serialized so the unchanged
// check and the write see the same state.
type Service struct {
	store   Store
	history revisionLog
	broker  notify.Broker
	search  searchIndex
	metrics *telemetry.Server
	logger  *zap.Logger

	mu sync.Mutex
}

func New(store Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewServer(prometheus.NewRegistry())
	}
	return &Service{
		store:   store,
		history: opts.History,
		broker:  opts.Broker,
		search:  opts.Search,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// SaveResult reports what a save did.
type SaveResult struct {
	Changed  bool   `json:"changed"`
	Revision string `json:"revision,omitempty"`
}

// Status describes the active backends.
type Status struct {
	Storage string `json:"storage"`
	History string `json:"history,omitempty"`
	Search  string `json:"search,omitempty"`
	Notify  string `json:"notify,omitempty"`
}

// Bootstrap primes the search index from the stored document.
func (s *Service) Bootstrap(ctx context.Context) error {
	list, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.Index(list)
	}
	return nil
}

func (s *Service) Load(ctx context.Context) (content.List, error) {
	list, err := s.store.Load(ctx)
	if err != nil {
		s.metrics.ContentLoads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load content: %w", err)
	}
	s.metrics.ContentLoads.WithLabelValues("ok").Inc()
	s.metrics.ContentItems.Set(float64(len(list)))
	return list.Clone(), nil
}

// Save replaces the stored document with list.
func (s *Service) Save(ctx context.Context, list content.List, author string) (SaveResult, error) {
	return s.save(ctx, list, author, fmt.Sprintf("Save %d items", len(list)))
}

// Restore saves the content of an earlier revision as the current document.
func (s *Service) Restore(ctx context.Context, hash, author string) (SaveResult, error) {
	if s.history == nil {
		return SaveResult{}, errHistoryDisabled
	}
	list, commit, err := s.history.ContentAt(hash)
	if err != nil {
		return SaveResult{}, historyError(hash, err)
	}
	return s.save(ctx, list, author, fmt.Sprintf("Restore %s", commit.Hash))
}

func (s *Service) save(ctx context.Context, list content.List, author, message string) (SaveResult, error) {
	if err := content.ValidateList(list); err != nil {
		s.metrics.ContentSaves.WithLabelValues("invalid").Inc()
		return SaveResult{}, domainError(http.StatusBadRequest, "INVALID_CONTENT", err.Error(), nil)
	}
	if author == "" {
		author = defaultAuthor
	}
	list = list.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("load before save failed, writing anyway", zap.Error(err))
	} else if current.Fingerprint() == list.Fingerprint() {
		s.metrics.ContentSaves.WithLabelValues("unchanged").Inc()
		return SaveResult{Changed: false}, nil
	}

	if err := s.store.Save(ctx, list); err != nil {
		s.metrics.ContentSaves.WithLabelValues("error").Inc()
		return SaveResult{}, fmt.Errorf("save content: %w", err)
	}
	s.metrics.ContentSaves.WithLabelValues("saved").Inc()
	s.metrics.ContentItems.Set(float64(len(list)))

	result := SaveResult{Changed: true}
	if s.history != nil {
		commit, err := s.history.Commit(list, author, message)
		if err != nil {
			s.logger.Warn("history commit failed", zap.Error(err))
		} else {
			result.Revision = commit.Hash
		}
	}
	if s.search != nil {
		s.search.Index(list)
	}
	if s.broker != nil {
		event := notify.NewContentUpdated(digest(list.Fingerprint()), len(list))
		if err := s.broker.Publish(ctx, event); err != nil {
			s.logger.Warn("publish change event failed", zap.Error(err))
		}
	}

	s.logger.Info("content saved",
		zap.Int("items", len(list)),
		zap.String("author", author),
		zap.String("revision", result.Revision),
	)
	return result, nil
}

// History lists stored revisions, newest first.
func (s *Service) History(limit int) ([]history.Commit, error) {
	if s.history == nil {
		return []history.Commit{}, nil
	}
	commits, err := s.history.Log(limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return commits, nil
}

// Revision returns the document as stored in one revision.
func (s *Service) Revision(hash string) (content.List, history.Commit, error) {
	if s.history == nil {
		return nil, history.Commit{}, errHistoryDisabled
	}
	list, commit, err := s.history.ContentAt(hash)
	if err != nil {
		return nil, history.Commit{}, historyError(hash, err)
	}
	return list, commit, nil
}

func historyError(hash string, err error) error {
	if errors.Is(err, history.ErrNotFound) {
		return errRevisionNotFound(hash)
	}
	return fmt.Errorf("read revision: %w", err)
}

func (s *Service) Search(ctx context.Context, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit})
}

// Subscribe opens a change event stream.
func (s *Service) Subscribe(ctx context.Context) (<-chan notify.Event, func(), error) {
	if s.broker == nil {
		return nil, nil, domainError(http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", "Change events are not enabled", nil)
	}
	return s.broker.Subscribe(ctx)
}

// LastEvent returns the most recent change event, if any.
func (s *Service) LastEvent(ctx context.Context) (notify.Event, bool) {
	if s.broker == nil {
		return notify.Event{}, false
	}
	event, ok, err := s.broker.Last(ctx)
	if err != nil {
		s.logger.Warn("read last change event failed", zap.Error(err))
		return notify.Event{}, false
	}
	return event, ok
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Status() Status {
	status := Status{Storage: s.store.Kind()}
	if s.history != nil {
		status.History = "git"
	}
	if s.search != nil {
		status.Search = s.search.Engine()
	}
	if s.broker != nil {
		status.Notify = s.broker.Kind()
	}
	return status
}

// Current and At let the export service read the document.
func (s *Service) Current(ctx context.Context) (content.List, error) {
	return s.Load(ctx)
}

func (s *Service) At(_ context.Context, revision string) (content.List, error) {
	list, _, err := s.Revision(revision)
	return list, err
}

func digest(fp content.Fingerprint) string {
	sum := sha256.Sum256([]byte(fp))
	return hex.EncodeToString(sum[:8])
}
