// Package editor is the headless editing session: it keeps an editable
// surface, the server document and playback consistent with each other.
package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"readback/api/internal/content"
	"readback/api/internal/speech"
	"readback/api/internal/telemetry"
)

var ErrClosed = errors.New("editor session closed")

// Surface is the editable area the user types into.
type Surface interface {
	HTML() string
	SetHTML(html string)
	Focused() bool
}

// View is a secondary projection of the document, refreshed after every
// change even while the surface is focused.
type View interface {
	Show(list content.List)
}

// Remote is the server side of the document.
type Remote interface {
	Fetch(ctx context.Context) (content.List, error)
	Push(ctx context.Context, list content.List) error
}

type Config struct {
	PollInterval time.Duration
	Debounce     time.Duration
	PasteSettle  time.Duration
	// IntervalUnit is the length of one playback interval step.
	IntervalUnit time.Duration
	PushTimeout  time.Duration

	View    View
	Speaker speech.Speaker
	Logger  *zap.Logger
	Metrics *telemetry.Editor
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.PasteSettle <= 0 {
		c.PasteSettle = 100 * time.Millisecond
	}
	if c.IntervalUnit <= 0 {
		c.IntervalUnit = time.Second
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 10 * time.Second
	}
	if c.Speaker == nil {
		c.Speaker = speech.Silent{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NewEditor(prometheus.NewRegistry())
	}
	return c
}

// Session owns the single in-memory document. Every writer replaces the list,
// recomputes the fingerprint and renders under mu, in one step.
type Session struct {
	surface Surface
	view    View
	remote  Remote
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.Editor

	gate     *Gate
	syncer   *Syncer
	autosave *Autosaver
	player   *Player

	mu          sync.Mutex
	items       content.List
	fingerprint content.Fingerprint
	// stale is set when a pull was adopted while the surface had focus, so
	// the surface still shows the previous document.
	stale      bool
	pasteTimer *time.Timer
	closed     bool
}

func New(surface Surface, remote Remote, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		surface:     surface,
		view:        cfg.View,
		remote:      remote,
		cfg:         cfg,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		gate:        NewGate(),
		items:       content.List{},
		fingerprint: content.List{}.Fingerprint(),
	}
	s.autosave = NewAutosaver(cfg.Debounce, s.push)
	s.syncer = newSyncer(s, cfg.PollInterval)
	s.player = newPlayer(s, cfg.Speaker, cfg.IntervalUnit)
	s.gate.OnChange(s.syncer.Stop, s.syncer.Start)
	return s
}

// Open loads the server document, renders it and starts the sync loop.
func (s *Session) Open(ctx context.Context) error {
	list, err := s.remote.Fetch(ctx)
	if err != nil {
		s.logger.Warn("initial fetch failed, starting from last known content", zap.Error(err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.replaceLocked(list)
	s.renderLocked(true)
	s.mu.Unlock()

	s.syncer.Start()
	return nil
}

// Close stops playback and the sync loop and pushes any pending edit.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.pasteTimer != nil {
		s.pasteTimer.Stop()
	}
	s.mu.Unlock()

	s.syncer.Shutdown()
	s.player.Stop()

	var err error
	if s.autosave.Pending() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PushTimeout)
		err = s.autosave.Flush(ctx)
		cancel()
	}
	s.autosave.Stop()
	return err
}

// Edited recaptures the document from the surface and re-arms autosave.
func (s *Session) Edited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.replaceLocked(content.Capture(s.surface.HTML()))
	s.stale = false
	s.renderLocked(false)
	// Scheduled under mu so a concurrent pull sees the pending save.
	s.autosave.Schedule()
}

// Pasted captures the surface once pasted content has settled.
func (s *Session) Pasted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pasteTimer != nil {
		s.pasteTimer.Stop()
	}
	s.pasteTimer = time.AfterFunc(s.cfg.PasteSettle, s.Edited)
}

// Blurred saves immediately. A surface left stale by a pull that arrived
// while it had focus is re-rendered instead, since it holds nothing new.
func (s *Session) Blurred(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.stale {
		s.renderLocked(true)
		s.mu.Unlock()
		return nil
	}
	s.replaceLocked(content.Capture(s.surface.HTML()))
	s.renderLocked(false)
	s.mu.Unlock()

	return s.autosave.Flush(ctx)
}

// DeleteAt removes item, expected at index, as the revision view does. When
// the list shifted and the index no longer holds item, the first equal item
// is removed instead. It reports whether anything was removed.
func (s *Session) DeleteAt(index int, item content.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if index < 0 || index >= len(s.items) || s.items[index] != item {
		index = s.items.IndexOf(item)
	}
	if index < 0 {
		s.logger.Info("delete target already gone", zap.String("type", string(item.Kind)))
		return false
	}
	s.replaceLocked(s.items.Without(index))
	s.renderLocked(true)
	s.autosave.Schedule()
	return true
}

// Play starts read-aloud playback with the given interval in seconds.
func (s *Session) Play(seconds int) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.player.Start(seconds)
}

func (s *Session) StopPlayback() {
	s.player.Stop()
}

func (s *Session) Player() *Player {
	return s.player
}

func (s *Session) Syncer() *Syncer {
	return s.syncer
}

// Items returns a copy of the current document.
func (s *Session) Items() content.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Clone()
}

func (s *Session) Fingerprint() content.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Stale reports whether the surface lags behind an adopted pull.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) replaceLocked(list content.List) {
	s.items = list.Clone()
	s.fingerprint = s.items.Fingerprint()
}

func (s *Session) renderLocked(surface bool) {
	if surface {
		s.surface.SetHTML(content.Render(s.items))
		s.stale = false
	}
	if s.view != nil {
		s.view.Show(s.items.Clone())
	}
}

// removeFirst deletes the first item equal to item and renders.
func (s *Session) removeFirst(item content.Item) (content.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.items.IndexOf(item)
	if idx < 0 {
		return nil, false
	}
	s.replaceLocked(s.items.Without(idx))
	s.renderLocked(true)
	return s.items.Clone(), true
}

func (s *Session) push(ctx context.Context) error {
	list := s.Items()
	if err := s.remote.Push(ctx, list); err != nil {
		s.metrics.Pushes.WithLabelValues("error").Inc()
		s.logger.Warn("autosave push failed, will not retry", zap.Error(err))
		return err
	}
	s.metrics.Pushes.WithLabelValues("ok").Inc()
	return nil
}
