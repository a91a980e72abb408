package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"readback/api/internal/content"
	"readback/api/internal/telemetry"
)

type memSurface struct {
	mu      sync.Mutex
	html    string
	focused bool
	sets    int
}

func (s *memSurface) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

func (s *memSurface) SetHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
	s.sets++
}

func (s *memSurface) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *memSurface) setFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = focused
}

// typeHTML simulates the user changing the surface without a render.
func (s *memSurface) typeHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
}

func (s *memSurface) renders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

type fakeRemote struct {
	mu        sync.Mutex
	list      content.List
	fetchErr  error
	pushErr   error
	pushes    []content.List
	fetchHook func()
	pushHook  func(content.List)
}

func newFakeRemote(items ...content.Item) *fakeRemote {
	return &fakeRemote{list: content.List(items).Clone()}
}

func (r *fakeRemote) Fetch(ctx context.Context) (content.List, error) {
	r.mu.Lock()
	hook := r.fetchHook
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return content.List{}, r.fetchErr
	}
	return r.list.Clone(), nil
}

func (r *fakeRemote) Push(ctx context.Context, list content.List) error {
	r.mu.Lock()
	hook := r.pushHook
	r.pushes = append(r.pushes, list.Clone())
	err := r.pushErr
	if err == nil {
		r.list = list.Clone()
	}
	r.mu.Unlock()
	if hook != nil {
		hook(list)
	}
	return err
}

func (r *fakeRemote) set(items ...content.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = content.List(items).Clone()
}

func (r *fakeRemote) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

func (r *fakeRemote) lastPush() content.List {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pushes) == 0 {
		return nil
	}
	return r.pushes[len(r.pushes)-1]
}

type recordingView struct {
	mu    sync.Mutex
	shown []content.List
}

func (v *recordingView) Show(list content.List) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown = append(v.shown, list)
}

func (v *recordingView) last() content.List {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.shown) == 0 {
		return nil
	}
	return v.shown[len(v.shown)-1]
}

// scriptedSpeaker records every text and optionally runs a hook per text.
type scriptedSpeaker struct {
	mu     sync.Mutex
	spoken []string
	hook   func(ctx context.Context, text string) error
}

func (s *scriptedSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		return hook(ctx, text)
	}
	return nil
}

func (s *scriptedSpeaker) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type harness struct {
	session *Session
	surface *memSurface
	remote  *fakeRemote
	view    *recordingView
	speaker *scriptedSpeaker
	metrics *telemetry.Editor
}

func newHarness(t *testing.T, items ...content.Item) *harness {
	t.Helper()
	h := &harness{
		surface: &memSurface{},
		remote:  newFakeRemote(items...),
		view:    &recordingView{},
		speaker: &scriptedSpeaker{},
		metrics: telemetry.NewEditor(prometheus.NewRegistry()),
	}
	h.session = New(h.surface, h.remote, Config{
		PollInterval: time.Hour,
		Debounce:     20 * time.Millisecond,
		PasteSettle:  5 * time.Millisecond,
		IntervalUnit: time.Millisecond,
		View:         h.view,
		Speaker:      h.speaker,
		Metrics:      h.metrics,
	})
	require.NoError(t, h.session.Open(context.Background()))
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.session.Player().State() == StateIdle
	}, 2*time.Second, time.Millisecond)
}
