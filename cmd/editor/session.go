package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"readback/api/internal/client"
	"readback/api/internal/content"
	"readback/api/internal/editor"
	"readback/api/internal/notify"
	"readback/api/internal/speech"
	"readback/api/internal/telemetry"
)

const (
	watchRetryMin = time.Second
	watchRetryMax = 30 * time.Second

	blurSaveTimeout = 10 * time.Second
)

// runningSession is an open editor session with its surface and event
// watcher.
type runningSession struct {
	session *editor.Session
	surface *editor.FileSurface
	cancel  context.CancelFunc
	watchWG sync.WaitGroup
	logger  *zap.Logger
}

func openSession(ctx context.Context, opts *options, out io.Writer) (*runningSession, error) {
	cfg := opts.cfg
	remote := opts.client()

	if status, err := remote.Status(ctx); err != nil {
		opts.logger.Warn("server status unavailable", zap.Error(err))
	} else if !status.Durable() {
		opts.logger.Warn("server stores content in a local file; it may not survive a redeploy",
			zap.String("storage", status.Storage))
	}

	surface, err := editor.NewFileSurface(cfg.SurfaceFile, cfg.FocusWindow, opts.logger)
	if err != nil {
		return nil, fmt.Errorf("open surface: %w", err)
	}

	session := editor.New(surface, remote, editor.Config{
		PollInterval: cfg.PollInterval,
		Debounce:     cfg.Debounce,
		PasteSettle:  cfg.PasteSettle,
		View:         &listView{out: out},
		Speaker:      speech.FromConfig(cfg.SpeechCommand, opts.logger),
		Logger:       opts.logger,
		Metrics:      telemetry.NewEditor(prometheus.NewRegistry()),
	})

	watchCtx, cancel := context.WithCancel(ctx)
	rs := &runningSession{session: session, surface: surface, cancel: cancel, logger: opts.logger}
	surface.Bind(session.Edited, saveOnBlur(ctx, session, opts.logger))

	if err := session.Open(ctx); err != nil {
		cancel()
		_ = surface.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}

	rs.watchWG.Add(1)
	go func() {
		defer rs.watchWG.Done()
		watch(watchCtx, remote, session.Syncer(), opts.logger)
	}()
	return rs, nil
}

// Close stops the surface first so no edit or blur arrives while the
// session flushes.
func (rs *runningSession) Close() {
	if err := rs.surface.Close(); err != nil {
		rs.logger.Warn("close surface", zap.Error(err))
	}
	rs.cancel()
	rs.watchWG.Wait()
	if err := rs.session.Close(); err != nil && !errors.Is(err, editor.ErrClosed) {
		rs.logger.Warn("close session", zap.Error(err))
	}
}

// saveOnBlur flushes the session when the surface loses focus. The save is
// detached from ctx so a blur racing shutdown still reaches the server.
func saveOnBlur(ctx context.Context, session *editor.Session, logger *zap.Logger) func() {
	base := context.WithoutCancel(ctx)
	return func() {
		saveCtx, cancel := context.WithTimeout(base, blurSaveTimeout)
		defer cancel()
		if err := session.Blurred(saveCtx); err != nil && !errors.Is(err, editor.ErrClosed) {
			logger.Warn("save on blur failed", zap.Error(err))
		}
	}
}

// watch nudges the syncer whenever the server announces a change, and
// reconnects with exponential backoff while the server is unreachable.
func watch(ctx context.Context, remote *client.Client, syncer *editor.Syncer, logger *zap.Logger) {
	backoff := watchRetryMin
	for {
		started := time.Now()
		err := remote.Watch(ctx, func(notify.Event) { syncer.Nudge() })
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > watchRetryMax {
			backoff = watchRetryMin
		}
		logger.Debug("event stream ended, polling continues", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchRetryMax)
	}
}

// listView prints the document whenever it changes.
type listView struct {
	mu   sync.Mutex
	out  io.Writer
	last content.Fingerprint
}

func (v *listView) Show(list content.List) {
	fp := list.Fingerprint()
	v.mu.Lock()
	defer v.mu.Unlock()
	if fp == v.last {
		return
	}
	v.last = fp
	printList(v.out, list)
}

func printList(out io.Writer, list content.List) {
	fmt.Fprintf(out, "--- %d items ---\n", len(list))
	for i, item := range list {
		value := item.Value
		if !item.IsText() && len(value) > 60 {
			value = value[:57] + "..."
		}
		fmt.Fprintf(out, "[%d] %-5s %s\n", i, item.Kind, strings.ReplaceAll(value, "\n", " "))
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
