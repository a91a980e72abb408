package editor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileSurface is an editable surface backed by an HTML file that the user
// edits with any editor. A write by the user counts as an edit and gives the
// surface focus; once no write has been seen for the focus window the surface
// is blurred.
type FileSurface struct {
	path        string
	focusWindow time.Duration
	settle      time.Duration
	logger      *zap.Logger
	watcher     *fsnotify.Watcher

	mu          sync.Mutex
	written     []byte
	lastEdit    time.Time
	focused     bool
	blurTimer   *time.Timer
	settleTimer *time.Timer
	onEdit      func()
	onBlur      func()
	stopCh      chan struct{}
	stopped     bool
}

// NewFileSurface creates the file if needed and starts watching it.
func NewFileSurface(path string, focusWindow time.Duration, logger *zap.Logger) (*FileSurface, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create surface dir: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create surface file: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory too: many editors save through a rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch surface dir: %w", err)
	}

	fs := &FileSurface{
		path:        path,
		focusWindow: focusWindow,
		settle:      50 * time.Millisecond,
		logger:      logger,
		watcher:     watcher,
		stopCh:      make(chan struct{}),
	}
	fs.written, _ = os.ReadFile(path)
	go fs.watchLoop()
	return fs, nil
}

// Bind sets the callbacks for user edits and loss of focus.
func (f *FileSurface) Bind(onEdit, onBlur func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEdit = onEdit
	f.onBlur = onBlur
}

func (f *FileSurface) HTML() string {
	data, err := os.ReadFile(f.path)
	if err != nil {
		f.logger.Warn("read surface file", zap.Error(err))
		return ""
	}
	return string(data)
}

// SetHTML replaces the file content. The write is remembered so the watcher
// does not report it back as a user edit.
func (f *FileSurface) SetHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := []byte(html)
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		f.logger.Error("write surface file", zap.Error(err))
		return
	}
	f.written = data
}

func (f *FileSurface) Focused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focused
}

func (f *FileSurface) Close() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	if f.blurTimer != nil {
		f.blurTimer.Stop()
	}
	if f.settleTimer != nil {
		f.settleTimer.Stop()
	}
	close(f.stopCh)
	f.mu.Unlock()
	return f.watcher.Close()
}

func (f *FileSurface) watchLoop() {
	for {
		select {
		case <-f.stopCh:
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(f.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.mu.Lock()
			if f.settleTimer != nil {
				f.settleTimer.Stop()
			}
			f.settleTimer = time.AfterFunc(f.settle, f.changed)
			f.mu.Unlock()

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("surface watcher error", zap.Error(err))
		}
	}
}

// changed runs once a burst of file events has settled.
func (f *FileSurface) changed() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return
	}

	f.mu.Lock()
	if f.stopped || bytes.Equal(data, f.written) {
		f.mu.Unlock()
		return
	}
	f.written = data
	f.focused = true
	f.lastEdit = time.Now()
	if f.blurTimer != nil {
		f.blurTimer.Stop()
	}
	f.blurTimer = time.AfterFunc(f.focusWindow, f.blur)
	onEdit := f.onEdit
	f.mu.Unlock()

	if onEdit != nil {
		onEdit()
	}
}

func (f *FileSurface) blur() {
	f.mu.Lock()
	if f.stopped || time.Since(f.lastEdit) < f.focusWindow {
		f.mu.Unlock()
		return
	}
	f.focused = false
	onBlur := f.onBlur
	f.mu.Unlock()

	if onBlur != nil {
		onBlur()
	}
}
