package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"readback/api/internal/content"
	"readback/api/internal/speech"
)

// MaxIntervalSeconds bounds the pause between items.
const MaxIntervalSeconds = 24 * 60 * 60

var (
	ErrInvalidInterval = errors.New("playback interval must be between 1 second and 24 hours")
	ErrAlreadyPlaying  = errors.New("playback already running")
	ErrNothingToPlay   = errors.New("no text to play")
)

type State int

const (
	StateIdle State = iota
	StateSpeaking
	StateWaiting
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateWaiting:
		return "waiting"
	case StateDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// Player reads text items aloud one by one and deletes each after the
// interval. Every step checks the session token, so once Stop has bumped it
// no further deletion can happen.
type Player struct {
	session *Session
	speaker speech.Speaker
	unit    time.Duration

	mu        sync.Mutex
	state     State
	token     uint64
	cancel    context.CancelFunc
	done      chan struct{}
	lease     uint64
	total     int
	processed int
}

func newPlayer(session *Session, speaker speech.Speaker, unit time.Duration) *Player {
	return &Player{session: session, speaker: speaker, unit: unit}
}

// Start snapshots the text items, pauses sync and begins playback.
func (p *Player) Start(seconds int) error {
	if seconds < 1 || seconds > MaxIntervalSeconds {
		return ErrInvalidInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return ErrAlreadyPlaying
	}
	if p.session.Items().CountKind(content.KindText) == 0 {
		return ErrNothingToPlay
	}

	lease, ok := p.session.gate.Acquire()
	if !ok {
		return ErrAlreadyPlaying
	}
	// Sync is paused now, so the snapshot cannot be replaced under us.
	snap := p.session.Items().TextSnapshot()
	if snap.Len() == 0 {
		p.session.gate.Release(lease)
		return ErrNothingToPlay
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.token++
	p.state = StateSpeaking
	p.cancel = cancel
	p.done = make(chan struct{})
	p.lease = lease
	p.total = snap.Len()
	p.processed = 0

	p.session.logger.Info("playback started",
		zap.Int("items", snap.Len()),
		zap.Int("interval_seconds", seconds),
	)
	go p.run(ctx, p.token, p.done, snap, time.Duration(seconds)*p.unit)
	return nil
}

// Stop cancels speech and any pending interval, waits for the worker and
// resumes sync. It is a no-op when idle.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.token++
	p.state = StateIdle
	done, lease := p.done, p.lease
	p.cancel, p.done, p.lease = nil, nil, 0
	p.total, p.processed = 0, 0
	p.mu.Unlock()

	<-done
	p.session.gate.Release(lease)
	p.session.metrics.PlaybackSessions.WithLabelValues("stopped").Inc()
	p.session.logger.Info("playback stopped")
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Progress reports how many snapshot items were handled out of the total.
func (p *Player) Progress() (processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.total
}

func (p *Player) run(ctx context.Context, token uint64, done chan struct{}, snap content.Snapshot, interval time.Duration) {
	defer close(done)
	logger := p.session.logger

	for i := 0; i < snap.Len(); i++ {
		entry := snap.At(i)

		if !p.transition(token, StateSpeaking) {
			return
		}
		if err := p.speaker.Speak(ctx, entry.Item.Value); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("speech failed, treating item as spoken", zap.Int("position", entry.Position), zap.Error(err))
		}
		p.session.metrics.PlaybackSpoken.Inc()

		if !p.transition(token, StateWaiting) {
			return
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !p.delete(ctx, token, entry) {
			return
		}
	}
	p.finish(token)
}

func (p *Player) transition(token uint64, state State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != token {
		return false
	}
	p.state = state
	return true
}

// delete removes the first item equal to the spoken one. Matching is by
// value because the list may have shifted since the snapshot.
func (p *Player) delete(ctx context.Context, token uint64, entry content.Entry) bool {
	p.mu.Lock()
	if p.token != token {
		p.mu.Unlock()
		return false
	}
	p.state = StateDeleting
	list, found := p.session.removeFirst(entry.Item)
	p.processed++
	p.mu.Unlock()

	if !found {
		p.session.metrics.PlaybackMissed.Inc()
		p.session.logger.Info("spoken item already removed", zap.Int("position", entry.Position))
		return true
	}
	p.session.metrics.PlaybackDeleted.Inc()

	// The deletion is already applied locally, so its push must finish even
	// when playback is stopped meanwhile.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.session.cfg.PushTimeout)
	defer cancel()
	if err := p.session.remote.Push(pushCtx, list); err != nil {
		p.session.metrics.Pushes.WithLabelValues("error").Inc()
		p.session.logger.Warn("playback push failed, will not retry", zap.Error(err))
	} else {
		p.session.metrics.Pushes.WithLabelValues("ok").Inc()
	}
	return true
}

func (p *Player) finish(token uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != token {
		return
	}
	p.cancel()
	p.state = StateIdle
	lease := p.lease
	p.cancel, p.done, p.lease = nil, nil, 0
	p.session.gate.Release(lease)
	p.session.metrics.PlaybackSessions.WithLabelValues("completed").Inc()
	p.session.logger.Info("playback completed", zap.Int("items", p.processed))
}
