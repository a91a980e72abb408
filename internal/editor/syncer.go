package editor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome is the result of one reconciliation.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeAdopted   Outcome = "adopted"
	// OutcomeDeferred means a local edit was pending, so the pull was
	// dropped and the local save wins.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeSkipped means playback held the gate before or during the pull.
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// Syncer polls the server and reconciles its document into the session.
type Syncer struct {
	session  *Session
	interval time.Duration
	nudge    chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	shutdown bool
}

func newSyncer(session *Session, interval time.Duration) *Syncer {
	return &Syncer{
		session:  session,
		interval: interval,
		nudge:    make(chan struct{}, 1),
	}
}

// Start launches the poll loop unless it is already running.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown || s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.loop(ctx, done)
}

// Stop cancels the poll loop and waits until it has exited.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Shutdown stops the loop for good; later Start calls are ignored.
func (s *Syncer) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.Stop()
}

func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Nudge asks the running loop to poll now instead of at the next tick.
func (s *Syncer) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

func (s *Syncer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.nudge:
		}
		s.Reconcile(ctx)
	}
}

// Reconcile fetches the server document once and adopts it when it differs
// from the session's. The surface is left untouched while it has focus.
func (s *Syncer) Reconcile(ctx context.Context) Outcome {
	outcome := s.reconcile(ctx)
	s.session.metrics.Polls.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (s *Syncer) reconcile(ctx context.Context) Outcome {
	sess := s.session
	if sess.gate.Held() {
		return OutcomeSkipped
	}
	epoch := sess.gate.Epoch()
	revision := sess.autosave.Revision()

	list, err := sess.remote.Fetch(ctx)
	if err != nil {
		return OutcomeError
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed || sess.gate.Held() || sess.gate.Epoch() != epoch {
		return OutcomeSkipped
	}
	if sess.autosave.Pending() || sess.autosave.Revision() != revision {
		return OutcomeDeferred
	}
	if list.Fingerprint() == sess.fingerprint {
		return OutcomeUnchanged
	}

	sess.replaceLocked(list)
	if sess.surface.Focused() {
		sess.stale = true
		sess.renderLocked(false)
	} else {
		sess.renderLocked(true)
	}
	sess.logger.Debug("adopted server content", zap.Int("items", len(sess.items)))
	return OutcomeAdopted
}
