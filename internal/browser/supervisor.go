package browser

import (
	"context"
	"sync"
	"time"

	"dwatson385/ticketwatcher/logger"
	"dwatson385/ticketwatcher/pkg/backoff"
	apperr "dwatson385/ticketwatcher/pkg/errors"
)

// Factory constructs a fresh session handle
type Factory func() Handle

// Supervisor wraps a session handle's Fetch and replaces the handle when
// it dies. Reconstructions triggered by a dead session are counted in a
// sliding window; once the bound is reached the supervisor stops
// rebuilding and signals a fatal condition, so a broken browser binary
// cannot crash-loop forever.
type Supervisor struct {
	mu          sync.Mutex
	factory     Factory
	session     Handle
	started     bool
	maxRestarts int
	restarts    *backoff.Window
	log         *logger.Logger
}

// NewSupervisor creates a supervisor allowing at most maxRestarts
// completed dead-session reconstructions within window
func NewSupervisor(factory Factory, maxRestarts int, window time.Duration) *Supervisor {
	return &Supervisor{
		factory:     factory,
		maxRestarts: maxRestarts,
		restarts:    backoff.NewWindow(maxRestarts, window),
		log:         logger.ForSupervisor(),
	}
}

// Fetch ensures a live session exists, replacing a dead one first, then
// delegates to it
func (sv *Supervisor) Fetch(ctx context.Context, url string) (string, error) {
	session, err := sv.ensure()
	if err != nil {
		return "", err
	}
	return session.Fetch(ctx, url)
}

// Restart proactively tears down and reopens the session. Used for the
// periodic session refresh and after repeated rate limiting; deliberate
// restarts do not count toward the crash-loop bound.
func (sv *Supervisor) Restart() error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.session != nil {
		sv.session.Close()
		sv.session = nil
	}
	sv.log.Info().Msg("Proactively restarting browser session")
	return sv.openNewLocked()
}

// Close tears down the current session
func (sv *Supervisor) Close() error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.session == nil {
		return nil
	}
	err := sv.session.Close()
	sv.session = nil
	return err
}

// ensure returns a live session, rebuilding a dead one under the
// crash-loop bound
func (sv *Supervisor) ensure() (Handle, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.session != nil && sv.session.State() != StateDead {
		return sv.session, nil
	}

	if sv.session != nil {
		sv.session.Close()
		sv.session = nil
	}

	if !sv.started {
		if err := sv.openNewLocked(); err != nil {
			return nil, err
		}
		return sv.session, nil
	}

	// Dead session: only completed reconstructions count toward the
	// bound, so exactly maxRestarts rebuilds happen before giving up
	now := time.Now()
	count := sv.restarts.Count(now)
	sv.log.Warn().
		Int("reconstructions_in_window", count).
		Msg("Browser session dead, reconstructing")
	if count >= sv.maxRestarts {
		return nil, apperr.NewFatal(component,
			"session reconstruction bound exceeded, giving up", nil)
	}
	if err := sv.openNewLocked(); err != nil {
		return nil, err
	}
	sv.restarts.Observe(now)
	return sv.session, nil
}

func (sv *Supervisor) openNewLocked() error {
	session := sv.factory()
	if err := session.Open(); err != nil {
		session.Close()
		return err
	}
	sv.session = session
	sv.started = true
	return nil
}
