package browser

import (
	"context"
	"testing"
	"time"

	apperr "dwatson385/ticketwatcher/pkg/errors"

	"github.com/stretchr/testify/assert"
)

// fakeSession implements Handle without a real browser
type fakeSession struct {
	state     State
	openErr   error
	fetchErr  error
	html      string
	opened    int
	closed    int
	fetches   int
	dieAfter  int // mark dead after this many fetches, 0 disables
}

var _ Handle = (*fakeSession)(nil)

func (f *fakeSession) Open() error {
	f.opened++
	if f.openErr != nil {
		return f.openErr
	}
	f.state = StateReady
	return nil
}

func (f *fakeSession) Fetch(ctx context.Context, url string) (string, error) {
	f.fetches++
	if f.dieAfter > 0 && f.fetches >= f.dieAfter {
		f.state = StateDead
	}
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.html, nil
}

func (f *fakeSession) Close() error {
	f.closed++
	f.state = StateDead
	return nil
}

func (f *fakeSession) State() State {
	return f.state
}

func TestSupervisorReplacesDeadSession(t *testing.T) {
	var created []*fakeSession
	factory := func() Handle {
		s := &fakeSession{html: "<html></html>", dieAfter: 1}
		created = append(created, s)
		return s
	}

	sv := NewSupervisor(factory, 10, 10*time.Minute)
	ctx := context.Background()

	// Each fetch succeeds but leaves the session dead, so every call
	// after the first forces a reconstruction
	for i := 0; i < 3; i++ {
		html, err := sv.Fetch(ctx, "https://example.com")
		assert.NoError(t, err)
		assert.Equal(t, "<html></html>", html)
	}
	assert.Len(t, created, 3)
	assert.Equal(t, 1, created[0].closed)
}

func TestSupervisorFatalAfterReconstructionBound(t *testing.T) {
	factory := func() Handle {
		return &fakeSession{html: "ok", dieAfter: 1}
	}

	sv := NewSupervisor(factory, 3, 10*time.Minute)
	ctx := context.Background()

	// Initial construction does not count; every later call completes one
	// dead-session reconstruction, so all three allowed rebuilds succeed
	// before the bound trips
	var err error
	for i := 0; i < 4; i++ {
		_, err = sv.Fetch(ctx, "https://example.com")
		assert.NoError(t, err)
	}

	_, err = sv.Fetch(ctx, "https://example.com")
	assert.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
}

func TestSupervisorFailedRebuildDoesNotConsumeBound(t *testing.T) {
	launchErr := apperr.NewLaunch("browser", "browser binary not found", nil)
	var created int
	factory := func() Handle {
		created++
		if created == 2 {
			return &fakeSession{openErr: launchErr}
		}
		return &fakeSession{html: "ok", dieAfter: 1}
	}

	sv := NewSupervisor(factory, 1, 10*time.Minute)
	ctx := context.Background()

	_, err := sv.Fetch(ctx, "https://example.com")
	assert.NoError(t, err)

	// Rebuild attempt fails to open: surfaced as a launch error, not
	// counted as a completed reconstruction
	_, err = sv.Fetch(ctx, "https://example.com")
	assert.Equal(t, apperr.ErrorTypeLaunch, apperr.TypeOf(err))

	// The one allowed reconstruction is still available
	_, err = sv.Fetch(ctx, "https://example.com")
	assert.NoError(t, err)

	_, err = sv.Fetch(ctx, "https://example.com")
	assert.True(t, apperr.IsFatal(err))
}

func TestSupervisorPropagatesOpenError(t *testing.T) {
	launchErr := apperr.NewLaunch("browser", "browser binary not found", nil)
	factory := func() Handle {
		return &fakeSession{openErr: launchErr}
	}

	sv := NewSupervisor(factory, 3, 10*time.Minute)
	_, err := sv.Fetch(context.Background(), "https://example.com")
	assert.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeLaunch, apperr.TypeOf(err))
	assert.False(t, apperr.IsFatal(err))
}

func TestSupervisorProactiveRestartDoesNotCount(t *testing.T) {
	var created int
	factory := func() Handle {
		created++
		return &fakeSession{html: "ok"}
	}

	sv := NewSupervisor(factory, 2, 10*time.Minute)
	ctx := context.Background()

	_, err := sv.Fetch(ctx, "https://example.com")
	assert.NoError(t, err)

	// Many deliberate restarts stay under the crash-loop bound
	for i := 0; i < 5; i++ {
		assert.NoError(t, sv.Restart())
	}
	_, err = sv.Fetch(ctx, "https://example.com")
	assert.NoError(t, err)
	assert.Equal(t, 6, created)
}

func TestSupervisorCloseIdempotent(t *testing.T) {
	sv := NewSupervisor(func() Handle { return &fakeSession{html: "ok"} }, 3, time.Minute)
	_, err := sv.Fetch(context.Background(), "https://example.com")
	assert.NoError(t, err)
	assert.NoError(t, sv.Close())
	assert.NoError(t, sv.Close())
}
