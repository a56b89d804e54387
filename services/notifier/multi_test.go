package notifier

import (
	"context"
	"testing"

	apperr "dwatson385/ticketwatcher/pkg/errors"

	"github.com/stretchr/testify/assert"
)

// mockChannel implements Notifier for testing
type mockChannel struct {
	notifyErr   error
	announceErr error
	notified    []Alert
	announced   []string
	closed      bool
}

var _ Notifier = (*mockChannel)(nil)

func (m *mockChannel) Notify(ctx context.Context, alert Alert) error {
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.notified = append(m.notified, alert)
	return nil
}

func (m *mockChannel) Announce(ctx context.Context, text string) error {
	if m.announceErr != nil {
		return m.announceErr
	}
	m.announced = append(m.announced, text)
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

func TestMultiNotifierFansOut(t *testing.T) {
	a := &mockChannel{}
	b := &mockChannel{}
	m := NewMultiNotifier(a, b)

	assert.NoError(t, m.Notify(context.Background(), testAlert()))
	assert.Len(t, a.notified, 1)
	assert.Len(t, b.notified, 1)
}

func TestMultiNotifierPartialFailureIsSuccess(t *testing.T) {
	broken := &mockChannel{notifyErr: apperr.NewDelivery("telegram", "down", nil)}
	working := &mockChannel{}
	m := NewMultiNotifier(broken, working)

	assert.NoError(t, m.Notify(context.Background(), testAlert()))
	assert.Len(t, working.notified, 1)
}

func TestMultiNotifierAllChannelsFailed(t *testing.T) {
	a := &mockChannel{notifyErr: apperr.NewDelivery("telegram", "down", nil)}
	b := &mockChannel{notifyErr: apperr.NewDelivery("redis", "down", nil)}
	m := NewMultiNotifier(a, b)

	err := m.Notify(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeDelivery, apperr.TypeOf(err))
}

func TestMultiNotifierNoChannels(t *testing.T) {
	m := NewMultiNotifier()
	err := m.Notify(context.Background(), testAlert())
	assert.Error(t, err)
}

func TestMultiNotifierAnnounceNeverFails(t *testing.T) {
	broken := &mockChannel{announceErr: apperr.NewDelivery("redis", "down", nil)}
	working := &mockChannel{}
	m := NewMultiNotifier(broken, working)

	assert.NoError(t, m.Announce(context.Background(), "heartbeat"))
	assert.Equal(t, []string{"heartbeat"}, working.announced)
}

func TestMultiNotifierClose(t *testing.T) {
	a := &mockChannel{}
	b := &mockChannel{}
	m := NewMultiNotifier(a, b)
	assert.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
