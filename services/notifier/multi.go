package notifier

import (
	"context"

	"dwatson385/ticketwatcher/logger"
	apperr "dwatson385/ticketwatcher/pkg/errors"
)

const multiComponent = "multi"

// MultiNotifier fans an alert out to every configured channel. Delivery
// counts as successful when at least one channel accepted it, so a single
// broken channel does not suppress alerts or stall the ledger.
type MultiNotifier struct {
	channels []Notifier
	log      *logger.Logger
}

var _ Notifier = (*MultiNotifier)(nil)

// NewMultiNotifier combines the given channels
func NewMultiNotifier(channels ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		channels: channels,
		log:      logger.ForNotifier(multiComponent),
	}
}

// Notify fans the alert out to all channels
func (m *MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	if len(m.channels) == 0 {
		return apperr.NewDelivery(multiComponent, "no notification channels configured", nil)
	}

	delivered := 0
	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Notify(ctx, alert); err != nil {
			m.log.Error().Err(err).Str("listing_id", alert.Listing.Id).Msg("Channel delivery failed")
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return apperr.NewDelivery(multiComponent, "all channels failed for listing "+alert.Listing.Id, lastErr)
	}
	return nil
}

// Announce fans the message out to all channels; announcement failures
// are logged but never returned, an undelivered heartbeat is harmless
func (m *MultiNotifier) Announce(ctx context.Context, text string) error {
	for _, ch := range m.channels {
		if err := ch.Announce(ctx, text); err != nil {
			m.log.Warn().Err(err).Msg("Channel announcement failed")
		}
	}
	return nil
}

// Close closes every channel, returning the first error
func (m *MultiNotifier) Close() error {
	var firstErr error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
