package monitor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"dwatson385/ticketwatcher/internal/ledger"
	"dwatson385/ticketwatcher/internal/listing"
	"dwatson385/ticketwatcher/logger"
	"dwatson385/ticketwatcher/pkg/backoff"
	apperr "dwatson385/ticketwatcher/pkg/errors"
	"dwatson385/ticketwatcher/services/cache"
	"dwatson385/ticketwatcher/services/notifier"
)

const component = "monitor"

// cooldownKey marks the target as rate limited while it exists in the
// cooldown cache
const cooldownKey = "event_rate_limited"

// snapshotLimit caps saved page snapshots at 10 KB
const snapshotLimit = 10 * 1024

// CycleState tracks where the poll loop is inside a cycle
type CycleState int

const (
	StateIdle CycleState = iota
	StateFetching
	StateExtracting
	StateNotifying
	StateBackoff
	StateStopped
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateNotifying:
		return "notifying"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// OutcomeKind classifies the result of one polling cycle
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeCooldown
	OutcomeFatal
	OutcomeCanceled
)

// Outcome is the result of one polling cycle
type Outcome struct {
	Kind        OutcomeKind
	NewListings int
	Err         error
}

// Fetcher is the supervised browser boundary the monitor polls through
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Restart() error
	Close() error
}

// Options configures the poll loop
type Options struct {
	EventURL string

	// Cadence: a random delay in [SleepMin, SleepMax] after a
	// successful cycle
	SleepMin time.Duration
	SleepMax time.Duration

	// Backoff policy for transient failures, and the consecutive
	// failure count that escalates to a fatal stop
	Backoff                backoff.Policy
	MaxConsecutiveFailures int

	// SessionRestartInterval proactively restarts the browser session
	// every N cycles; 0 disables
	SessionRestartInterval int

	// Rate limiting: pause length, and the number of hits that force a
	// session restart
	RateLimitPause            time.Duration
	RateLimitRestartThreshold int

	// HeartbeatInterval is the cadence of summary announcements; 0
	// disables them
	HeartbeatInterval time.Duration

	// SnapshotDir receives page snapshots on extraction failures; empty
	// disables snapshots
	SnapshotDir string

	// TestMode occasionally injects a synthetic listing
	TestMode bool
}

// Monitor drives the navigate, extract, diff, notify, record cycle
type Monitor struct {
	ctx      context.Context
	opts     Options
	fetcher  Fetcher
	seen     ledger.Ledger
	notify   notifier.Notifier
	cooldown cache.CacheService
	tracker  *backoff.Tracker
	log      *logger.Logger

	// Extract parses a page snapshot; replaced by tests
	Extract func(string) (*listing.Page, error)

	state         CycleState
	cycles        int
	rateLimitHits int
	lastHeartbeat time.Time
	statsDay      time.Time
	spotted       int
	errorCount    int
}

// NewMonitor creates a monitor. The fetcher, ledger, notifier and
// cooldown cache are passed by reference so tests can substitute fakes.
func NewMonitor(
	ctx context.Context,
	opts Options,
	fetcher Fetcher,
	seen ledger.Ledger,
	notify notifier.Notifier,
	cooldown cache.CacheService,
) *Monitor {
	return &Monitor{
		ctx:           ctx,
		opts:          opts,
		fetcher:       fetcher,
		seen:          seen,
		notify:        notify,
		cooldown:      cooldown,
		tracker:       backoff.NewTracker(opts.Backoff, opts.MaxConsecutiveFailures),
		log:           logger.ForMonitor(),
		Extract:       listing.Extract,
		state:         StateIdle,
		lastHeartbeat: time.Now(),
		statsDay:      time.Now(),
	}
}

// State returns the poll loop's current state
func (m *Monitor) State() CycleState {
	return m.state
}

// Start runs the poll loop until the context is canceled (returns nil)
// or a fatal condition stops the watcher (returns the fatal error)
func (m *Monitor) Start() error {
	m.log.Info().
		Str("event_url", m.opts.EventURL).
		Dur("sleep_min", m.opts.SleepMin).
		Dur("sleep_max", m.opts.SleepMax).
		Bool("test_mode", m.opts.TestMode).
		Msg("Ticket watcher started")

	for {
		select {
		case <-m.ctx.Done():
			m.state = StateStopped
			m.log.Info().Msg("Shutdown requested, stopping poll loop")
			return nil
		default:
		}

		outcome := m.RunCycle()
		m.cycles++

		var delay time.Duration
		switch outcome.Kind {
		case OutcomeCanceled:
			m.state = StateStopped
			m.log.Info().Msg("Cycle aborted by shutdown, stopping poll loop")
			return nil

		case OutcomeFatal:
			m.state = StateStopped
			m.log.Error().Err(outcome.Err).Msg("Fatal condition, stopping poll loop")
			return outcome.Err

		case OutcomeCooldown:
			m.state = StateBackoff
			delay = m.opts.RateLimitPause
			m.log.Warn().Dur("pause", delay).Msg("Rate limited, pausing")

		case OutcomeTransient:
			m.errorCount++
			m.state = StateBackoff
			delay = m.tracker.Failure()
			m.log.Warn().
				Err(outcome.Err).
				Int("consecutive_failures", m.tracker.Consecutive()).
				Int("failure_limit", m.opts.MaxConsecutiveFailures).
				Dur("backoff", delay).
				Msg("Transient failure, backing off")
			if m.tracker.Exhausted() {
				m.state = StateStopped
				return apperr.NewFatal(component,
					fmt.Sprintf("%d consecutive transient failures", m.tracker.Consecutive()),
					outcome.Err)
			}

		default: // OutcomeSuccess
			m.tracker.Success()
			m.state = StateIdle
			delay = m.cadence()
			if outcome.NewListings > 0 {
				m.log.Info().Int("new_listings", outcome.NewListings).Msg("Cycle complete")
			} else {
				m.log.Debug().Msg("Cycle complete, nothing new")
			}
		}

		m.maybeRestartSession()
		m.maybeHeartbeat()
		m.resetStatsIfNewDay()

		if !m.sleep(delay) {
			m.state = StateStopped
			m.log.Info().Msg("Shutdown requested during sleep, stopping poll loop")
			return nil
		}
	}
}

// RunCycle performs one fetch, extract, diff, notify, record pass
func (m *Monitor) RunCycle() Outcome {
	if m.coolingDown() {
		return Outcome{Kind: OutcomeCooldown}
	}

	m.state = StateFetching
	rawHTML, err := m.fetcher.Fetch(m.ctx, m.opts.EventURL)
	if err != nil {
		if m.ctx.Err() != nil {
			return Outcome{Kind: OutcomeCanceled, Err: m.ctx.Err()}
		}
		if apperr.IsFatal(err) {
			return Outcome{Kind: OutcomeFatal, Err: err}
		}
		return Outcome{Kind: OutcomeTransient, Err: err}
	}

	m.state = StateExtracting
	page, err := m.Extract(rawHTML)
	if err != nil {
		switch apperr.TypeOf(err) {
		case apperr.ErrorTypeRateLimit:
			m.handleRateLimit(rawHTML)
			return Outcome{Kind: OutcomeCooldown, Err: err}
		default:
			m.saveSnapshot(rawHTML)
			return Outcome{Kind: OutcomeTransient, Err: err}
		}
	}

	if m.opts.TestMode && rand.Float64() < 0.3 {
		page.Listings = append(page.Listings, syntheticListing())
	}

	m.state = StateNotifying
	return Outcome{Kind: OutcomeSuccess, NewListings: m.notifyNew(page)}
}

// notifyNew alerts on every listing absent from the ledger. An identifier
// is recorded only after its alert was delivered; a failed delivery
// leaves it unrecorded so it is retried on the next cycle.
func (m *Monitor) notifyNew(page *listing.Page) int {
	newCount := 0
	for _, l := range page.Listings {
		if m.seen.Contains(l.Id) {
			continue
		}

		alert := notifier.Alert{
			EventName: page.EventName,
			Location:  page.Location(),
			EventDate: page.EventDate,
			EventURL:  m.opts.EventURL,
			Listing:   l,
		}
		if err := m.notify.Notify(m.ctx, alert); err != nil {
			m.errorCount++
			m.log.Error().
				Err(err).
				Str("listing_id", l.Id).
				Msg("Alert delivery failed, will retry next cycle")
			continue
		}

		if err := m.seen.Record(l.Id, l.DiscoveredAt); err != nil {
			// Alert went out but the id is not durable; a restart may
			// duplicate this one alert
			m.log.Error().
				Err(err).
				Str("listing_id", l.Id).
				Msg("Failed to record notified listing")
			continue
		}

		newCount++
		m.spotted++
		m.log.Info().
			Str("listing_id", l.Id).
			Str("tier", l.Tier).
			Str("price", l.Price).
			Msg("New listing alerted")
	}
	return newCount
}

// coolingDown reports whether a rate-limit pause is in effect
func (m *Monitor) coolingDown() bool {
	if m.cooldown == nil {
		return false
	}
	_, err := m.cooldown.Get(cooldownKey)
	return err == nil
}

// handleRateLimit records a blocking page: snapshot, cooldown key, and a
// session restart once the hit threshold is reached
func (m *Monitor) handleRateLimit(rawHTML string) {
	m.rateLimitHits++
	m.saveSnapshot(rawHTML)
	if m.cooldown != nil {
		pause := m.opts.RateLimitPause
		m.cooldown.Set(cooldownKey, []byte(fmt.Sprintf("%d", int(pause.Seconds()))), pause)
	}
	m.log.Warn().
		Int("rate_limit_hits", m.rateLimitHits).
		Int("restart_threshold", m.opts.RateLimitRestartThreshold).
		Msg("Blocking page detected")

	if m.opts.RateLimitRestartThreshold > 0 && m.rateLimitHits >= m.opts.RateLimitRestartThreshold {
		m.rateLimitHits = 0
		if err := m.fetcher.Restart(); err != nil {
			m.log.Error().Err(err).Msg("Session restart after rate limiting failed")
		}
	}
}

// maybeRestartSession refreshes the browser session on the configured
// cycle cadence
func (m *Monitor) maybeRestartSession() {
	if m.opts.SessionRestartInterval <= 0 || m.cycles == 0 {
		return
	}
	if m.cycles%m.opts.SessionRestartInterval != 0 {
		return
	}
	m.log.Info().Int("cycles", m.cycles).Msg("Scheduled session restart")
	if err := m.fetcher.Restart(); err != nil {
		m.log.Error().Err(err).Msg("Scheduled session restart failed")
	}
}

// maybeHeartbeat announces a periodic activity summary; idle periods are
// skipped
func (m *Monitor) maybeHeartbeat() {
	if m.opts.HeartbeatInterval <= 0 {
		return
	}
	if time.Since(m.lastHeartbeat) < m.opts.HeartbeatInterval {
		return
	}
	m.lastHeartbeat = time.Now()
	if m.spotted == 0 && m.errorCount == 0 {
		return
	}
	summary := fmt.Sprintf("Update (%s): %d ticket(s) spotted, %d error(s)",
		time.Now().Format("15:04"), m.spotted, m.errorCount)
	m.notify.Announce(m.ctx, summary)
}

// resetStatsIfNewDay zeroes the daily counters at midnight
func (m *Monitor) resetStatsIfNewDay() {
	now := time.Now()
	if now.YearDay() == m.statsDay.YearDay() && now.Year() == m.statsDay.Year() {
		return
	}
	m.log.Info().Msg("New day, resetting stats")
	m.statsDay = now
	m.spotted = 0
	m.errorCount = 0
	m.rateLimitHits = 0
}

// cadence returns a jittered inter-cycle delay in [SleepMin, SleepMax]
func (m *Monitor) cadence() time.Duration {
	if m.opts.SleepMax <= m.opts.SleepMin {
		return m.opts.SleepMin
	}
	return m.opts.SleepMin + rand.N(m.opts.SleepMax-m.opts.SleepMin)
}

// sleep waits for the delay, returning false if the context was canceled
func (m *Monitor) sleep(delay time.Duration) bool {
	if delay <= 0 {
		return m.ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// saveSnapshot writes the head of an unexpected page next to the logs for
// post-mortem inspection
func (m *Monitor) saveSnapshot(rawHTML string) {
	if m.opts.SnapshotDir == "" {
		return
	}
	if len(rawHTML) > snapshotLimit {
		rawHTML = rawHTML[:snapshotLimit]
	}
	if err := os.MkdirAll(m.opts.SnapshotDir, 0755); err != nil {
		m.log.Debug().Err(err).Msg("Snapshot directory unavailable")
		return
	}
	name := fmt.Sprintf("page_source_%s.html", time.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(m.opts.SnapshotDir, name)
	if err := os.WriteFile(path, []byte(rawHTML), 0644); err != nil {
		m.log.Debug().Err(err).Msg("Failed to save page snapshot")
		return
	}
	m.log.Debug().Str("path", path).Msg("Page snapshot saved")
}

// syntheticListing fabricates a listing for exercising the alert path
func syntheticListing() listing.Listing {
	price := 20 + rand.IntN(81)
	return listing.Listing{
		Id:           fmt.Sprintf("synthetic-%d", time.Now().UnixNano()),
		Tier:         "General Admission",
		Price:        fmt.Sprintf("£%d", price),
		Quantity:     fmt.Sprintf("%d", 1+rand.IntN(4)),
		DiscoveredAt: time.Now(),
	}
}
