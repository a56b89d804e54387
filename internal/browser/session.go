package browser

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"dwatson385/ticketwatcher/helpers"
	"dwatson385/ticketwatcher/logger"
	apperr "dwatson385/ticketwatcher/pkg/errors"
)

const component = "browser"

// Handle is the capability the rest of the process depends on: something
// that can open, fetch and close. Tests substitute an in-memory fake.
type Handle interface {
	Open() error
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
	State() State
}

// Options configures a browser session
type Options struct {
	// ChromeBin is the browser binary path; discovered when empty
	ChromeBin string
	// RemoteAddr is the host:port of an externally managed driver;
	// when set the session attaches instead of launching a browser
	RemoteAddr string
	Headless   bool
	UserAgent  string
	// FetchTimeout bounds one navigate-and-extract round trip
	FetchTimeout time.Duration
	// SettleWait is the pause after load for dynamic content to render
	SettleWait time.Duration
	// MaxConsecutiveFailures is the DEGRADED to DEAD bound
	MaxConsecutiveFailures int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = 30 * time.Second
	}
	if out.SettleWait <= 0 {
		out.SettleWait = 2 * time.Second
	}
	if out.MaxConsecutiveFailures <= 0 {
		out.MaxConsecutiveFailures = 3
	}
	if out.UserAgent == "" {
		out.UserAgent = helpers.RandomUserAgent()
	}
	return out
}

// Session owns one automated browser instance and its driver connection
type Session struct {
	opts Options
	log  *logger.Logger

	mu            sync.Mutex
	state         State
	failures      int
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ Handle = (*Session)(nil)

// NewSession creates a session in the STARTING state; nothing is
// launched until Open
func NewSession(opts Options) *Session {
	return &Session{
		opts:  opts.withDefaults(),
		log:   logger.ForBrowser(),
		state: StateStarting,
	}
}

// Open launches (or attaches to) the browser and verifies it responds.
// Missing binary, unreachable driver and missing display server all
// surface as launch errors.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReady {
		return nil
	}

	// When running headful an external display server must already be up
	if !s.opts.Headless && os.Getenv("DISPLAY") == "" {
		return apperr.NewLaunch(component, "no display server available (DISPLAY is unset)", nil)
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if s.opts.RemoteAddr != "" {
		if err := probeDriver(s.opts.RemoteAddr); err != nil {
			return apperr.NewLaunch(component, "driver unreachable at "+s.opts.RemoteAddr, err)
		}
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(
			context.Background(), "ws://"+s.opts.RemoteAddr)
	} else {
		binary := s.opts.ChromeBin
		if binary == "" {
			found, err := FindChrome()
			if err != nil {
				return apperr.NewLaunch(component, "browser binary not found", err)
			}
			binary = found
		}

		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(binary),
			chromedp.Flag("headless", s.opts.Headless),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("blink-settings", "imagesEnabled=false"),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("disable-background-networking", true),
			chromedp.WindowSize(1280, 720),
			chromedp.UserAgent(s.opts.UserAgent),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run an empty task list to force the browser to start now, so a
	// broken binary fails here and not on the first fetch
	startCtx, cancel := context.WithTimeout(browserCtx, s.opts.FetchTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "en-GB,en;q=0.9",
		}),
	); err != nil {
		browserCancel()
		allocCancel()
		return apperr.NewLaunch(component, "browser failed to start", err)
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.state = StateReady
	s.failures = 0
	s.log.Info().
		Bool("headless", s.opts.Headless).
		Str("remote_addr", s.opts.RemoteAddr).
		Msg("Browser session ready")
	return nil
}

// Fetch navigates to url and returns the rendered page HTML. The wait for
// dynamic content is bounded by FetchTimeout; expiry surfaces as a timeout
// error and any other navigation failure as a navigation error. Failures
// degrade the session state and eventually mark it dead.
func (s *Session) Fetch(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	if s.state == StateDead || s.browserCtx == nil {
		s.mu.Unlock()
		return "", apperr.NewNavigation(component, "session is not open", nil)
	}
	browserCtx := s.browserCtx
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(browserCtx, s.opts.FetchTimeout)
	defer cancel()

	// Honor caller cancellation so graceful shutdown can abort an
	// in-flight navigation
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.opts.SettleWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		// An abort by the caller says nothing about browser health, so it
		// must not degrade the session
		if ctx.Err() != nil {
			return "", apperr.NewNavigation(component, "fetch aborted: "+url, ctx.Err())
		}
		s.recordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.NewTimeout(component, "page did not settle before timeout: "+url, err)
		}
		return "", apperr.NewNavigation(component, "failed to fetch "+url, err)
	}

	s.mu.Lock()
	s.failures = 0
	s.state = StateReady
	s.mu.Unlock()
	return html, nil
}

// Close releases the browser and driver resources. Safe to call multiple
// times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.browserCtx = nil
	s.state = StateDead
	return nil
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	if s.failures >= s.opts.MaxConsecutiveFailures {
		s.state = StateDead
	} else {
		s.state = StateDegraded
	}
	s.log.Warn().
		Int("consecutive_failures", s.failures).
		Str("state", s.state.String()).
		Msg("Fetch failure recorded")
}

// probeDriver checks that an externally provisioned driver answers on its
// debugging port
func probeDriver(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/json/version")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
