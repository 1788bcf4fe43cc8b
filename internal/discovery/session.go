// Package discovery drives a bounded scan for cast receivers and resolves it
// to exactly one outcome: a selected device, a cancellation, a timeout, or a
// stop request for an already active cast.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxTicks is the tick budget of one scan.
	DefaultMaxTicks = 60

	// DefaultTickInterval is the period between probes.
	DefaultTickInterval = time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a session that has left Idle.
	ErrAlreadyStarted = errors.New("discovery session already started")

	// ErrNotScanning is returned by Select and RequestStop once the session
	// has reached a terminal state.
	ErrNotScanning = errors.New("discovery session is not scanning")

	// ErrNoActiveCast is returned by RequestStop when the session was not
	// opened over an active cast.
	ErrNoActiveCast = errors.New("no active cast to stop")
)

// State is a session's position in its lifecycle.
type State int

const (
	Idle State = iota
	Scanning
	Resolved
	Cancelled
	TimedOut
	StopRequested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Resolved:
		return "resolved"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed_out"
	case StopRequested:
		return "stop_requested"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= Resolved
}

// Browser is the underlying discovery mechanism.
type Browser interface {
	// Devices returns every device the browser already knows about.
	Devices() []Device
	// Subscribe attaches a listener for newly found devices. The returned
	// func detaches it and must be called exactly once.
	Subscribe() (<-chan Device, func())
	// Probe issues a fresh network query. It must not block for long.
	Probe(ctx context.Context) error
}

// Options configures a Session.
type Options struct {
	// TargetURL and Media are handed to Device.Load on selection.
	TargetURL string
	Media     Media

	MaxTicks     int
	TickInterval time.Duration

	// Active is the device of a cast already in progress. Only sessions
	// opened with an Active device accept RequestStop.
	Active Device

	// OnObserved and OnTick run on the scan goroutine while the session is
	// locked, and never after the session leaves Scanning. They must not call
	// back into the session synchronously.
	OnObserved func(d Device)
	OnTick     func(elapsed, max int)

	// OnResolved runs after teardown and before Device.Load; OnLoaded runs
	// with the result of Device.Load. Both run on the caller of Select.
	OnResolved func(d Device)
	OnLoaded   func(d Device, err error)

	// OnStopped runs with the result of the Active device's Stop.
	OnStopped func(d Device, err error)
}

// Session is one scan. Create it with NewSession, then Start it.
type Session struct {
	browser Browser
	opts    Options
	log     *slog.Logger

	mu       sync.Mutex
	state    State
	ticks    int
	seen     map[string]struct{}
	devices  []Device
	selected Device

	stopLoop    context.CancelFunc
	loopDone    chan struct{}
	unsubscribe func()
	done        chan struct{}
}

// NewSession returns an Idle session over browser.
func NewSession(browser Browser, opts Options, log *slog.Logger) *Session {
	if opts.MaxTicks <= 0 {
		opts.MaxTicks = DefaultMaxTicks
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &Session{
		browser: browser,
		opts:    opts,
		log:     log,
		seen:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Start enters Scanning: it reports the devices the browser already knows,
// attaches to its event stream, issues the first probe and starts the tick
// loop. Cancelling ctx cancels the scan. If the first probe fails the
// session ends Cancelled and the error is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = Scanning

	events, unsubscribe := s.browser.Subscribe()
	s.unsubscribe = unsubscribe
	for _, d := range s.browser.Devices() {
		s.observeLocked(d)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.stopLoop = cancel
	s.loopDone = make(chan struct{})
	go s.run(loopCtx, events)
	s.mu.Unlock()

	s.log.Debug("discovery started",
		slog.Int("max_ticks", s.opts.MaxTicks),
		slog.Duration("interval", s.opts.TickInterval))

	if err := s.browser.Probe(loopCtx); err != nil {
		s.finish(Cancelled, nil, false)
		return fmt.Errorf("initial probe: %w", err)
	}
	return nil
}

func (s *Session) run(ctx context.Context, events <-chan Device) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finish(Cancelled, nil, true)
			return
		case d, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.observe(d)
		case <-ticker.C:
			if !s.tick(ctx) {
				return
			}
		}
	}
}

func (s *Session) tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != Scanning {
		s.mu.Unlock()
		return false
	}
	s.ticks++
	elapsed := s.ticks
	if elapsed <= s.opts.MaxTicks && s.opts.OnTick != nil {
		s.opts.OnTick(elapsed, s.opts.MaxTicks)
	}
	s.mu.Unlock()

	if elapsed > s.opts.MaxTicks {
		s.log.Debug("discovery timed out", slog.Int("ticks", elapsed-1))
		s.finish(TimedOut, nil, true)
		return false
	}

	// A failed probe only costs this tick.
	if err := s.browser.Probe(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("discovery probe failed", slog.Int("tick", elapsed), slog.String("error", err.Error()))
	}
	return true
}

func (s *Session) observe(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(d)
}

// observeLocked records d unless its host was already seen. Caller must
// hold s.mu.
func (s *Session) observeLocked(d Device) {
	if s.state != Scanning {
		return
	}
	addr := d.Address()
	if _, ok := s.seen[addr]; ok {
		return
	}
	s.seen[addr] = struct{}{}
	s.devices = append(s.devices, d)
	s.log.Debug("device observed", slog.String("address", addr), slog.String("name", d.DisplayName()))
	if s.opts.OnObserved != nil {
		s.opts.OnObserved(d)
	}
}

// finish moves the session to a terminal state and tears it down: the tick
// loop is stopped (and awaited, unless called from it) and the browser
// listener detached. Only the first call does anything.
func (s *Session) finish(to State, selected Device, fromLoop bool) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.selected = selected
	stopLoop, loopDone, unsubscribe := s.stopLoop, s.loopDone, s.unsubscribe
	s.mu.Unlock()

	if stopLoop != nil {
		stopLoop()
		if !fromLoop {
			<-loopDone
		}
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	close(s.done)

	s.log.Debug("discovery finished", slog.String("state", to.String()))
	return true
}

// Select resolves the session to d and asks d to load the target URL. The
// scan is fully torn down before Load is called.
func (s *Session) Select(ctx context.Context, d Device) error {
	if !s.finish(Resolved, d, false) {
		return ErrNotScanning
	}
	if s.opts.OnResolved != nil {
		s.opts.OnResolved(d)
	}
	err := d.Load(ctx, s.opts.TargetURL, s.opts.Media)
	if s.opts.OnLoaded != nil {
		s.opts.OnLoaded(d, err)
	}
	return err
}

// Cancel ends the scan without commanding any device. When Cancel returns
// no further OnObserved or OnTick callbacks will run. It is safe to call
// more than once.
func (s *Session) Cancel() {
	s.finish(Cancelled, nil, false)
}

// RequestStop ends the scan and stops the already active device. It is only
// valid for sessions opened with Options.Active.
func (s *Session) RequestStop(ctx context.Context) error {
	active := s.opts.Active
	if active == nil {
		return ErrNoActiveCast
	}
	if !s.finish(StopRequested, nil, false) {
		return ErrNotScanning
	}
	err := active.Stop(ctx)
	if s.opts.OnStopped != nil {
		s.opts.OnStopped(active, err)
	}
	return err
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Devices returns the devices observed so far, in arrival order.
func (s *Session) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Elapsed returns the number of ticks so far.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Selected returns the device chosen by Select, if any.
func (s *Session) Selected() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// CanStop reports whether RequestStop is available.
func (s *Session) CanStop() bool {
	return s.opts.Active != nil
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
