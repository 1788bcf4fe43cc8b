// Package caster coordinates one cast: it renders and installs the document,
// runs a discovery session, pins the content server to the chosen receiver
// and keeps track of which receiver is showing the document.
package caster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"castnote/internal/discovery"
	"castnote/internal/platform/metrics"
)

var (
	// ErrRenderUnavailable is returned when no HTML could be produced.
	ErrRenderUnavailable = errors.New("document could not be rendered")

	// ErrPreparationFailed is returned when the content server cannot take
	// the document.
	ErrPreparationFailed = errors.New("content server could not install the document")

	// ErrDiscoveryFailed is returned when the discovery session cannot start.
	ErrDiscoveryFailed = errors.New("device discovery could not start")

	// ErrNoNetworkAddress is returned when this host has no address a
	// receiver could reach.
	ErrNoNetworkAddress = errors.New("no network address to serve the document on")
)

const (
	documentContentType = "text/html"
	stopTimeout         = 10 * time.Second
)

// RenderFunc produces the page. Image links in it must point at
// <baseURL>/image and carry token.
type RenderFunc func(ctx context.Context, baseURL, token string) (string, error)

// ContentServer is the part of contentserver.Server the controller drives.
type ContentServer interface {
	InstallDocument(html string)
	SetAllowedClient(ip string)
	Token() string
	Port() (int, error)
}

// Config wires a Controller.
type Config struct {
	Server  ContentServer
	Browser discovery.Browser
	// LocalIP returns the address receivers should fetch the document from.
	LocalIP func() (string, error)
	Log     *slog.Logger
	Metrics *metrics.Metrics // optional

	// Scan budget; zero values use the discovery defaults.
	MaxTicks     int
	TickInterval time.Duration
}

// Observer receives progress of one CastDocument call. All fields are
// optional. OnObserved and OnTick follow discovery.Options rules.
type Observer struct {
	OnObserved func(d discovery.Device)
	OnTick     func(elapsed, max int)
	OnCasting  func(d discovery.Device)
	OnFailed   func(d discovery.Device, err error)
	OnStopped  func(d discovery.Device, err error)
}

// Controller owns the cast state. At most one device is bound at a time.
type Controller struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	session *discovery.Session
	active  discovery.Device
	pending discovery.Device
	render  RenderFunc
	baseURL string
	target  string
	media   discovery.Media
}

// New returns an idle Controller.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, log: cfg.Log}
}

// CastDocument renders the document through render, installs it and starts
// a discovery session whose selection casts it. The caller drives the
// returned session (Select, Cancel, RequestStop). A scan still running from
// an earlier call is cancelled first.
func (c *Controller) CastDocument(ctx context.Context, render RenderFunc, title string, obs Observer) (*discovery.Session, error) {
	if render == nil {
		return nil, fmt.Errorf("%w: no renderer", ErrRenderUnavailable)
	}

	ip, err := c.cfg.LocalIP()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoNetworkAddress, err)
	}
	port, err := c.cfg.Server.Port()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreparationFailed, err)
	}
	baseURL := "http://" + net.JoinHostPort(ip, strconv.Itoa(port))
	token := c.cfg.Server.Token()

	html, err := render(ctx, baseURL, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderUnavailable, err)
	}
	if html == "" {
		return nil, fmt.Errorf("%w: empty document", ErrRenderUnavailable)
	}
	c.cfg.Server.InstallDocument(html)

	target := baseURL + "/?" + url.Values{"token": {token}}.Encode()
	media := discovery.Media{Title: title, ContentType: documentContentType}

	c.mu.Lock()
	prev := c.session
	c.session = nil
	active := c.active
	c.render, c.baseURL, c.target, c.media = render, baseURL, target, media
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	s := discovery.NewSession(c.cfg.Browser, discovery.Options{
		TargetURL:    target,
		Media:        media,
		MaxTicks:     c.cfg.MaxTicks,
		TickInterval: c.cfg.TickInterval,
		Active:       active,
		OnObserved: func(d discovery.Device) {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.IncDevicesObserved()
			}
			if obs.OnObserved != nil {
				obs.OnObserved(d)
			}
		},
		OnTick:     obs.OnTick,
		OnResolved: c.resolved,
		OnLoaded: func(d discovery.Device, err error) {
			if err != nil {
				c.loaded(d, err)
				if obs.OnFailed != nil {
					obs.OnFailed(d, err)
				}
				return
			}
			if c.loaded(d, nil) && obs.OnCasting != nil {
				obs.OnCasting(d)
			}
		},
		OnStopped: func(d discovery.Device, err error) {
			c.release(d)
			if obs.OnStopped != nil {
				obs.OnStopped(d, err)
			}
		},
	}, c.log)

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	c.log.Info("searching for receivers", slog.String("url", baseURL))
	return s, nil
}

// resolved runs after the user picked d and before d is told to load. The
// previous device is released first, then the server is pinned to d so its
// fetch is authorized.
func (c *Controller) resolved(d discovery.Device) {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.pending = d
	c.mu.Unlock()

	if prev != nil && prev.Address() != d.Address() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := prev.Stop(ctx); err != nil {
			c.log.Warn("stopping previous receiver failed",
				slog.String("address", prev.Address()),
				slog.String("error", err.Error()))
		}
		cancel()
	}
	c.cfg.Server.SetAllowedClient(d.Address())
	c.setActiveGauge(false)
}

// loaded records the outcome of d's load and reports whether d is now the
// bound device. A load that completes after d stopped being the pending
// device (StopCasting or another pick ran meanwhile) is stopped again unless
// the device now bound shares its address.
func (c *Controller) loaded(d discovery.Device, err error) bool {
	c.mu.Lock()
	current := c.pending == d
	bound := c.pending
	if current {
		c.pending = nil
		if err == nil {
			c.active = d
		}
	} else if bound == nil {
		bound = c.active
	}
	c.mu.Unlock()

	if err != nil {
		c.count(metrics.ResultError)
		c.log.Error("cast failed",
			slog.String("address", d.Address()),
			slog.String("device", d.DisplayName()),
			slog.String("error", err.Error()))
		if current {
			c.cfg.Server.SetAllowedClient("")
		}
		return false
	}

	if !current {
		if bound != nil && bound.Address() == d.Address() {
			return false
		}
		c.log.Info("load finished after cast was withdrawn, stopping receiver",
			slog.String("address", d.Address()))
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := d.Stop(ctx); err != nil {
			c.log.Warn("stopping withdrawn receiver failed",
				slog.String("address", d.Address()),
				slog.String("error", err.Error()))
		}
		return false
	}

	c.count(metrics.ResultOK)
	c.setActiveGauge(true)
	c.log.Info("casting",
		slog.String("address", d.Address()),
		slog.String("device", d.DisplayName()))
	return true
}

// release forgets d if it is the bound device and opens the server again.
func (c *Controller) release(d discovery.Device) {
	c.mu.Lock()
	if c.active != d {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	c.cfg.Server.SetAllowedClient("")
	c.setActiveGauge(false)
}

// StopCasting cancels any running scan, stops the bound device and clears
// the server's allow-list. With nothing active it does nothing.
func (c *Controller) StopCasting(ctx context.Context) error {
	c.mu.Lock()
	s, active := c.session, c.active
	c.session, c.active, c.pending = nil, nil, nil
	c.mu.Unlock()

	if s != nil {
		s.Cancel()
	}
	if s == nil && active == nil {
		return nil
	}
	c.cfg.Server.SetAllowedClient("")
	c.setActiveGauge(false)

	if active == nil {
		return nil
	}
	if err := active.Stop(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", active.DisplayName(), err)
	}
	c.log.Info("casting stopped", slog.String("address", active.Address()))
	return nil
}

// Refresh re-renders the last document and installs it. If a device is
// bound it is told to load the page again so it shows the new version.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	render, baseURL, target, media, active := c.render, c.baseURL, c.target, c.media, c.active
	c.mu.Unlock()

	if render == nil {
		return nil
	}
	html, err := render(ctx, baseURL, c.cfg.Server.Token())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderUnavailable, err)
	}
	if html == "" {
		return fmt.Errorf("%w: empty document", ErrRenderUnavailable)
	}
	c.cfg.Server.InstallDocument(html)
	c.log.Debug("document refreshed")

	if active == nil {
		return nil
	}
	if err := active.Load(ctx, target, media); err != nil {
		c.count(metrics.ResultError)
		return fmt.Errorf("reload %s: %w", active.DisplayName(), err)
	}
	c.count(metrics.ResultOK)
	return nil
}

// Active returns the device showing the document, or nil.
func (c *Controller) Active() discovery.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) count(result string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncCasts(result)
	}
}

func (c *Controller) setActiveGauge(active bool) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SetActiveCast(active)
	}
}
