package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// CastService is the DNS-SD service type cast receivers advertise.
	CastService = "_googlecast._tcp"
	CastDomain  = "local."

	// DefaultProbeWindow bounds one mDNS browse; it stays under the tick
	// interval so probes do not pile up.
	DefaultProbeWindow = 900 * time.Millisecond
)

// MDNSBrowser finds receivers with mDNS. It remembers every device it has
// seen for the lifetime of the process and fans new ones out to subscribers.
type MDNSBrowser struct {
	factory Factory
	log     *slog.Logger
	service string
	domain  string
	window  time.Duration

	// OnDiscovered, when set, is called once per newly seen host.
	OnDiscovered func(Device)

	mu     sync.Mutex
	known  map[string]Device
	order  []Device
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch   chan Device
	quit chan struct{}
}

// NewMDNSBrowser returns a browser for CastService that builds devices with
// factory.
func NewMDNSBrowser(factory Factory, log *slog.Logger) *MDNSBrowser {
	return &MDNSBrowser{
		factory: factory,
		log:     log,
		service: CastService,
		domain:  CastDomain,
		window:  DefaultProbeWindow,
		known:   make(map[string]Device),
		subs:    make(map[int]*subscriber),
	}
}

// Devices implements Browser.Devices.
func (b *MDNSBrowser) Devices() []Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Device, len(b.order))
	copy(out, b.order)
	return out
}

// Subscribe implements Browser.Subscribe.
func (b *MDNSBrowser) Subscribe() (<-chan Device, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Device, 16), quit: make(chan struct{})}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.quit)
		})
	}
}

// Probe implements Browser.Probe. It starts one browse bounded by the probe
// window and returns without waiting for answers.
func (b *MDNSBrowser) Probe(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	probeCtx, cancel := context.WithTimeout(ctx, b.window)
	if err := resolver.Browse(probeCtx, b.service, b.domain, entries); err != nil {
		cancel()
		return fmt.Errorf("mdns browse %s: %w", b.service, err)
	}

	go func() {
		defer cancel()
		// The resolver closes entries once probeCtx ends; the hard stop
		// covers a resolver that does not.
		hardStop := time.NewTimer(b.window + time.Second)
		defer hardStop.Stop()
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if probeCtx.Err() == nil {
					b.add(entryFromService(e))
				}
			case <-hardStop.C:
				return
			}
		}
	}()
	return nil
}

// add records entry and publishes a new device to all subscribers.
func (b *MDNSBrowser) add(entry Entry) {
	if entry.Host == "" {
		return
	}

	b.mu.Lock()
	if _, ok := b.known[entry.Host]; ok {
		b.mu.Unlock()
		return
	}
	d := b.factory(entry)
	b.known[entry.Host] = d
	b.order = append(b.order, d)
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	b.log.Debug("receiver discovered",
		slog.String("host", entry.Host),
		slog.String("instance", entry.Instance),
		slog.String("friendly_name", entry.FriendlyName()))
	if b.OnDiscovered != nil {
		b.OnDiscovered(d)
	}

	for _, s := range subs {
		select {
		case s.ch <- d:
		case <-s.quit:
		}
	}
}

func entryFromService(e *zeroconf.ServiceEntry) Entry {
	entry := Entry{
		Instance: e.Instance,
		Port:     e.Port,
		Text:     make(map[string]string, len(e.Text)),
	}
	for _, ip := range e.AddrIPv4 {
		if ip != nil {
			entry.Host = ip.String()
			break
		}
	}
	if entry.Host == "" {
		entry.Host = strings.TrimSuffix(e.HostName, ".")
	}
	for _, kv := range e.Text {
		k, v, _ := strings.Cut(kv, "=")
		entry.Text[k] = v
	}
	return entry
}
