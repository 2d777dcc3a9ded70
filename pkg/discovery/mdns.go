package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSAdvertiser implements Advertiser using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu      sync.Mutex
	servers map[string]*zeroconf.Server // keyed by probe ID
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{
		config:  config,
		servers: make(map[string]*zeroconf.Server),
	}
}

// Advertise registers info as a _regbind._tcp instance.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *ProbeInfo) error {
	if info.ID == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyID)
	}
	txt := EncodeProbeTXT(info)
	if err := ValidateTXT(txt); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if server, exists := a.servers[info.ID]; exists {
		server.Shutdown()
		delete(a.servers, info.ID)
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.InstanceName(),
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(txt),
		selectInterfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register probe service: %w", err)
	}

	a.servers[info.ID] = server
	return nil
}

// Update replaces the TXT records of an advertised probe.
func (a *MDNSAdvertiser) Update(info *ProbeInfo) error {
	txt := EncodeProbeTXT(info)
	if err := ValidateTXT(txt); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	server, exists := a.servers[info.ID]
	if !exists {
		return ErrNotFound
	}
	server.SetText(TXTRecordsToStrings(txt))
	return nil
}

// Stop withdraws the probe with the given ID.
func (a *MDNSAdvertiser) Stop(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	server, exists := a.servers[id]
	if !exists {
		return ErrNotFound
	}
	server.Shutdown()
	delete(a.servers, id)
	return nil
}

// StopAll withdraws every probe.
func (a *MDNSAdvertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, server := range a.servers {
		server.Shutdown()
		delete(a.servers, id)
	}
}

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	return &MDNSBrowser{
		config:  config,
		cancels: make(map[int]context.CancelFunc),
	}
}

// Browse searches for probes until ctx is done or Stop is called.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *ProbeService, <-chan *ProbeService, error) {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.cancels[id] = cancel
	b.mu.Unlock()

	zcEntries := make(chan *zeroconf.ServiceEntry)
	zcRemoved := make(chan *zeroconf.ServiceEntry)
	entries := make(chan *ServiceEntry)
	withdrawn := make(chan *ServiceEntry)
	added := make(chan *ProbeService)
	removed := make(chan *ProbeService)

	go convert(ctx, zcEntries, entries)
	go convert(ctx, zcRemoved, withdrawn)
	go func() {
		relay(ctx, entries, withdrawn, added, removed)
		b.mu.Lock()
		delete(b.cancels, id)
		b.mu.Unlock()
		cancel()
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, zcEntries, zcRemoved, b.browserOptions()...)
	}()

	return added, removed, nil
}

// Find returns the first probe with the given ID, or the first probe found
// when id is empty. Without a deadline on ctx, BrowseTimeout applies.
func (b *MDNSBrowser) Find(ctx context.Context, id string) (*ProbeService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	added, _, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := find(ctx, added, id)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return svc, err
}

// FindAll collects every probe seen until ctx is done. It returns an empty
// slice, not an error, when nothing answers.
func (b *MDNSBrowser) FindAll(ctx context.Context) ([]*ProbeService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	added, _, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	return collect(ctx, added), nil
}

// Stop cancels all active browse operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if ifaces := selectInterfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	return opts
}

// convert forwards zeroconf answers as ServiceEntry values.
func convert(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *ServiceEntry) {
	defer close(out)
	for {
		select {
		case e, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- fromZeroconf(e):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func fromZeroconf(e *zeroconf.ServiceEntry) *ServiceEntry {
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ip := range e.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return &ServiceEntry{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     uint16(e.Port),
		Text:     e.Text,
		Addrs:    addrs,
	}
}

// selectInterfaces returns the named interface, or nil for all interfaces.
func selectInterfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

var (
	_ Advertiser = (*MDNSAdvertiser)(nil)
	_ Browser    = (*MDNSBrowser)(nil)
)
