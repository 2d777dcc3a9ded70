package discovery

import (
	"context"
	"time"
)

// Browser finds probes on the network.
type Browser interface {
	// Browse reports probes as they appear (added) and disappear (removed).
	// Both channels are closed when ctx is done.
	Browse(ctx context.Context) (added, removed <-chan *ProbeService, err error)

	// Find returns the first probe with the given ID, or any probe when id
	// is empty.
	Find(ctx context.Context, id string) (*ProbeService, error)

	// FindAll collects every probe seen until ctx is done.
	FindAll(ctx context.Context) ([]*ProbeService, error)

	// Stop cancels all active browse operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find when ctx has no deadline.
	// Default: 5 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// FilterFunc selects probes.
type FilterFunc func(*ProbeService) bool

// FilterByGroup matches probes serving any of the given groups.
func FilterByGroup(groups ...string) FilterFunc {
	want := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		want[g] = struct{}{}
	}
	return func(svc *ProbeService) bool {
		for _, g := range svc.Groups {
			if _, ok := want[g]; ok {
				return true
			}
		}
		return false
	}
}

// FilterByTarget matches probes serving the named target.
func FilterByTarget(target string) FilterFunc {
	return func(svc *ProbeService) bool {
		return svc.Target == target
	}
}

// FilterBrowseResults filters a channel of probes.
func FilterBrowseResults(in <-chan *ProbeService, filter FilterFunc) <-chan *ProbeService {
	out := make(chan *ProbeService)
	go func() {
		defer close(out)
		for svc := range in {
			if filter(svc) {
				out <- svc
			}
		}
	}()
	return out
}

// ServiceEntry is a raw mDNS answer, independent of the mDNS library.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToProbeService decodes the entry's TXT records.
func (e *ServiceEntry) ToProbeService() (*ProbeService, error) {
	info, err := DecodeProbeTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	return &ProbeService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
		ID:           info.ID,
		Name:         info.Name,
		Target:       info.Target,
		Groups:       info.Groups,
		Cores:        info.Cores,
	}, nil
}

// tracker merges answers for the same instance across interfaces.
type tracker struct {
	services map[string]*ProbeService
}

func newTracker() *tracker {
	return &tracker{services: make(map[string]*ProbeService)}
}

// add records an answer. It returns the probe and true the first time the
// instance is seen. Entries with invalid TXT records are ignored.
func (t *tracker) add(e *ServiceEntry) (*ProbeService, bool) {
	svc, err := e.ToProbeService()
	if err != nil {
		return nil, false
	}
	if existing, found := t.services[svc.InstanceName]; found {
		existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
		return existing, false
	}
	t.services[svc.InstanceName] = svc
	return svc, true
}

// remove withdraws the entry's addresses. It returns the probe and true when
// its last address is gone.
func (t *tracker) remove(e *ServiceEntry) (*ProbeService, bool) {
	existing, found := t.services[e.Instance]
	if !found {
		return nil, false
	}
	existing.Addresses = removeAddresses(existing.Addresses, e.Addrs)
	if len(existing.Addresses) > 0 {
		return existing, false
	}
	delete(t.services, e.Instance)
	return existing, true
}

// relay turns raw answers into added/removed probe events until ctx is done
// or entries is closed. It closes both output channels.
func relay(ctx context.Context, entries, withdrawn <-chan *ServiceEntry, added, removed chan<- *ProbeService) {
	defer close(added)
	defer close(removed)

	t := newTracker()
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return
			}
			if svc, isNew := t.add(e); isNew {
				select {
				case added <- svc:
				case <-ctx.Done():
					return
				}
			}

		case e, ok := <-withdrawn:
			if !ok {
				withdrawn = nil
				continue
			}
			if svc, gone := t.remove(e); gone {
				select {
				case removed <- svc:
				case <-ctx.Done():
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses filters drop out of addresses.
func removeAddresses(addresses, drop []string) []string {
	toRemove := make(map[string]bool, len(drop))
	for _, addr := range drop {
		toRemove[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// find reads added probes until one matches id (any probe when id is empty).
func find(ctx context.Context, added <-chan *ProbeService, id string) (*ProbeService, error) {
	for {
		select {
		case svc, ok := <-added:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, ErrNotFound
			}
			if id == "" || svc.ID == id {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// collect drains added probes until ctx is done or the channel closes.
func collect(ctx context.Context, added <-chan *ProbeService) []*ProbeService {
	results := []*ProbeService{}
	for {
		select {
		case svc, ok := <-added:
			if !ok {
				return results
			}
			results = append(results, svc)
		case <-ctx.Done():
			return results
		}
	}
}
