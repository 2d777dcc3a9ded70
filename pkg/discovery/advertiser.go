package discovery

import (
	"context"
	"time"
)

// Advertiser publishes probes on the network.
type Advertiser interface {
	// Advertise starts advertising a probe. Advertising the same ID again
	// replaces the previous registration.
	Advertise(ctx context.Context, info *ProbeInfo) error

	// Update replaces the TXT records of an advertised probe.
	Update(info *ProbeInfo) error

	// Stop withdraws the probe with the given ID.
	Stop(id string) error

	// StopAll withdraws every probe.
	StopAll()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: DefaultTTL,
	}
}
