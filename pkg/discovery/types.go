package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of probe servers.
	ServiceType = "_regbind._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default probe port.
	DefaultPort = 7450
)

// TXT record keys.
const (
	TXTKeyID     = "id"
	TXTKeyName   = "name"
	TXTKeyTarget = "target"
	TXTKeyGroups = "groups"
	TXTKeyCores  = "cores"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for Find.
	BrowseTimeout = 5 * time.Second

	// DefaultTTL is the DNS record TTL used by the advertiser.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400

	// MaxIDLen is the longest accepted probe ID.
	MaxIDLen = 32
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrTXTTooLarge         = errors.New("TXT record exceeds 400 bytes")
	ErrNotFound            = errors.New("service not found")
)

// ProbeInfo describes a probe to advertise.
type ProbeInfo struct {
	// ID identifies the probe. Required.
	ID string

	// Name is a human-readable name, also used as the instance name.
	Name string

	// Target is the name of the target behind the probe.
	Target string

	// Groups lists the register groups the probe serves.
	Groups []string

	// Cores is the number of cores of the target.
	Cores int

	// Port is the service port. Zero means DefaultPort.
	Port uint16
}

// InstanceName returns the mDNS instance name for the probe.
func (p *ProbeInfo) InstanceName() string {
	name := p.Name
	if name == "" {
		name = "regbind-" + p.ID
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// ProbeService is a probe found on the network.
type ProbeService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised hostname.
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains the resolved IP addresses, merged across interfaces.
	Addresses []string

	ID     string
	Name   string
	Target string
	Groups []string
	Cores  int
}

// Address returns host:port for the first resolved address, or for the
// hostname when no address is known.
func (s *ProbeService) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// DisplayName returns Name, or the instance name when Name is empty.
func (s *ProbeService) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.InstanceName
}
