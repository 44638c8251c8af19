// Package mdns announces the hub dashboard over DNS-SD so phones on the
// same network can find it without typing an IP address. Discovery exposes
// presence and the dashboard port only; the master token still gates every
// page behind it.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	// serviceName is the DNS-SD service type registered for hubs.
	serviceName = "_itwillsync._tcp"

	// mdnsDomain is the standard link-local DNS-SD domain.
	mdnsDomain = "local."

	// ProtocolVersion is announced in TXT records so future clients can
	// detect incompatible hubs before connecting.
	ProtocolVersion = "1"
)

// TXT record keys. Kept together with their codec so the announce and
// discover sides can never drift apart.
const (
	txtKeyVersion = "version"
	txtKeyName    = "name"
)

// encodeTXT builds the TXT record set for an announcement.
func encodeTXT(instance string) []string {
	return []string{
		txtKeyVersion + "=" + ProtocolVersion,
		txtKeyName + "=" + instance,
	}
}

// decodeTXT extracts the fields this package announces from a TXT record
// set. Unknown keys and malformed records are ignored.
func decodeTXT(records []string) (name, version string) {
	for _, rec := range records {
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch key {
		case txtKeyVersion:
			version = value
		case txtKeyName:
			name = value
		}
	}
	return name, version
}

// Config holds announcement parameters.
type Config struct {
	// Port is the dashboard port to announce.
	Port int

	// Name is the instance name shown to browsers. Defaults to the system
	// hostname.
	Name string
}

// Advertiser owns one DNS-SD registration for the hub.
type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Nothing is announced until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// instanceName resolves the announced instance name: configured name first,
// then the hostname, then a fixed fallback.
func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "itwillsync"
}

// Start registers the service. Calling Start on a running advertiser is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	instance := a.instanceName()
	server, err := zeroconf.Register(instance, serviceName, mdnsDomain, a.config.Port, encodeTXT(instance), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the announcement. Safe to call repeatedly, including on an
// advertiser that never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// IsRunning reports whether an announcement is active.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHub is one hub found on the network.
type DiscoveredHub struct {
	Name    string
	Host    string
	Port    int
	Version string
}

// Discover browses for hubs until ctx expires and returns everything seen.
// Nothing in this repository calls it; phones rely on their platform's
// native service discovery instead.
func Discover(ctx context.Context) ([]DiscoveredHub, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	found := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, serviceName, mdnsDomain, found); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes the channel once the context ends, so draining it in
	// place doubles as the wait.
	var hubs []DiscoveredHub
	for entry := range found {
		hubs = append(hubs, entryToHub(entry))
	}
	return hubs, nil
}

// entryToHub converts a raw service entry into the discovery result,
// preferring TXT metadata over the bare DNS-SD instance name.
func entryToHub(entry *zeroconf.ServiceEntry) DiscoveredHub {
	name, version := decodeTXT(entry.Text)
	if name == "" {
		name = entry.Instance
	}

	host := ""
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}

	return DiscoveredHub{
		Name:    name,
		Host:    host,
		Port:    entry.Port,
		Version: version,
	}
}
