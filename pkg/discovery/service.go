package discovery

import (
	"context"
	"net"
	"sort"
	"strings"
)

const (
	DefaultServiceType = "_http._tcp"
	DefaultDomain      = "local"
)

type ServiceInfo struct {
	Name   string // instance name
	Type   string // service type, e.g., "_http._tcp"
	Domain string // domain, e.g., "local"
	Host   string
	Addr   net.IP
	Port   int
	Text   map[string]string
}

// Key identifies an instance independently of where it resolved to.
func (s ServiceInfo) Key() string {
	return strings.Join([]string{s.Name, trimDot(s.Type), trimDot(s.Domain)}, ":")
}

// DiscoveryResult carries either a snapshot of every known instance or an error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	// Announce advertises service until ctx is done.
	Announce(ctx context.Context, service ServiceInfo) error
	// Discover reports snapshots of the instances of serviceType in domain
	// until ctx is done, then closes the channel.
	Discover(ctx context.Context, serviceType, domain string) <-chan DiscoveryResult
}

func trimDot(s string) string {
	return strings.TrimSuffix(s, ".")
}

// snapshot returns the entries sorted by key so consumers see a stable order.
func snapshot(entries map[string]ServiceInfo) []ServiceInfo {
	out := make([]ServiceInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
