package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brutella/dnssd"
)

// MDNSAdapter speaks multicast DNS directly, without a daemon.
type MDNSAdapter struct {
	Logger *slog.Logger
}

func (m *MDNSAdapter) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *MDNSAdapter) Announce(ctx context.Context, serviceInfo ServiceInfo) error {
	cfg := dnssd.Config{
		Name:   serviceInfo.Name,
		Type:   trimDot(serviceInfo.Type),
		Domain: trimDot(serviceInfo.Domain),
		Host:   serviceInfo.Host,
		// mdns will multicast to ip address, so we can leave it nil
		IPs:  nil,
		Text: serviceInfo.Text,
		Port: serviceInfo.Port,
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	if err = rp.Respond(ctx); err != nil {
		// Context cancellation is not an error in normal operation
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}

	m.logger().Info("Shutting down mDNS responder", "service", serviceInfo.Key())
	return nil
}

func (m *MDNSAdapter) Discover(ctx context.Context, serviceType, domain string) <-chan DiscoveryResult {
	if domain == "" {
		domain = DefaultDomain
	}
	var (
		mu      sync.Mutex
		entries = make(map[string]ServiceInfo)
		outCh   = make(chan DiscoveryResult, 10)
		service = fmt.Sprintf("%s.%s.", trimDot(serviceType), trimDot(domain))
	)

	sendSnapshot := func() {
		mu.Lock()
		defer mu.Unlock()
		select {
		case outCh <- DiscoveryResult{Services: snapshot(entries)}:
		default:
			m.logger().Warn("Dropping discovery snapshot, channel full", "service", service)
		}
	}

	sendError := func(err error) {
		select {
		case outCh <- DiscoveryResult{Error: err}:
		default:
		}
	}

	addFn := func(e dnssd.BrowseEntry) {
		info := ServiceInfo{
			Name:   e.Name,
			Type:   e.Type,
			Domain: e.Domain,
			Host:   e.Host,
			Port:   e.Port,
			Text:   e.Text,
		}
		if len(e.IPs) > 0 {
			info.Addr = e.IPs[0]
		}
		mu.Lock()
		entries[info.Key()] = info
		mu.Unlock()
		sendSnapshot()
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		info := ServiceInfo{Name: e.Name, Type: e.Type, Domain: e.Domain}
		mu.Lock()
		delete(entries, info.Key())
		mu.Unlock()
		sendSnapshot()
	}

	go func() {
		defer close(outCh)
		err := dnssd.LookupType(ctx, service, addFn, rmvFn)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			sendError(fmt.Errorf("mDNS lookup failed: %w", err))
		}
	}()

	return outCh
}

var _ Adapter = (*MDNSAdapter)(nil)
