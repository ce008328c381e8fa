package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/rescp17/dnssd-client/pkg/dnssd"
	"github.com/rescp17/dnssd-client/pkg/operation"
	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/txtrecord"
)

// DaemonAdapter discovers and announces through the system daemon. Every
// browsed instance is resolved, and its host looked up, before it shows up
// in a snapshot with an address.
type DaemonAdapter struct {
	client         *dnssd.Client
	logger         *slog.Logger
	interfaceIndex uint32
}

// tag is the user context of every operation started by the adapter. It
// routes the client's shared event callbacks back to the owning session.
type tag struct {
	session *daemonSession
	key     string
}

type registration struct {
	errCh chan error
}

func NewDaemonAdapter(client *dnssd.Client, interfaceIndex uint32, logger *slog.Logger) *DaemonAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &DaemonAdapter{client: client, logger: logger, interfaceIndex: interfaceIndex}
	client.OnBrowse(func(tok *operation.Token, ev operation.BrowseEvent) { route(tok, ev) })
	client.OnResolve(func(tok *operation.Token, ev operation.ResolveEvent) { route(tok, ev) })
	client.OnLookup(func(tok *operation.Token, ev operation.LookupEvent) { route(tok, ev) })
	client.OnRegister(func(tok *operation.Token, ev operation.RegisterEvent) {
		if r, ok := tok.Context().(*registration); ok && ev.Type == operation.EventError {
			r.fail(fmt.Errorf("register: %w", ev.Error))
		}
	})
	return a
}

func route(tok *operation.Token, ev any) {
	if t, ok := tok.Context().(*tag); ok {
		t.session.enqueue(sessionItem{key: t.key, token: tok, event: ev})
	}
}

func (r *registration) fail(err error) {
	select {
	case r.errCh <- err:
	default:
	}
}

func (a *DaemonAdapter) Announce(ctx context.Context, service ServiceInfo) error {
	txt, err := packText(service.Text)
	if err != nil {
		return err
	}
	reg := &registration{errCh: make(chan error, 1)}
	tok, err := a.client.Register(ctx, protocol.RegisterParams{
		InstanceName:   service.Name,
		ServiceType:    service.Type,
		Domain:         service.Domain,
		HostName:       service.Host,
		Port:           uint16(service.Port),
		TXT:            txt,
		InterfaceIndex: a.interfaceIndex,
	}, operation.WithContext(reg))
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	unsubscribe := tok.Subscribe(func(_ *operation.Token, s operation.State) {
		if s == operation.StateFaulted {
			reg.fail(fmt.Errorf("register %s: daemon connection faulted", service.Key()))
		}
	})
	defer unsubscribe()

	select {
	case <-ctx.Done():
		a.logger.Info("Withdrawing registration", "service", service.Key())
		return tok.Cancel(context.Background())
	case err := <-reg.errCh:
		_ = tok.Cancel(context.Background())
		return err
	}
}

func (a *DaemonAdapter) Discover(ctx context.Context, serviceType, domain string) <-chan DiscoveryResult {
	s := &daemonSession{
		adapter: a,
		out:     make(chan DiscoveryResult, 10),
		notify:  make(chan struct{}, 1),
		entries: make(map[string]ServiceInfo),
		ops:     make(map[string][]*operation.Token),
	}
	browseTag := &tag{session: s}
	tok, err := a.client.Browse(ctx, serviceType, domain, a.interfaceIndex, operation.WithContext(browseTag))
	if err != nil {
		s.out <- DiscoveryResult{Error: fmt.Errorf("daemon browse failed: %w", err)}
		close(s.out)
		return s.out
	}
	tok.Subscribe(func(_ *operation.Token, st operation.State) {
		if st == operation.StateFaulted {
			s.enqueue(sessionItem{event: fmt.Errorf("daemon browse of %s faulted", serviceType)})
		}
	})
	s.browse = tok
	go s.run(ctx)
	return s.out
}

type sessionItem struct {
	key   string
	token *operation.Token
	event any
}

// daemonSession owns one Discover call. Callbacks only queue events; the
// session goroutine starts the follow-up operations.
type daemonSession struct {
	adapter *DaemonAdapter
	out     chan DiscoveryResult
	browse  *operation.Token

	mu      sync.Mutex
	pending []sessionItem
	notify  chan struct{}

	entries map[string]ServiceInfo
	ops     map[string][]*operation.Token
}

func (s *daemonSession) enqueue(it sessionItem) {
	s.mu.Lock()
	s.pending = append(s.pending, it)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *daemonSession) drain() []sessionItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.pending
	s.pending = nil
	return items
}

func (s *daemonSession) run(ctx context.Context) {
	defer close(s.out)
	defer s.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
		for _, it := range s.drain() {
			if !s.handle(ctx, it) {
				return
			}
		}
	}
}

func (s *daemonSession) handle(ctx context.Context, it sessionItem) bool {
	logger := s.adapter.logger
	switch ev := it.event.(type) {
	case operation.BrowseEvent:
		d := ev.Descriptor
		key := ServiceInfo{Name: d.InstanceName, Type: d.ServiceType, Domain: d.Domain}.Key()
		if ev.Type == operation.EventRemoved {
			delete(s.entries, key)
			s.cancel(key)
			s.sendSnapshot()
			return true
		}
		if _, ok := s.entries[key]; ok {
			return true
		}
		s.entries[key] = ServiceInfo{Name: d.InstanceName, Type: trimDot(d.ServiceType), Domain: trimDot(d.Domain)}
		tok, err := s.adapter.client.ResolveDescriptor(ctx, d, operation.WithContext(&tag{session: s, key: key}))
		if err != nil {
			logger.Warn("Failed to resolve instance", "instance", d.String(), "error", err)
			return true
		}
		s.ops[key] = append(s.ops[key], tok)

	case operation.ResolveEvent:
		info, ok := s.entries[it.key]
		if !ok {
			return true
		}
		info.Host = ev.HostName
		info.Port = int(ev.Port)
		info.Text = unpackText(ev)
		s.entries[it.key] = info
		// One answer is enough.
		_ = it.token.Cancel(context.Background())
		tok, err := s.adapter.client.Lookup(ctx, ev.HostName, protocol.ProtocolIPv4, true, ev.InterfaceIndex,
			operation.WithContext(&tag{session: s, key: it.key}))
		if err != nil {
			logger.Warn("Failed to look up host", "host", ev.HostName, "error", err)
		} else {
			s.ops[it.key] = append(s.ops[it.key], tok)
		}
		s.sendSnapshot()

	case operation.LookupEvent:
		info, ok := s.entries[it.key]
		if !ok {
			return true
		}
		if ev.Type != operation.EventAdded || !ev.Addr.IsValid() {
			logger.Debug("Lookup produced no address", "host", ev.HostName, "event", ev.Type)
			return true
		}
		info.Addr = net.IP(ev.Addr.AsSlice())
		s.entries[it.key] = info
		s.sendSnapshot()

	case error:
		select {
		case s.out <- DiscoveryResult{Error: ev}:
		default:
		}
		return false
	}
	return true
}

func (s *daemonSession) sendSnapshot() {
	select {
	case s.out <- DiscoveryResult{Services: snapshot(s.entries)}:
	default:
		s.adapter.logger.Warn("Dropping discovery snapshot, channel full")
	}
}

func (s *daemonSession) cancel(key string) {
	for _, tok := range s.ops[key] {
		_ = tok.Cancel(context.Background())
	}
	delete(s.ops, key)
}

func (s *daemonSession) stop() {
	for key := range s.ops {
		s.cancel(key)
	}
	if err := s.browse.Cancel(context.Background()); err != nil {
		s.adapter.logger.Debug("Failed to cancel browse", "error", err)
	}
}

func packText(text map[string]string) ([]byte, error) {
	if len(text) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(text))
	for k := range text {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	records := make([]txtrecord.Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, txtrecord.Record(k+"="+text[k]))
	}
	return txtrecord.Pack(records)
}

func unpackText(ev operation.ResolveEvent) map[string]string {
	records, err := ev.Records()
	if err != nil || len(records) == 0 {
		return nil
	}
	text := make(map[string]string, len(records))
	for _, r := range records {
		key, value, _ := r.KeyValue()
		text[key] = string(value)
	}
	return text
}

var _ Adapter = (*DaemonAdapter)(nil)
