// Package browser drives the interactive service browser: it lists the
// service types advertised in a domain and discovers the instances of the
// type the user picks.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	appevents "github.com/rescp17/dnssd-client/internal/app_events"
	"github.com/rescp17/dnssd-client/pkg/discovery"
	"github.com/rescp17/dnssd-client/pkg/dnssd"
	"github.com/rescp17/dnssd-client/pkg/operation"
)

// ServiceTypeEnumeration is the meta-query answered with every service type
// in a domain.
const ServiceTypeEnumeration = "_services._dns-sd._udp"

// App is the logic controller behind the browser TUI.
type App struct {
	client       *dnssd.Client
	discoverer   discovery.Adapter
	domain       string
	defaultTypes []string
	logger       *slog.Logger

	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App

	mu            sync.Mutex
	types         map[string]struct{}
	stopDiscovery context.CancelFunc
}

// NewApp creates a browser. With a nil client the type list is not
// enumerated and defaultTypes is offered instead.
func NewApp(client *dnssd.Client, adapter discovery.Adapter, domain string, defaultTypes []string, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if len(defaultTypes) == 0 {
		defaultTypes = []string{discovery.DefaultServiceType}
	}
	return &App{
		client:       client,
		discoverer:   adapter,
		domain:       domain,
		defaultTypes: defaultTypes,
		logger:       logger,
		uiMessages:   make(chan tea.Msg, 10),
		appEvents:    make(chan appevents.AppEvent),
		types:        make(map[string]struct{}),
	}
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Run starts the application's main event loop.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if a.client == nil {
			a.send(ctx, appevents.TypesMsg{Types: a.defaultTypes})
			return nil
		}
		return a.runEnumeration(ctx)
	})

	g.Go(func() error {
		defer a.stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case event := <-a.appEvents:
				switch e := event.(type) {
				case appevents.SelectTypeEvent:
					a.startDiscovery(ctx, e.ServiceType)
				case appevents.BackEvent:
					a.stop()
				default:
					a.logger.Warn("Unhandled app event", "event", fmt.Sprintf("%T", e))
				}
			}
		}
	})

	return g.Wait()
}

func (a *App) runEnumeration(ctx context.Context) error {
	tok, err := a.client.Browse(ctx, ServiceTypeEnumeration, a.domain, operation.InterfaceAny, operation.WithContext(a))
	if err != nil {
		a.sendAndLogError(ctx, "Failed to enumerate service types", err)
		return nil
	}
	defer func() {
		if err := tok.Cancel(context.Background()); err != nil {
			a.logger.Debug("Failed to cancel type enumeration", "error", err)
		}
	}()
	tok.Subscribe(func(_ *operation.Token, s operation.State) {
		if s == operation.StateFaulted {
			go a.sendAndLogError(ctx, "Type enumeration stopped", errors.New("daemon connection faulted"))
		}
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-a.client.BrowseEvents():
			if !ok {
				return nil
			}
			if n.Token != tok {
				continue
			}
			a.recordType(n.Event)
			if !n.Event.MoreComing {
				a.send(ctx, appevents.TypesMsg{Types: a.typeList()})
			}
		}
	}
}

// recordType folds one enumeration answer into the type set. The daemon
// reports "_http._tcp" as instance "_http" of type "_tcp.local.".
func (a *App) recordType(ev operation.BrowseEvent) {
	st := ServiceTypeOf(ev.Descriptor)
	a.mu.Lock()
	defer a.mu.Unlock()
	if ev.Type == operation.EventRemoved {
		delete(a.types, st)
		return
	}
	a.types[st] = struct{}{}
}

func (a *App) typeList() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := make([]string, 0, len(a.types))
	for t := range a.types {
		list = append(list, t)
	}
	sort.Strings(list)
	return list
}

// ServiceTypeOf turns a type enumeration answer into a browsable type.
func ServiceTypeOf(d operation.ServiceDescriptor) string {
	proto := strings.SplitN(strings.TrimSuffix(d.ServiceType, "."), ".", 2)[0]
	return d.InstanceName + "." + proto
}

func (a *App) startDiscovery(ctx context.Context, serviceType string) {
	a.stop()
	dctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.stopDiscovery = cancel
	a.mu.Unlock()

	a.logger.Info("Discovering instances", "type", serviceType, "domain", a.domain)
	results := a.discoverer.Discover(dctx, serviceType, a.domain)
	go func() {
		for res := range results {
			if res.Error != nil {
				a.sendAndLogError(dctx, "Discovery failed", res.Error)
				continue
			}
			a.send(dctx, appevents.ServicesMsg{ServiceType: serviceType, Services: res.Services})
		}
	}()
}

func (a *App) stop() {
	a.mu.Lock()
	cancel := a.stopDiscovery
	a.stopDiscovery = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *App) send(ctx context.Context, msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-ctx.Done():
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(ctx context.Context, baseMessage string, err error) {
	a.logger.Error(baseMessage, "error", err)
	a.send(ctx, appevents.AppErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}
