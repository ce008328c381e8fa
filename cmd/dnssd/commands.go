package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/dnssd-client/internal/util"
	"github.com/rescp17/dnssd-client/pkg/browser"
	"github.com/rescp17/dnssd-client/pkg/discovery"
	"github.com/rescp17/dnssd-client/pkg/dnssd"
	"github.com/rescp17/dnssd-client/pkg/operation"
	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/txtrecord"
	"github.com/rescp17/dnssd-client/pkg/ui"
)

// Lookup table column widths.
var lookupColumns = []int{20, 14, 10, 40, 44, 8}

func (a *cli) browseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <type> [domain]",
		Short: "Browse for service instances",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceType := args[0]
			domain := ""
			if len(args) > 1 {
				domain = dotEmpty(args[1])
			}
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), func(ctx context.Context, c *dnssd.Client) error {
				c.OnBrowse(func(_ *operation.Token, ev operation.BrowseEvent) {
					fmt.Fprintf(out, "Browse - Service %s: %s\n", title(ev.Type), ev.Descriptor)
				})
				_, err := c.Browse(ctx, serviceType, domain, a.cfg.InterfaceIndex)
				return err
			})
		},
	}
}

func (a *cli) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <name> <type> <domain> <port> [txt...]",
		Short: "Register a service",
		Long:  "Register a service. Use . for an empty name or domain. TXT strings accept \\xHH and \\c escapes.",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.ParseUint(args[3], 10, 16)
			if err != nil {
				return fmt.Errorf("the port argument contains invalid data [%s]", args[3])
			}
			txt, err := txtrecord.FromArgs(args[4:])
			if err != nil {
				return err
			}
			params := protocol.RegisterParams{
				InstanceName:   dotEmpty(args[0]),
				ServiceType:    args[1],
				Domain:         dotEmpty(args[2]),
				Port:           uint16(port),
				TXT:            txt,
				InterfaceIndex: a.cfg.InterfaceIndex,
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registering service instance [%s] with service type [%s]\n", params.InstanceName, params.ServiceType)
			return a.run(cmd.Context(), func(ctx context.Context, c *dnssd.Client) error {
				c.OnRegister(func(_ *operation.Token, ev operation.RegisterEvent) {
					if ev.Type == operation.EventError {
						fmt.Fprintf(out, "Register: Service Registration Error: %s while trying to register: %s\n", ev.Error, ev.Descriptor)
						return
					}
					fmt.Fprintf(out, "Register: Service Registration %s: %s\n", title(ev.Type), ev.Descriptor)
				})
				_, err := c.Register(ctx, params)
				return err
			})
		},
	}
}

func (a *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <name> <type> [domain]",
		Short: "Resolve a service instance",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			serviceType := normalizeType(args[1])
			domain := discovery.DefaultDomain
			if len(args) > 2 && args[2] != "." {
				domain = args[2]
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Resolve [%s.%s.%s]\n", name, serviceType, domain)
			return a.run(cmd.Context(), func(ctx context.Context, c *dnssd.Client) error {
				c.OnResolve(func(_ *operation.Token, ev operation.ResolveEvent) {
					fmt.Fprintf(out, "Service Resolved: %s", ev)
				})
				_, err := c.Resolve(ctx, name, serviceType, domain, a.cfg.InterfaceIndex)
				return err
			})
		},
	}
}

func (a *cli) lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <v4|v6|v4v6> <host>",
		Short: "Get address information for a host name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := parseProtocol(args[0])
			if err != nil {
				return err
			}
			host := args[1]
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Lookup [%s]\n", host)
			fmt.Fprintln(out, util.Columns(lookupColumns, "Timestamp", "Event", "Interface", "Hostname", "Address", "TTL"))
			return a.run(cmd.Context(), func(ctx context.Context, c *dnssd.Client) error {
				c.OnLookup(func(_ *operation.Token, ev operation.LookupEvent) {
					fmt.Fprintln(out, lookupRow(time.Now(), ev))
				})
				_, err := c.Lookup(ctx, host, proto, a.withTimeout, a.cfg.InterfaceIndex)
				return err
			})
		},
	}
}

func (a *cli) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := a.newClient()
			defer client.Close()
			running, err := client.Probe(cmd.Context(), false)
			if err != nil {
				return err
			}
			if running {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon is running at %s\n", a.cfg.Address)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon is not running at %s\n", a.cfg.Address)
			}
			return nil
		},
	}
}

func (a *cli) discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <type> [domain]",
		Short: "Print snapshots of resolved instances using the selected backend",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceType := normalizeType(args[0])
			domain := discovery.DefaultDomain
			if len(args) > 1 && args[1] != "." {
				domain = args[1]
			}
			out := cmd.OutOrStdout()
			return a.run(cmd.Context(), func(ctx context.Context, c *dnssd.Client) error {
				adapter, _, err := a.adapter(ctx, c)
				if err != nil {
					return err
				}
				results := adapter.Discover(ctx, serviceType, domain)
				go printSnapshots(out, results)
				return nil
			})
		},
	}
}

func (a *cli) announceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "announce <name> <type> <port> [key=value...]",
		Short: "Advertise a service using the selected backend",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[2])
			if err != nil || port <= 0 || port > 0xFFFF {
				return fmt.Errorf("the port argument contains invalid data [%s]", args[2])
			}
			info := discovery.ServiceInfo{
				Name:   args[0],
				Type:   normalizeType(args[1]),
				Domain: discovery.DefaultDomain,
				Port:   port,
				Text:   parseText(args[3:]),
			}
			return a.run(cmd.Context(), func(ctx context.Context, c *dnssd.Client) error {
				adapter, _, err := a.adapter(ctx, c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Announcing %s on port %d\n", info.Key(), info.Port)
				return adapter.Announce(ctx, info)
			})
		},
	}
}

func (a *cli) tuiCmd() *cobra.Command {
	var domain string
	var types []string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse service types and instances interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := a.newClient()
			defer client.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			adapter, enumerator, err := a.adapter(ctx, client)
			if err != nil {
				return err
			}
			app := browser.NewApp(enumerator, adapter, domain, types, a.logger)

			g, ctx := errgroup.WithContext(ctx)
			if a.metrics != nil {
				a.serveMetrics(ctx, g)
			}
			g.Go(func() error {
				return app.Run(ctx)
			})
			g.Go(func() error {
				defer cancel()
				p := tea.NewProgram(ui.InitialModel(app, domain), tea.WithContext(ctx))
				if _, err := p.Run(); err != nil && ctx.Err() == nil {
					return fmt.Errorf("alas, there's been an error: %w", err)
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&domain, "domain", discovery.DefaultDomain, "Domain to browse")
	cmd.Flags().StringSliceVar(&types, "types", nil, "Service types offered when the daemon cannot enumerate them")
	return cmd
}

func printSnapshots(out io.Writer, results <-chan discovery.DiscoveryResult) {
	for res := range results {
		if res.Error != nil {
			fmt.Fprintf(out, "Discovery error: %v\n", res.Error)
			continue
		}
		fmt.Fprintf(out, "%d instance(s)\n", len(res.Services))
		for _, s := range res.Services {
			addr := "-"
			if s.Addr != nil {
				addr = s.Addr.String()
			}
			fmt.Fprintf(out, "  %s %s:%d (%s)\n", util.PadRight(s.Name, 24), s.Host, s.Port, addr)
		}
	}
}

func lookupRow(now time.Time, ev operation.LookupEvent) string {
	addr := ""
	if ev.Addr.IsValid() {
		addr = ev.Addr.String()
	}
	return util.Columns(lookupColumns,
		now.Format("01/02/2006 15:04:05"),
		title(ev.Type),
		strconv.FormatUint(uint64(ev.InterfaceIndex), 10),
		ev.HostName,
		addr,
		util.FormatTTL(ev.TTL),
	)
}

// dotEmpty lets "." stand for an empty argument.
func dotEmpty(s string) string {
	if s == "." {
		return ""
	}
	return s
}

// normalizeType defaults an empty type to _http._tcp and gives a bare
// service name the _tcp protocol.
func normalizeType(t string) string {
	switch {
	case t == "" || t == ".":
		return discovery.DefaultServiceType
	case !strings.Contains(t, "."):
		return t + "._tcp"
	default:
		return t
	}
}

func parseProtocol(s string) (protocol.ProtocolFlags, error) {
	switch strings.ToLower(s) {
	case "v4":
		return protocol.ProtocolIPv4, nil
	case "v6":
		return protocol.ProtocolIPv6, nil
	case "v4v6", "v6v4":
		return protocol.ProtocolIPv4v6, nil
	case "udp":
		return protocol.ProtocolUDP, nil
	case "tcp":
		return protocol.ProtocolTCP, nil
	case "udptcp", "tcpudp":
		return protocol.ProtocolUDP | protocol.ProtocolTCP, nil
	default:
		return 0, fmt.Errorf("unrecognized protocol value %q", s)
	}
}

func parseText(args []string) map[string]string {
	if len(args) == 0 {
		return nil
	}
	text := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		text[key] = value
	}
	return text
}

// title renders an event type the way the console output spells it.
func title(t operation.EventType) string {
	s := strings.ReplaceAll(t.String(), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
