package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	dnssdlog "github.com/brutella/dnssd/log"
	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/dnssd-client/internal/config"
	"github.com/rescp17/dnssd-client/internal/util"
	"github.com/rescp17/dnssd-client/pkg/discovery"
	"github.com/rescp17/dnssd-client/pkg/dnssd"
	"github.com/rescp17/dnssd-client/pkg/metrics"
	"github.com/rescp17/dnssd-client/pkg/transport"
)

// cli holds the settings shared by every command.
type cli struct {
	configPath  string
	iface       uint32
	withTimeout bool
	backend     string
	metricsAddr string
	logFile     string

	cfg     *config.Config
	logger  *slog.Logger
	logOut  io.Closer
	metrics *prometheus.Registry
}

func main() {
	app := &cli{}
	cmd := &cobra.Command{
		Use:               "dnssd",
		Short:             "Browse, register, resolve and look up services through the DNS-SD daemon",
		SilenceUsage:      true,
		PersistentPreRunE: app.setup,
		PersistentPostRun: func(*cobra.Command, []string) { app.teardown() },
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "Path to a TOML config file")
	flags.Uint32Var(&app.iface, "interface", 0, "Run the command on a specific interface index")
	flags.BoolVar(&app.withTimeout, "timeout", false, "Set the timeout flag on address lookups")
	flags.StringVar(&app.backend, "backend", config.BackendAuto, "Discovery backend for tui/discover/announce: auto, daemon or mdns")
	flags.StringVar(&app.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&app.logFile, "log-file", "", "Write logs to this file")

	cmd.AddCommand(
		app.browseCmd(),
		app.registerCmd(),
		app.resolveCmd(),
		app.lookupCmd(),
		app.probeCmd(),
		app.discoverCmd(),
		app.announceCmd(),
		app.tuiCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := fang.Execute(ctx, cmd); err != nil {
		stop()
		os.Exit(1)
	}
}

// setup merges the config file with the flags that were set and routes
// logs to the log file.
func (a *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("interface") {
		cfg.InterfaceIndex = a.iface
	}
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = a.metricsAddr
	}
	if flags.Changed("log-file") {
		cfg.LogFile = a.logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	f, err := util.OpenLogFile(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	a.logOut = f
	log.SetOutput(f)
	dnssdlog.Info.SetOutput(f)
	dnssdlog.Debug.SetOutput(io.Discard)
	a.logger = slog.New(slog.NewTextHandler(f, nil)).With("session", uuid.NewString())
	slog.SetDefault(a.logger)

	if cfg.MetricsAddr != "" {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return nil
}

func (a *cli) teardown() {
	if a.logOut != nil {
		if err := a.logOut.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}
}

// newClient builds a daemon client whose transports report to the metrics
// registry when one is configured.
func (a *cli) newClient() *dnssd.Client {
	var opts []transport.Option
	if a.metrics != nil {
		opts = append(opts, transport.WithObserver(metrics.NewTransportObserver(metrics.WithRegistry(a.metrics))))
	}
	provider := transport.NewTCPProvider(a.cfg, opts...)
	provider.SetLogger(a.logger)
	return dnssd.New(dnssd.WithConfig(a.cfg), dnssd.WithProvider(provider), dnssd.WithLogger(a.logger))
}

// run starts the command's operations and keeps them alive until ctx is
// done. The metrics server, if any, runs alongside.
func (a *cli) run(ctx context.Context, start func(ctx context.Context, c *dnssd.Client) error) error {
	client := a.newClient()
	defer func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("Failed to close client", "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if a.metrics != nil {
		a.serveMetrics(ctx, g)
	}
	g.Go(func() error {
		if err := start(ctx, client); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func (a *cli) serveMetrics(ctx context.Context, g *errgroup.Group) {
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           metrics.Handler(a.metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("Serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// adapter picks the discovery backend. With "auto" the daemon is used when
// it answers a probe. The returned client is nil for the mDNS backend.
func (a *cli) adapter(ctx context.Context, client *dnssd.Client) (discovery.Adapter, *dnssd.Client, error) {
	switch a.cfg.Backend {
	case config.BackendMDNS:
		return &discovery.MDNSAdapter{Logger: a.logger}, nil, nil
	case config.BackendDaemon:
		return discovery.NewDaemonAdapter(client, a.cfg.InterfaceIndex, a.logger), client, nil
	}
	running, err := client.Probe(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	if !running {
		a.logger.Info("Daemon not running, falling back to mDNS")
		return &discovery.MDNSAdapter{Logger: a.logger}, nil, nil
	}
	return discovery.NewDaemonAdapter(client, a.cfg.InterfaceIndex, a.logger), client, nil
}
