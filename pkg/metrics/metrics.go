// Package metrics exports daemon transport activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rescp17/dnssd-client/pkg/protocol"
	"github.com/rescp17/dnssd-client/pkg/transport"
)

// Config configures the transport metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "dnssd").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for acknowledgement latency.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "dnssd",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// TransportObserver implements transport.Observer.
//
// Metrics collected:
//   - dnssd_frames_sent_total: frames written, by op code
//   - dnssd_frames_received_total: frames read, by op code
//   - dnssd_bytes_sent_total / dnssd_bytes_received_total
//   - dnssd_acknowledgements_total: daemon acknowledgements, by op code and result
//   - dnssd_acknowledgement_duration_seconds: time from write to acknowledgement
//   - dnssd_connections_closed_total: closed connections, by reason
type TransportObserver struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	bytesSent      prometheus.Counter
	bytesReceived  prometheus.Counter
	acks           *prometheus.CounterVec
	ackDuration    *prometheus.HistogramVec
	closed         *prometheus.CounterVec
}

// NewTransportObserver registers the transport metrics. Registering twice
// on the same registry panics, as with promauto.
func NewTransportObserver(opts ...Option) *TransportObserver {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &TransportObserver{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frames_sent_total",
			Help:        "Total number of frames written to the daemon",
			ConstLabels: config.ConstLabels,
		}, []string{"op"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frames_received_total",
			Help:        "Total number of frames read from the daemon",
			ConstLabels: config.ConstLabels,
		}, []string{"op"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "bytes_sent_total",
			Help:        "Total bytes written to the daemon",
			ConstLabels: config.ConstLabels,
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "bytes_received_total",
			Help:        "Total bytes read from the daemon",
			ConstLabels: config.ConstLabels,
		}),

		acks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "acknowledgements_total",
			Help:        "Total daemon acknowledgements by op code and result",
			ConstLabels: config.ConstLabels,
		}, []string{"op", "result"}),

		ackDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "acknowledgement_duration_seconds",
			Help:        "Time from request write to daemon acknowledgement",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"op"}),

		closed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "connections_closed_total",
			Help:        "Total daemon connections closed by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
	}
}

func (o *TransportObserver) FrameSent(op protocol.OpCode, size int) {
	o.framesSent.WithLabelValues(op.String()).Inc()
	o.bytesSent.Add(float64(size))
}

func (o *TransportObserver) FrameReceived(op protocol.OpCode, size int) {
	o.framesReceived.WithLabelValues(op.String()).Inc()
	o.bytesReceived.Add(float64(size))
}

func (o *TransportObserver) Acknowledged(op protocol.OpCode, err error, elapsed time.Duration) {
	o.acks.WithLabelValues(op.String(), ackResult(err)).Inc()
	o.ackDuration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
}

func (o *TransportObserver) Closed(reason transport.ClosedReason) {
	o.closed.WithLabelValues(reason.String()).Inc()
}

// ackResult maps an acknowledgement error to a low-cardinality label.
func ackResult(err error) string {
	if err == nil {
		return "ok"
	}
	var code protocol.ServiceError
	if errors.As(err, &code) {
		return code.String()
	}
	return "transport_error"
}

var _ transport.Observer = (*TransportObserver)(nil)

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
