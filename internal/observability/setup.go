package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/iamwavecut/modbot"

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modbot_decisions_total",
			Help: "Moderation decisions by action and violation class",
		},
		[]string{"action", "class"},
	)

	spamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modbot_spam_messages_total",
			Help: "Total number of spam messages detected",
		},
		[]string{"type"},
	)

	classifierFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modbot_classifier_failures_total",
			Help: "Classifier calls that failed and were skipped",
		},
	)

	bansSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modbot_bans_swept_total",
			Help: "Expired bans lifted by the sweeper",
		},
	)

	messageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modbot_message_processing_duration_seconds",
			Help:    "Time spent processing messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		decisionsTotal,
		spamMessagesTotal,
		classifierFailuresTotal,
		bansSweptTotal,
		messageProcessingDuration,
	)
}

func RecordDecision(action, class string) {
	if class == "" {
		class = "none"
	}
	decisionsTotal.WithLabelValues(action, class).Inc()
}

// RecordSpamDetection records a spam message detection
func RecordSpamDetection(spamType string) {
	spamMessagesTotal.WithLabelValues(spamType).Inc()
}

func RecordClassifierFailure() {
	classifierFailuresTotal.Inc()
}

func RecordBansSwept(n int) {
	if n > 0 {
		bansSweptTotal.Add(float64(n))
	}
}

// StartMessageProcessing returns a function to record message processing duration
func StartMessageProcessing() func(status string) {
	start := time.Now()
	return func(status string) {
		messageProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

// SetupTracing installs the SDK tracer provider globally. The returned
// function flushes and shuts it down.
func SetupTracing() func(context.Context) error {
	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// MetricsServer exposes the default Prometheus registry over HTTP.
type MetricsServer struct {
	addr string

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewMetricsServer(addr string) *MetricsServer {
	return &MetricsServer{addr: addr}
}

func (s *MetricsServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = ln
	s.done = make(chan struct{})

	srv, done := s.srv, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("metrics server started")
	return nil
}

// Addr returns the bound address once started.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *MetricsServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	<-done
	return nil
}
