package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance
	Logger *zap.Logger

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "join_requests_total",
			Help: "Total number of join requests by outcome",
		},
		[]string{"outcome"},
	)

	platformActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_actions_total",
			Help: "Total number of outbound platform actions",
		},
		[]string{"action", "result"},
	)
)

// Server exposes the metrics endpoint as a lifecycle component.
type Server struct {
	addr string
	srv  *http.Server
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

// Init wires the zap logger, the tracer provider and metric registration.
func Init(ctx context.Context) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(platformActionsTotal)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return nil
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// RecordOutcome counts a terminal (or parked) request transition.
func RecordOutcome(outcome string) {
	requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordPlatformAction counts an outbound action attempt result.
func RecordPlatformAction(action, result string) {
	platformActionsTotal.WithLabelValues(action, result).Inc()
}
