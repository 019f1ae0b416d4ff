// Package server wires the fitting service: HTTP routes, worker pool,
// webhook delivery, metrics and profiling.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echemlab/eisfit/internal/processing"
	"github.com/echemlab/eisfit/pkg/config"
	"github.com/echemlab/eisfit/pkg/handlers"
	"github.com/echemlab/eisfit/pkg/models"
	"github.com/echemlab/eisfit/pkg/profiling"
	"github.com/echemlab/eisfit/pkg/webhook"
	"github.com/echemlab/eisfit/pkg/worker"
)

// Server is the HTTP fitting service with all its dependencies.
type Server struct {
	config        *config.Config
	serverConfig  *config.ServerConfig
	processor     *processing.Processor
	workerPool    *worker.Pool
	webhookClient *webhook.Client
	httpServer    *http.Server
	profiler      *profiling.Profiler
	middleware    *profiling.Middleware
	metrics       *metrics
}

// metrics are the Prometheus instruments of the service.
type metrics struct {
	fitsTotal   prometheus.Counter
	fitFailures prometheus.Counter
	fitDuration prometheus.Histogram
	registry    *prometheus.Registry
}

func newMetrics() *metrics {
	m := &metrics{
		fitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eisfit_fits_total",
			Help: "Number of spectrum fits attempted.",
		}),
		fitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eisfit_fit_failures_total",
			Help: "Number of spectrum fits that returned an error.",
		}),
		fitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eisfit_fit_duration_seconds",
			Help:    "Wall time of a single spectrum fit.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.fitsTotal, m.fitFailures, m.fitDuration)
	return m
}

// Options configures a new server.
type Options struct {
	Config       *config.Config
	ServerConfig *config.ServerConfig
}

// New creates a server instance with its pool, webhook client, profiler and
// routes.
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.ServerConfig == nil {
		opts.ServerConfig = config.DefaultServerConfig()
	}

	s := &Server{
		config:        opts.Config,
		serverConfig:  opts.ServerConfig,
		processor:     processing.NewProcessor(),
		webhookClient: webhook.NewClient(opts.ServerConfig.WebhookURL),
		profiler:      profiling.New(opts.ServerConfig.ProfilingPort, opts.ServerConfig.EnableProfiling),
		middleware:    profiling.NewMiddleware(opts.ServerConfig.EnableProfiling),
		metrics:       newMetrics(),
	}

	s.workerPool = worker.New(worker.Options{
		Workers:   opts.ServerConfig.WorkerCount,
		Processor: s.instrumentedProcessor(),
		Webhook:   s.deliverWebhook,
	})

	s.setupRoutes()
	return s
}

// instrumentedProcessor wraps the fit with the Prometheus instruments.
func (s *Server) instrumentedProcessor() worker.ProcessorFunc {
	return func(freqs []float64, impData [][2]float64) (models.FitReport, error) {
		s.metrics.fitsTotal.Inc()
		start := time.Now()
		report, err := s.processor.Process(freqs, impData, s.config)
		s.metrics.fitDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.fitFailures.Inc()
		}
		return report, err
	}
}

func (s *Server) deliverWebhook(item models.WebhookItem) {
	if err := s.webhookClient.Send(item); err != nil {
		log.WithError(err).WithField("request_id", item.RequestID).Warn("webhook delivery failed")
	}
}

func (s *Server) elementImpedances(report models.FitReport, freqs []float64) []models.ElementImpedance {
	elements, err := s.processor.ElementImpedances(report.Circuit, report.Values, freqs)
	if err != nil {
		log.WithError(err).Warn("element impedance evaluation failed")
		return nil
	}
	return elements
}

func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	fitHandler := handlers.NewFitHandler(s.workerPool, s.instrumentedProcessor(), s.elementImpedances)
	batchHandler := handlers.NewBatchHandler(s.workerPool, s.elementImpedances, s.serverConfig.WorkerCount)

	mux.Handle("/fit", s.middleware.Handler("fit-single", fitHandler))
	mux.Handle("/fit/batch", s.middleware.Handler("fit-batch", batchHandler))
	mux.HandleFunc("/health", s.healthHandler)
	if s.serverConfig.EnableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         ":" + s.serverConfig.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().Format(time.RFC3339))
}

// Start runs the profiler and then the HTTP server, blocking until the
// listener fails or the server is shut down.
func (s *Server) Start() error {
	if err := s.profiler.Start(); err != nil {
		log.WithError(err).Error("profiler start failed")
	}

	log.WithFields(log.Fields{
		"port":    s.serverConfig.Port,
		"workers": s.serverConfig.WorkerCount,
	}).Info("starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, the profiler and the worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := s.profiler.Stop(); err != nil {
		log.WithError(err).Warn("profiler shutdown")
	}
	s.workerPool.Shutdown()
	return nil
}
