// Package profiling hosts the optional pprof side server and the request
// timing middleware of the fitting service.
package profiling

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers the pprof handlers on DefaultServeMux
	"runtime"
	"time"

	"github.com/apex/log"
)

// Profiler serves pprof endpoints on a separate port so profiling traffic
// never competes with fit requests.
type Profiler struct {
	port    string
	enabled bool
	server  *http.Server
}

// New creates a profiler listening on the given port when enabled.
func New(port string, enabled bool) *Profiler {
	return &Profiler{port: port, enabled: enabled}
}

// Start launches the profiling server. Disabled profilers start nothing.
func (p *Profiler) Start() error {
	if !p.enabled {
		log.Debug("profiling disabled")
		return nil
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
	mux.HandleFunc("/debug/info", p.infoHandler)

	p.server = &http.Server{
		Addr:    ":" + p.port,
		Handler: mux,
	}

	log.WithField("port", p.port).Info("profiling server started")
	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("profiling server")
		}
	}()
	return nil
}

// Stop shuts the profiling server down.
func (p *Profiler) Stop() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("profiling server shutdown: %w", err)
	}
	return nil
}

// infoHandler reports runtime and memory statistics.
func (p *Profiler) infoHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
  "timestamp": %q,
  "goroutines": %d,
  "num_cpu": %d,
  "version": %q,
  "alloc_mb": %.2f,
  "sys_mb": %.2f,
  "heap_objects": %d,
  "num_gc": %d,
  "gc_pause_total_ms": %.3f,
  "last_gc": %q
}`,
		time.Now().Format(time.RFC3339),
		runtime.NumGoroutine(),
		runtime.NumCPU(),
		runtime.Version(),
		bToMb(m.Alloc),
		bToMb(m.Sys),
		m.HeapObjects,
		m.NumGC,
		float64(m.PauseTotalNs)/1e6,
		time.Unix(0, int64(m.LastGC)).Format(time.RFC3339))
}

// ForceGC triggers a garbage collection pass and returns the run count.
func ForceGC() uint32 {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.NumGC
}

func bToMb(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
