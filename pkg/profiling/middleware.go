package profiling

import (
	"net/http"
	"runtime"
	"time"

	"github.com/apex/log"
)

// Middleware times HTTP handlers and annotates responses with performance
// headers when profiling is enabled.
type Middleware struct {
	enabled bool
}

// NewMiddleware creates the request timing middleware.
func NewMiddleware(enabled bool) *Middleware {
	return &Middleware{enabled: enabled}
}

// Handler wraps an HTTP handler with timing instrumentation.
func (m *Middleware) Handler(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			handler.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		startGoroutines := runtime.NumGoroutine()

		w.Header().Set("X-Handler-Name", name)

		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		log.WithFields(log.Fields{
			"handler":    name,
			"status":     wrapped.statusCode,
			"duration":   duration,
			"goroutines": runtime.NumGoroutine() - startGoroutines,
		}).Debug("request handled")
	})
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}
