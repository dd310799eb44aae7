package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"hooksync/internal/platform/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Observe records request count and latency under the route pattern, not the
// raw path, so path parameters do not explode label cardinality.
func Observe(route string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next(rec, r)

			elapsed := time.Since(start)
			status := strconv.Itoa(rec.status)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(elapsed.Seconds())

			log.Debug().
				Str("method", r.Method).
				Str("route", route).
				Int("status", rec.status).
				Dur("duration", elapsed).
				Msg("request served")
		}
	}
}
