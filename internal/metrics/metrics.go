package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazycrm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazycrm_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	activeStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lazycrm_board_streams_active",
			Help: "Number of open board websocket streams",
		},
	)

	storeMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazycrm_store_mutations_total",
			Help: "Lead store mutations by operation and result",
		},
		[]string{"op", "result"},
	)

	storeRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazycrm_store_rollbacks_total",
			Help: "Optimistic changes reverted after a failed write",
		},
		[]string{"op"},
	)

	realtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazycrm_store_realtime_events_total",
			Help: "Realtime change events applied to the lead store",
		},
		[]string{"table", "type"},
	)

	dragGestures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazycrm_drag_gestures_total",
			Help: "Finished drag gestures by outcome",
		},
		[]string{"outcome"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

func RecordMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeMutations.WithLabelValues(op, result).Inc()
}

func RecordRollback(op string) {
	storeRollbacks.WithLabelValues(op).Inc()
}

func RecordRealtimeEvent(table, eventType string) {
	realtimeEvents.WithLabelValues(table, eventType).Inc()
}

func RecordGesture(outcome string) {
	dragGestures.WithLabelValues(outcome).Inc()
}

func StreamOpened() {
	activeStreams.Inc()
}

func StreamClosed() {
	activeStreams.Dec()
}
