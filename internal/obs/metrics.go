package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	taskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetpipe_task_runs_total",
			Help: "Total number of task invocations.",
		},
		[]string{"task", "outcome"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetpipe_task_duration_seconds",
			Help:    "Task invocation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	fileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetpipe_file_errors_total",
			Help: "Per-file transform errors caught by guarded pipelines.",
		},
		[]string{"task"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetpipe_image_cache_lookups_total",
			Help: "Image cache lookups by result.",
		},
		[]string{"result"},
	)

	reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetpipe_reload_broadcasts_total",
			Help: "Live reload broadcasts by kind.",
		},
		[]string{"kind"},
	)

	reloadClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assetpipe_reload_clients",
		Help: "Connected live reload clients.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetpipe_http_requests_total",
			Help: "Dev server requests.",
		},
		[]string{"method", "status"},
	)
)

// Init registers metrics with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			taskRunsTotal,
			taskDuration,
			fileErrorsTotal,
			cacheLookupsTotal,
			reloadsTotal,
			reloadClients,
			httpRequestsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one task invocation.
func ObserveTask(task string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	taskRunsTotal.WithLabelValues(task, outcome).Inc()
	taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

// FileErrors counts guarded per-file failures.
func FileErrors(task string, n int) {
	if n > 0 {
		fileErrorsTotal.WithLabelValues(task).Add(float64(n))
	}
}

// CacheLookup counts an image cache hit or miss.
func CacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// ReloadBroadcast counts a live reload message of the given kind.
func ReloadBroadcast(kind string) {
	reloadsTotal.WithLabelValues(kind).Inc()
}

// ReloadClients tracks connected live reload sessions.
func ReloadClients(delta int) {
	reloadClients.Add(float64(delta))
}

// Instrument counts dev server requests by status.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
