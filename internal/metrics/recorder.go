package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rohankatakam/harvest/internal/logging"
	"github.com/rohankatakam/harvest/internal/models"
)

const namespace = "harvest"

// Recorder holds the extraction metrics. All methods are safe on a nil
// *Recorder so callers that run without metrics can pass nil.
type Recorder struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	actions        *prometheus.CounterVec
	missingParents *prometheus.CounterVec
	remoteCalls    *prometheus.CounterVec
	remoteQuota    prometheus.Gauge
	runDuration    *prometheus.HistogramVec
}

// NewRecorder registers the collectors on registry, or on a fresh registry when nil
func NewRecorder(registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Events persisted, by source",
			},
			[]string{"source"},
		),
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Actions persisted, by source and kind",
			},
			[]string{"source", "kind"},
		),
		missingParents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missing_parents_total",
				Help:      "Parent references that did not resolve to a persisted event",
			},
			[]string{"source"},
		),
		remoteCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Calls made to the remote repository backend",
			},
			[]string{"backend", "operation", "result"},
		),
		remoteQuota: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_quota_remaining",
				Help:      "Last observed remaining API quota",
			},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a full source extraction",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"source", "result"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) EventSaved(source string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(source).Inc()
}

func (r *Recorder) ActionSaved(source string, kind models.ActionKind) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(source, kind.String()).Inc()
}

func (r *Recorder) MissingParent(source string) {
	if r == nil {
		return
	}
	r.missingParents.WithLabelValues(source).Inc()
}

// RemoteCall counts one backend call; err decides the result label
func (r *Recorder) RemoteCall(backend, operation string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.remoteCalls.WithLabelValues(backend, operation, result).Inc()
}

// SetQuota records remaining quota. Negative values mean unknown and are ignored.
func (r *Recorder) SetQuota(remaining int) {
	if r == nil || remaining < 0 {
		return
	}
	r.remoteQuota.Set(float64(remaining))
}

func (r *Recorder) ObserveRun(source string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.runDuration.WithLabelValues(source, result).Observe(d.Seconds())
}

// Handler returns the scrape endpoint for this recorder's registry
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Component("metrics").Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
