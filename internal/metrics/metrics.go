// Package metrics holds the prometheus collectors of the explorer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crd_explorer"

// Recorder records series loads, polynomial fits, ingested readings and
// HTTP requests. Collectors live on their own registry so tests can build
// as many recorders as they like.
type Recorder struct {
	registry *prometheus.Registry

	loadsTotal    *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	seriesPoints  prometheus.Histogram
	fitsTotal     *prometheus.CounterVec
	fitDuration   *prometheus.HistogramVec
	ingestTotal   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpResponses *prometheus.HistogramVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		loadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "loads_total",
			Help:      "Series loads by station and outcome.",
		}, []string{"station", "outcome"}),
		loadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "load_duration_seconds",
			Help:      "Duration of series loads.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome"}),
		seriesPoints: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "points",
			Help:      "Number of readings in loaded series.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		fitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "smoothing",
			Name:      "fits_total",
			Help:      "Polynomial fits by degree and outcome.",
		}, []string{"degree", "outcome"}),
		fitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "smoothing",
			Name:      "fit_duration_seconds",
			Help:      "Duration of polynomial fits.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ingestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "readings_total",
			Help:      "Readings received over MQTT by outcome.",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method", "class"}),
		httpResponses: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size.",
			Buckets:   []float64{200, 500, 1_000, 2_000, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000},
		}, []string{"route", "method", "class"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry in the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveLoad(station, outcome string, d time.Duration, points int) {
	r.loadsTotal.WithLabelValues(station, outcome).Inc()
	r.loadDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == "ok" {
		r.seriesPoints.Observe(float64(points))
	}
}

func (r *Recorder) ObserveFit(degree int, outcome string, d time.Duration) {
	r.fitsTotal.WithLabelValues(strconv.Itoa(degree), outcome).Inc()
	r.fitDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *Recorder) ObserveIngest(outcome string) {
	r.ingestTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveRequest(route, method string, status int, d time.Duration, bytes int) {
	class := StatusClass(status)
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method, class).Observe(d.Seconds())
	r.httpResponses.WithLabelValues(route, method, class).Observe(float64(bytes))
}

func StatusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
