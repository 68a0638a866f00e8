package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "yank_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "relay"},
		},
		[]string{"date", "sha", "version"},
	)

	relayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yank_relay_requests_total",
			Help: "Relay calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yank_relay_duration_seconds",
			Help:    "Relay call duration from submission to end of upstream stream",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	relayFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yank_relay_fragments_total",
			Help: "Decoded response fragments per model",
		},
		[]string{"model"},
	)

	skippedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yank_decode_skipped_lines_total",
			Help: "Upstream lines that could not be decoded as JSON",
		},
	)

	relayInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yank_relay_in_flight",
			Help: "Relay calls currently in progress",
		},
	)

	oversizedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yank_decode_oversized_lines_total",
			Help: "Upstream lines longer than the configured max line length",
		},
	)

	captures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yank_captures_total",
			Help: "Captures received from the extension",
		},
	)
)

// OtherModel is the model label used for models that were never configured
// or listed by the upstream. Request bodies choose the model, so raw names
// would give the relay series unbounded cardinality.
const OtherModel = "other"

var knownModels sync.Map

// AllowModels marks model names as safe to use as metric labels.
func AllowModels(names ...string) {
	for _, n := range names {
		if n != "" {
			knownModels.Store(n, struct{}{})
		}
	}
}

// ModelLabel returns model if it is known, otherwise OtherModel. An untagged
// name also matches its ":latest" entry.
func ModelLabel(model string) string {
	if _, ok := knownModels.Load(model); ok {
		return model
	}
	if !strings.Contains(model, ":") {
		if _, ok := knownModels.Load(model + ":latest"); ok {
			return model
		}
	}
	return OtherModel
}

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, relayRequests, relayDuration, relayFragments, skippedLines, relayInFlight, oversizedLines, captures)
}

// SetServerBuildInfo sets the build info metric for the server.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordRelay counts a finished relay call and observes its duration.
func RecordRelay(model, outcome string, d time.Duration) {
	model = ModelLabel(model)
	relayRequests.WithLabelValues(model, outcome).Inc()
	relayDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordFragments adds n decoded fragments for a model.
func RecordFragments(model string, n int) {
	if n > 0 {
		relayFragments.WithLabelValues(ModelLabel(model)).Add(float64(n))
	}
}

// RecordSkippedLines adds n undecodable upstream lines.
func RecordSkippedLines(n int) {
	if n > 0 {
		skippedLines.Add(float64(n))
	}
}

// RecordOversizedLines adds n upstream lines over the max line length.
func RecordOversizedLines(n int) {
	if n > 0 {
		oversizedLines.Add(float64(n))
	}
}

// SetInFlight reports the number of relay calls in progress.
func SetInFlight(n int64) {
	relayInFlight.Set(float64(n))
}

// RecordCapture counts a stored capture.
func RecordCapture() {
	captures.Inc()
}
