package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	FetchOK         = "ok"
	FetchNotReady   = "not_ready"
	FetchBusy       = "busy"
	FetchNoResponse = "no_response"
	FetchLinkReset  = "link_reset"
	FetchError      = "error"
)

var (
	registerOnce sync.Once

	fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mslogger",
			Subsystem: "link",
			Name:      "fetches_total",
			Help:      "Request/response exchanges with the ECU by result.",
		},
		[]string{"result"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mslogger",
			Subsystem: "link",
			Name:      "fetch_duration_seconds",
			Help:      "Time from request write to response or failure.",
			Buckets:   []float64{.002, .005, .01, .02, .05, .1, .15, .25},
		},
		[]string{"result"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mslogger",
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Received frames discarded before reaching a caller.",
		},
		[]string{"reason"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mslogger",
			Subsystem: "link",
			Name:      "reconnect_attempts_total",
			Help:      "Attempts to reopen the serial port after link loss.",
		},
		[]string{"port", "success"},
	)
	samples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mslogger",
			Subsystem: "acquire",
			Name:      "samples_total",
			Help:      "Decoded samples delivered to consumers.",
		},
	)
	watchdogFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mslogger",
			Subsystem: "acquire",
			Name:      "watchdog_fetches_total",
			Help:      "Cycles forced by the watchdog.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(fetches, fetchDuration, framesDropped, reconnects, samples, watchdogFires)
	})
}

func RecordFetch(result string, duration time.Duration) {
	RegisterMetrics()
	fetches.WithLabelValues(result).Inc()
	fetchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func RecordFrameDropped(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func RecordReconnect(port string, success bool) {
	RegisterMetrics()
	label := "false"
	if success {
		label = "true"
	}
	reconnects.WithLabelValues(port, label).Inc()
}

func RecordSample() {
	RegisterMetrics()
	samples.Inc()
}

func RecordWatchdog() {
	RegisterMetrics()
	watchdogFires.Inc()
}
