// Package metrics holds the decoder's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sentence outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusError  = "error"
)

var (
	// sentencesTotal counts translated sentences.
	// Labels: "ok", "failed" (no derivation, passed through), "error"
	sentencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werger_sentences_total",
		Help: "Sentences translated by outcome",
	}, []string{"status"})

	sentenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "werger_sentence_duration_seconds",
		Help:    "Time to translate one sentence, excluding the wait for a worker",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	chartNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "werger_chart_nodes",
		Help:    "Hypergraph nodes built per sentence",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})

	workerWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "werger_worker_wait_seconds",
		Help:    "Time a sentence waited for a free worker",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "werger_http_requests_total",
		Help: "HTTP translate requests by status code",
	}, []string{"code"})
)

// ObserveSentence records one finished sentence.
func ObserveSentence(status string, elapsed time.Duration, nodes int) {
	sentencesTotal.WithLabelValues(status).Inc()
	sentenceDuration.Observe(elapsed.Seconds())
	if nodes > 0 {
		chartNodes.Observe(float64(nodes))
	}
}

// ObserveWait records the time spent waiting for a worker.
func ObserveWait(wait time.Duration) {
	workerWait.Observe(wait.Seconds())
}

// ObserveRequest records one HTTP request by status code.
func ObserveRequest(code int) {
	httpRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}
