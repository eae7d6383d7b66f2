package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSentence(t *testing.T) {
	before := testutil.ToFloat64(sentencesTotal.WithLabelValues(StatusFailed))
	ObserveSentence(StatusFailed, 3*time.Millisecond, 0)
	ObserveSentence(StatusFailed, time.Millisecond, 12)

	if got := testutil.ToFloat64(sentencesTotal.WithLabelValues(StatusFailed)) - before; got != 2 {
		t.Errorf("failed sentences = %v, want 2", got)
	}
}

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("429"))
	ObserveRequest(http.StatusTooManyRequests)
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("429")) - before; got != 1 {
		t.Errorf("429 requests = %v, want 1", got)
	}
}

func TestCollectorsRegistered(t *testing.T) {
	ObserveWait(time.Millisecond)
	ObserveSentence(StatusOK, time.Millisecond, 40)
	ObserveRequest(http.StatusOK)
	for _, name := range []string{
		"werger_sentences_total",
		"werger_sentence_duration_seconds",
		"werger_worker_wait_seconds",
		"werger_http_requests_total",
	} {
		n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, name)
		if err != nil {
			t.Fatalf("gather %s: %v", name, err)
		}
		if n == 0 {
			t.Errorf("%s not exported", name)
		}
	}
}
