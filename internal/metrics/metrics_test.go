package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTP_RecordsSample(t *testing.T) {
	before := testutil.CollectAndCount(HTTPRequests)

	ObserveHTTP("/test-route", http.MethodGet, http.StatusTeapot, time.Now().Add(-10*time.Millisecond))

	require.Equal(t, before+1, testutil.CollectAndCount(HTTPRequests))
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(Votes.WithLabelValues("switch"))
	Votes.WithLabelValues("switch").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(Votes.WithLabelValues("switch")))
}
