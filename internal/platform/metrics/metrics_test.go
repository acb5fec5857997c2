package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAuthSyncTransitionsCounts(t *testing.T) {
	before := testutil.ToFloat64(AuthSyncTransitions.WithLabelValues("authorized"))
	AuthSyncTransitions.WithLabelValues("authorized").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AuthSyncTransitions.WithLabelValues("authorized")))
}

func TestAuthStateStreamsGauge(t *testing.T) {
	AuthStateStreams.Inc()
	AuthStateStreams.Dec()
	assert.GreaterOrEqual(t, testutil.ToFloat64(AuthStateStreams), float64(0))
}
