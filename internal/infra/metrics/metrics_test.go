package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRPC("eth_getLogs", "ok", time.Second)
	m.ObserveChunk("ok", 1, 0)
	m.ObserveHub("vp", "ok")
	m.ObserveLookup("resolved")
	m.ObservePause("rpc")
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveChunk("ok", 4, 1)
	m.ObserveChunk("skipped", 0, 0)
	m.ObserveLookup("fallback")
	m.ObservePause("hub")
	m.ObservePause("hub")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Chunks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Chunks.WithLabelValues("skipped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TransferLogs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MalformedLogs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PowerLookups.WithLabelValues("fallback")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ThrottlePauses.WithLabelValues("hub")))
}
